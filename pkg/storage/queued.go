package storage

import (
	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/downloader"
)

// QueuedCountry is one entry of the download queue. It exists only
// between enqueue and a terminal outcome, and at most one instance per
// country is in the queue at a time.
type QueuedCountry struct {
	// ID is the catalog node being downloaded.
	ID catalog.CountryID

	// Requested is the normalized kind set the entry was enqueued with.
	// It is remembered so a failed entry can be restored as-is.
	Requested catalog.Kind

	// Kinds are the kinds still to download, Current included. Kinds of
	// one country download sequentially, base map first.
	Kinds catalog.Kind

	// Current is the kind currently (or next) in flight.
	Current catalog.Kind

	// Progress is the cumulative byte progress across all of the
	// country's requested kinds.
	Progress downloader.Progress

	// completed counts the bytes of already finished kinds.
	completed int64
}

func newQueuedCountry(id catalog.CountryID, kinds catalog.Kind, totalBytes int64) *QueuedCountry {
	return &QueuedCountry{
		ID:        id,
		Requested: kinds,
		Kinds:     kinds,
		Current:   kinds.First(),
		Progress:  downloader.Progress{Total: totalBytes},
	}
}

// advance marks the current kind as finished and switches to the next
// one. It reports whether any kind is left to download.
func (qc *QueuedCountry) advance(finishedBytes int64) bool {
	qc.completed += finishedBytes
	qc.Progress.Downloaded = qc.completed
	qc.Kinds = qc.Kinds.Without(qc.Current)
	qc.Current = qc.Kinds.First()
	return qc.Kinds != 0
}
