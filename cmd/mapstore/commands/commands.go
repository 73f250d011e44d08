package commands

import (
	"context"

	"github.com/walteh/mapstore/cmd/mapstore/opts"
	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/storage"
)

// OptsFactory builds the shared command dependencies. Commands call it in
// RunE, after cobra has parsed the persistent flags.
type OptsFactory func(ctx context.Context) (*opts.RootOpts, error)

// statusText maps a status to the text shown in console listings.
func statusText(st storage.Status) string {
	switch st {
	case storage.NotDownloaded:
		return "not downloaded"
	case storage.InQueue:
		return "queued"
	case storage.Downloading:
		return "downloading"
	case storage.OnDisk:
		return "on disk"
	case storage.OnDiskOutOfDate:
		return "out of date"
	case storage.Failed:
		return "failed"
	default:
		return st.String()
	}
}

// resolveIDs turns command arguments into catalog ids, defaulting to the
// catalog root when no argument is given.
func resolveIDs(store *storage.Storage, args []string) []catalog.CountryID {
	if len(args) == 0 {
		return []catalog.CountryID{store.RootID()}
	}
	ids := make([]catalog.CountryID, 0, len(args))
	for _, arg := range args {
		ids = append(ids, catalog.CountryID(arg))
	}
	return ids
}
