// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"os"

	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/downloader"
	"gitlab.com/tozd/go/errors"
)

// 📊 Status is the download state of a catalog node.
type Status int

const (
	// NotDownloaded means no local files, not queued, not failed.
	NotDownloaded Status = iota
	// InQueue means the country waits in the download queue.
	InQueue
	// Downloading means the country is the head of the queue.
	Downloading
	// OnDisk means local files exist at the current version.
	OnDisk
	// OnDiskOutOfDate means local files exist but predate the current
	// data version.
	OnDiskOutOfDate
	// Failed means the most recent download attempt failed and has not
	// been restored or deleted yet.
	Failed
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case NotDownloaded:
		return "not_downloaded"
	case InQueue:
		return "in_queue"
	case Downloading:
		return "downloading"
	case OnDisk:
		return "on_disk"
	case OnDiskOutOfDate:
		return "on_disk_out_of_date"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorCode is the error taxonomy surfaced through the error observer
// channel. Callers must tolerate NoError and treat it as a no-op.
type ErrorCode int

const (
	NoError ErrorCode = iota
	NotEnoughSpace
	NoInternetConnection
)

// String returns a string representation of the error code.
func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "no_error"
	case NotEnoughSpace:
		return "not_enough_space"
	case NoInternetConnection:
		return "no_internet_connection"
	default:
		return "unknown"
	}
}

// errorCodeFor maps a transfer failure onto the caller-facing taxonomy.
// Anything that is not a space problem is reported as connectivity.
func errorCodeFor(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	if errors.Is(err, downloader.ErrNotEnoughSpace) {
		return NotEnoughSpace
	}
	return NoInternetConnection
}

// 📋 NodeAttrs is the typed attribute structure returned for any catalog
// node. For group nodes the counters distinguish "fully done", "some
// done" and "none done"; Status is only a dominant-state hint.
type NodeAttrs struct {
	ID       catalog.CountryID
	ParentID catalog.CountryID
	Name     string

	// Status is the leaf status, or the dominant-state hint for groups.
	Status Status

	// MapsDownloaded and MapsTotal count leaves under the node that are
	// present on disk. For a leaf MapsTotal is 1.
	MapsDownloaded int
	MapsTotal      int

	// Size is the server-side size of the subtree's base maps.
	Size int64
	// LocalSize is the byte count actually on disk.
	LocalSize int64

	// LocalVersion is the latest local file version of a leaf, 0 for
	// groups and absent leaves.
	LocalVersion int64

	// Progress aggregates bytes across the node's enqueued descendants.
	Progress downloader.Progress
}

// UpdateInfo sizes an "update all" action over every out-of-date leaf.
type UpdateInfo struct {
	NumFilesToUpdate int
	UpdateSizeBytes  int64
}

// leafStatusLocked computes the status of a single leaf. Failure and
// queue membership are mutually exclusive by construction and always win
// over registry-derived states.
func (s *Storage) leafStatusLocked(id catalog.CountryID, checkVersion bool) Status {
	if _, failed := s.failed[id]; failed {
		return Failed
	}
	if qc := s.findInQueueLocked(id); qc != nil {
		if len(s.queue) > 0 && s.queue[0] == qc {
			return Downloading
		}
		return InQueue
	}
	if lf, ok := s.reg.Latest(id); ok {
		if checkVersion && lf.Version < s.currentVersion {
			return OnDiskOutOfDate
		}
		return OnDisk
	}
	return NotDownloaded
}

// Status returns the fast status of a node: local file versions are not
// compared against the current data version. Group nodes report their
// dominant-state hint.
func (s *Storage) Status(id catalog.CountryID) (Status, error) {
	return s.status(id, false)
}

// StatusEx is the slow variant of Status: it additionally reports
// OnDiskOutOfDate for local files older than the current data version.
func (s *Storage) StatusEx(id catalog.CountryID) (Status, error) {
	return s.status(id, true)
}

func (s *Storage) status(id catalog.CountryID, checkVersion bool) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.tree.Country(id)
	if err != nil {
		return NotDownloaded, err
	}
	if c.IsLeaf() {
		return s.leafStatusLocked(id, checkVersion), nil
	}
	attrs := s.nodeAttrsLocked(c)
	return attrs.Status, nil
}

// NodeAttrs returns the attribute structure for any node.
func (s *Storage) NodeAttrs(id catalog.CountryID) (NodeAttrs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.tree.Country(id)
	if err != nil {
		return NodeAttrs{}, err
	}
	return s.nodeAttrsLocked(c), nil
}

// nodeAttrsLocked aggregates leaf states over the subtree of c.
//
// Dominant-state precedence for groups: in-flight work first (Downloading,
// then InQueue), then Failed, then OnDiskOutOfDate, then full coverage,
// then NotDownloaded. The counters always carry the exact coverage.
func (s *Storage) nodeAttrsLocked(c *catalog.Country) NodeAttrs {
	attrs := NodeAttrs{
		ID:       c.ID,
		ParentID: c.Parent,
		Name:     c.Name,
	}

	var leaves []catalog.CountryID
	if c.IsLeaf() {
		leaves = []catalog.CountryID{c.ID}
	} else {
		leaves, _ = s.tree.LeavesUnder(c.ID)
	}

	var anyDownloading, anyQueued, anyFailed, anyOutOfDate bool
	for _, leafID := range leaves {
		leaf, err := s.tree.Country(leafID)
		if err != nil {
			continue
		}
		attrs.MapsTotal++
		attrs.Size += leaf.Size(catalog.KindMap)

		switch s.leafStatusLocked(leafID, true) {
		case Downloading:
			anyDownloading = true
		case InQueue:
			anyQueued = true
		case Failed:
			anyFailed = true
		case OnDiskOutOfDate:
			anyOutOfDate = true
			attrs.MapsDownloaded++
		case OnDisk:
			attrs.MapsDownloaded++
		}

		if lf, ok := s.reg.Latest(leafID); ok {
			attrs.LocalSize += lf.SizeOnDisk()
			if c.IsLeaf() {
				attrs.LocalVersion = lf.Version
			}
		}
	}
	attrs.Progress = s.aggregateProgressLocked(c.ID)

	switch {
	case anyDownloading:
		attrs.Status = Downloading
	case anyQueued:
		attrs.Status = InQueue
	case anyFailed:
		attrs.Status = Failed
	case anyOutOfDate:
		attrs.Status = OnDiskOutOfDate
	case attrs.MapsTotal > 0 && attrs.MapsDownloaded == attrs.MapsTotal:
		attrs.Status = OnDisk
	default:
		attrs.Status = NotDownloaded
	}
	return attrs
}

// aggregateProgressLocked sums byte progress across the enqueued
// descendants of a node (the node itself included).
func (s *Storage) aggregateProgressLocked(id catalog.CountryID) downloader.Progress {
	var agg downloader.Progress
	for _, qc := range s.queue {
		if qc.ID == id || s.hasAncestorLocked(qc.ID, id) {
			agg.Downloaded += qc.Progress.Downloaded
			agg.Total += qc.Progress.Total
		}
	}
	return agg
}

func (s *Storage) hasAncestorLocked(id, ancestor catalog.CountryID) bool {
	for _, a := range s.tree.Ancestors(id) {
		if a == ancestor {
			return true
		}
	}
	return false
}

// GetUpdateInfo sums the bytes required to bring every out-of-date leaf
// current. It is used to size an "update all" action.
func (s *Storage) GetUpdateInfo() UpdateInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var info UpdateInfo
	leaves, err := s.tree.LeavesUnder(s.tree.Root())
	if err != nil {
		return info
	}
	for _, id := range leaves {
		if s.leafStatusLocked(id, true) != OnDiskOutOfDate {
			continue
		}
		lf, ok := s.reg.Latest(id)
		if !ok {
			continue
		}
		c, err := s.tree.Country(id)
		if err != nil {
			continue
		}
		info.NumFilesToUpdate++
		info.UpdateSizeBytes += c.Size(lf.Kinds)
	}
	return info
}

// IsNodeDownloaded reports whether every leaf under the node is present
// on disk. Fake/custom files never count.
func (s *Storage) IsNodeDownloaded(id catalog.CountryID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaves, err := s.tree.LeavesUnder(id)
	if err != nil || len(leaves) == 0 {
		return false
	}
	for _, leafID := range leaves {
		if _, ok := s.reg.Latest(leafID); !ok {
			return false
		}
	}
	return true
}

// localSizeLocked returns the on-disk byte count of the selected kinds of
// a country's latest version.
func (s *Storage) localSizeLocked(id catalog.CountryID, kinds catalog.Kind) int64 {
	lf, ok := s.reg.Latest(id)
	if !ok {
		return 0
	}
	var total int64
	for _, k := range kinds.Split() {
		if !lf.Kinds.Has(k) {
			continue
		}
		if info, err := os.Stat(lf.Path(k)); err == nil {
			total += info.Size()
		}
	}
	return total
}
