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
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/downloader"
	"github.com/walteh/mapstore/pkg/registry"
	"gitlab.com/tozd/go/errors"
)

// 🗄️ Storage manages downloading, updating and deleting of map files: the
// country catalog, the registry of files actually on disk, the single-
// flight download queue, and the observers that are told about it all.
//
// All state is guarded by one mutex. The external downloader invokes its
// callbacks from its own goroutines; they re-enter through the same mutex,
// which serializes them against caller operations. The lock is never held
// across a downloader call or an observer callback.
type Storage struct {
	mu sync.Mutex

	tree *catalog.Tree
	reg  *registry.Registry
	dl   downloader.Downloader

	// currentVersion is the catalog/server epoch local files are compared
	// against. It only advances on migration.
	currentVersion int64

	dataDir   string
	queuePath string

	queue       []*QueuedCountry
	failed      map[catalog.CountryID]struct{}
	failedKinds map[catalog.CountryID]catalog.Kind

	// servers is the resolved mirror list, nil until first needed.
	servers   []string
	resolving bool

	// attempt tokens tie downloader callbacks to the transfer they were
	// created for; a stale token makes the callback a no-op.
	attempt       uint64
	activeAttempt uint64
	activeHandle  downloader.Handle

	nextStatusSlot  int
	statusSubs      map[int]StatusCallback
	nextCountrySlot int
	countrySubs     map[int]CountryObserver

	pendingStatus   []catalog.CountryID
	pendingErrors   []errorEvent
	pendingProgress []progressEvent

	onMapRegistered func(*registry.LocalFile)
}

// Options configures a Storage.
type Options struct {
	// CatalogPath is the countries definition file. Load failure is
	// fatal: the catalog cannot be partially loaded.
	CatalogPath string

	// Tree overrides CatalogPath with an already loaded catalog. Meant
	// for tests.
	Tree *catalog.Tree

	// DataDir is the writable root the per-version map directories live
	// under.
	DataDir string

	// QueuePath is where the pending queue is persisted across process
	// restarts. Empty disables persistence.
	QueuePath string

	// Downloader is the external transport.
	Downloader downloader.Downloader

	// IgnorePatterns extend the registry scan's ignore list.
	IgnorePatterns []string

	// OnMapRegistered, when set, is called after all requested files of
	// a country finished downloading and were registered. It runs
	// outside the storage lock.
	OnMapRegistered func(*registry.LocalFile)
}

// New creates a storage manager. The catalog is loaded here; a catalog
// load failure is the only unrecoverable construction error.
func New(ctx context.Context, opts Options) (*Storage, error) {
	if opts.Downloader == nil {
		return nil, errors.New("downloader is required")
	}
	if opts.DataDir == "" {
		return nil, errors.New("data dir is required")
	}

	tree := opts.Tree
	if tree == nil {
		var err error
		tree, err = catalog.Load(ctx, opts.CatalogPath)
		if err != nil {
			return nil, errors.Errorf("loading catalog: %w", err)
		}
	}

	ignore := append([]string{"*.downloading"}, opts.IgnorePatterns...)
	s := &Storage{
		tree:            tree,
		reg:             registry.New(opts.DataDir, registry.Options{IgnorePatterns: ignore}),
		dl:              opts.Downloader,
		currentVersion:  tree.Version(),
		dataDir:         opts.DataDir,
		queuePath:       opts.QueuePath,
		failed:          make(map[catalog.CountryID]struct{}),
		failedKinds:     make(map[catalog.CountryID]catalog.Kind),
		statusSubs:      make(map[int]StatusCallback),
		countrySubs:     make(map[int]CountryObserver),
		onMapRegistered: opts.OnMapRegistered,
	}
	return s, nil
}

// RegisterAllLocalMaps scans the data directory and rebuilds the local
// file registry. Previously known local files are forgotten.
func (s *Storage) RegisterAllLocalMaps(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.ScanAndRegister(ctx, s.tree); err != nil {
		return errors.Errorf("registering local maps: %w", err)
	}
	return nil
}

// CurrentVersion returns the current catalog/server data version.
func (s *Storage) CurrentVersion() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentVersion
}

// SetCurrentVersionForTesting overrides the data version. Testing only.
func (s *Storage) SetCurrentVersionForTesting(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentVersion = v
}

// RootID returns the id of the catalog root.
func (s *Storage) RootID() catalog.CountryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Root()
}

// Children returns the ordered child ids of a node.
func (s *Storage) Children(id catalog.CountryID) ([]catalog.CountryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Children(id)
}

// IsInCountryTree reports whether id resolves to a catalog node.
func (s *Storage) IsInCountryTree(id catalog.CountryID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Contains(id)
}

// CountryName returns the display name of a node.
func (s *Storage) CountryName(id catalog.CountryID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.tree.Country(id)
	if err != nil {
		return "", err
	}
	return c.Name, nil
}

// CountriesCount returns the number of leaves under a node.
func (s *Storage) CountriesCount(id catalog.CountryID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.CountriesCount(id)
}

// FindAllByFile returns every catalog entry backed by the given file base
// name. Callers must handle a sequence, not a single result.
func (s *Storage) FindAllByFile(name string) []catalog.CountryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.FindAllByFile(name)
}

// GroupAndCountry returns the display names of a node's nearest group and
// of the node itself.
func (s *Storage) GroupAndCountry(id catalog.CountryID) (group, country string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.GroupAndCountry(id)
}

// CountrySize returns the on-disk and server-side sizes in bytes of the
// selected kinds, summed over the node's subtree.
func (s *Storage) CountrySize(id catalog.CountryID, kinds catalog.Kind) (local, remote int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaves, err := s.tree.LeavesUnder(id)
	if err != nil {
		return 0, 0, err
	}
	for _, leafID := range leaves {
		c, err := s.tree.Country(leafID)
		if err != nil {
			continue
		}
		remote += c.Size(kinds)
		local += s.localSizeLocked(leafID, kinds)
	}
	return local, remote, nil
}

// LatestLocalFile returns the most recent local file of a country.
func (s *Storage) LatestLocalFile(id catalog.CountryID) (*registry.LocalFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Latest(id)
}

// LocalRealMaps returns the sorted ids of catalog countries present on
// disk. Fake/custom files and base world files are excluded.
func (s *Storage) LocalRealMaps() []catalog.CountryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.RealCountries()
}

// LocalMaps returns every local file, fake/custom files included.
func (s *Storage) LocalMaps() []*registry.LocalFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.AllLocal()
}

// DownloadedCount returns the number of catalog countries on disk,
// excluding fake/custom files.
func (s *Storage) DownloadedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.DownloadedCount()
}

// DownloadedChildren lists the downloaded content under parent the way a
// downloader UI wants it: a direct child with two or more downloaded
// leaves appears as itself, a child with exactly one appears as that
// leaf, and a child with none is omitted. Fake/custom files never appear.
func (s *Storage) DownloadedChildren(parent catalog.CountryID) ([]catalog.CountryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children, err := s.tree.Children(parent)
	if err != nil {
		return nil, err
	}
	var out []catalog.CountryID
	for _, childID := range children {
		child, err := s.tree.Country(childID)
		if err != nil {
			continue
		}
		if child.IsLeaf() {
			if _, ok := s.reg.Latest(childID); ok {
				out = append(out, childID)
			}
			continue
		}
		leaves, err := s.tree.LeavesUnder(childID)
		if err != nil {
			continue
		}
		var downloaded []catalog.CountryID
		for _, leafID := range leaves {
			if _, ok := s.reg.Latest(leafID); ok {
				downloaded = append(downloaded, leafID)
			}
		}
		switch {
		case len(downloaded) == 1:
			out = append(out, downloaded[0])
		case len(downloaded) > 1:
			out = append(out, childID)
		}
	}
	return out, nil
}

// IsDownloadInProgress reports whether any download is queued or active.
func (s *Storage) IsDownloadInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0
}

// CurrentDownloading returns the country at the head of the queue.
func (s *Storage) CurrentDownloading() (catalog.CountryID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return catalog.None, false
	}
	return s.queue[0].ID, true
}

// Clear empties the download queue, the failed set and the local file
// registry. Disk contents are untouched.
func (s *Storage) Clear(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	s.mu.Lock()
	abort := s.invalidateTransferLocked()
	for _, qc := range s.queue {
		s.notifyStatusChangedLocked(qc.ID)
	}
	s.queue = nil
	s.failed = make(map[catalog.CountryID]struct{})
	s.failedKinds = make(map[catalog.CountryID]catalog.Kind)
	s.reg.Clear()
	s.mu.Unlock()

	if abort != "" {
		s.dl.Abort(abort)
	}
	s.flushNotifications()
	logger.Debug().Msg("storage cleared")
}

// invalidateTransferLocked detaches the in-flight transfer, if any, so
// that its late callbacks become no-ops. The returned handle must be
// aborted after the lock is released.
func (s *Storage) invalidateTransferLocked() downloader.Handle {
	handle := s.activeHandle
	s.activeHandle = ""
	s.activeAttempt = 0
	return handle
}

func (s *Storage) findInQueueLocked(id catalog.CountryID) *QueuedCountry {
	for _, qc := range s.queue {
		if qc.ID == id {
			return qc
		}
	}
	return nil
}
