package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/downloader"
	"github.com/walteh/mapstore/pkg/registry"
)

const testCatalogV1 = `{
	"version": 1,
	"root": {
		"id": "Countries",
		"children": [
			{"id": "A", "name": "Alpha", "map_size": 100, "routing_size": 10},
			{"id": "B", "name": "Beta", "map_size": 50, "routing_size": 5},
			{
				"id": "G", "name": "Gamma",
				"children": [
					{"id": "G1", "map_size": 10, "routing_size": 1},
					{"id": "G2", "map_size": 20, "routing_size": 2}
				]
			}
		]
	}
}`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "countries.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestStorage(t *testing.T) (*Storage, *downloader.Fake) {
	t.Helper()
	fake := downloader.NewFake("http://mirror")
	dataDir := t.TempDir()
	s, err := New(context.Background(), Options{
		CatalogPath: writeCatalog(t, testCatalogV1),
		DataDir:     dataDir,
		QueuePath:   filepath.Join(dataDir, "downloader", "queue.json"),
		Downloader:  fake,
	})
	require.NoError(t, err)
	return s, fake
}

// recorder collects observer callbacks for assertions.
type recorder struct {
	mu       sync.Mutex
	statuses []catalog.CountryID
	errors   []errorEvent
	changed  []catalog.CountryID
	progress []progressEvent
}

func (r *recorder) subscribe(s *Storage) (statusSlot, countrySlot int) {
	statusSlot = s.Subscribe(StatusCallback{
		OnStatusChanged: func(id catalog.CountryID) {
			r.mu.Lock()
			r.statuses = append(r.statuses, id)
			r.mu.Unlock()
		},
		OnError: func(id catalog.CountryID, code ErrorCode) {
			r.mu.Lock()
			r.errors = append(r.errors, errorEvent{id: id, code: code})
			r.mu.Unlock()
		},
	})
	countrySlot = s.SubscribeCountry(CountryObserver{
		OnCountryChanged: func(id catalog.CountryID) {
			r.mu.Lock()
			r.changed = append(r.changed, id)
			r.mu.Unlock()
		},
		OnProgress: func(id catalog.CountryID, p downloader.Progress) {
			r.mu.Lock()
			r.progress = append(r.progress, progressEvent{id: id, p: p})
			r.mu.Unlock()
		},
	})
	return statusSlot, countrySlot
}

func mustStatus(t *testing.T, s *Storage, id catalog.CountryID) Status {
	t.Helper()
	st, err := s.StatusEx(id)
	require.NoError(t, err)
	return st
}

func TestConstruction(t *testing.T) {
	t.Run("catalog_load_failure_is_fatal", func(t *testing.T) {
		_, err := New(context.Background(), Options{
			CatalogPath: writeCatalog(t, `{"version": 1`),
			DataDir:     t.TempDir(),
			Downloader:  downloader.NewFake(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading catalog")
	})

	t.Run("downloader_required", func(t *testing.T) {
		_, err := New(context.Background(), Options{
			CatalogPath: writeCatalog(t, testCatalogV1),
			DataDir:     t.TempDir(),
		})
		require.Error(t, err)
	})
}

func TestDefaultStatuses(t *testing.T) {
	s, _ := newTestStorage(t)

	// Nothing on disk, nothing queued, nothing failed: everything is
	// NotDownloaded.
	for _, id := range []catalog.CountryID{"A", "B", "G1", "G2"} {
		assert.Equal(t, NotDownloaded, mustStatus(t, s, id), "leaf %s", id)
	}
	st, err := s.Status("Countries")
	require.NoError(t, err)
	assert.Equal(t, NotDownloaded, st)

	_, err = s.Status("Atlantis")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestDownloadLifecycle(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)
	rec := &recorder{}
	rec.subscribe(s)

	require.True(t, s.DownloadNode(ctx, "A"))
	assert.Equal(t, Downloading, mustStatus(t, s, "A"))
	assert.True(t, s.IsDownloadInProgress())

	current, ok := s.CurrentDownloading()
	require.True(t, ok)
	assert.Equal(t, catalog.CountryID("A"), current)

	fr, ok := fake.Last()
	require.True(t, ok)
	assert.Equal(t, []string{"http://mirror/maps/1/A.mwm"}, fr.Request.URLs)
	assert.Equal(t, int64(100), fr.Request.Size)

	// Progress updates the byte counters, not the status.
	fake.Progress(fr.Handle, downloader.Progress{Downloaded: 40, Total: 100})
	rec.mu.Lock()
	require.NotEmpty(t, rec.progress)
	assert.Equal(t, catalog.CountryID("A"), rec.progress[0].id)
	assert.Equal(t, int64(40), rec.progress[0].p.Downloaded)
	rec.mu.Unlock()

	require.NoError(t, fake.Complete(fr.Handle))

	assert.Equal(t, OnDisk, mustStatus(t, s, "A"))
	assert.False(t, s.IsDownloadInProgress())

	lf, ok := s.LatestLocalFile("A")
	require.True(t, ok)
	assert.Equal(t, int64(1), lf.Version)
	assert.True(t, lf.Kinds.Has(catalog.KindMap))
	assert.FileExists(t, lf.Path(catalog.KindMap))

	// The root reflects 1 of 4 leaves downloaded.
	attrs, err := s.NodeAttrs("Countries")
	require.NoError(t, err)
	assert.Equal(t, 1, attrs.MapsDownloaded)
	assert.Equal(t, 4, attrs.MapsTotal)

	// Status changes propagated to the ancestor chain.
	rec.mu.Lock()
	assert.Contains(t, rec.statuses, catalog.CountryID("A"))
	assert.Contains(t, rec.statuses, catalog.CountryID("Countries"))
	assert.Contains(t, rec.changed, catalog.CountryID("A"))
	assert.Empty(t, rec.errors)
	rec.mu.Unlock()
}

func TestEnqueueIdempotence(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	require.True(t, s.DownloadNode(ctx, "A"), "duplicate enqueue is a defined no-op")

	assert.Len(t, fake.Requests(), 1, "one transfer for one country")
	assert.Equal(t, Downloading, mustStatus(t, s, "A"))

	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
	assert.Len(t, fake.Requests(), 1)

	// An already satisfied request enqueues nothing.
	require.True(t, s.DownloadNode(ctx, "A"))
	assert.Len(t, fake.Requests(), 1)
	assert.Equal(t, OnDisk, mustStatus(t, s, "A"))
}

func TestKindNormalization(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	// Requesting routing data implies the base map; the map downloads
	// first, then routing.
	require.True(t, s.DownloadCountry(ctx, "A", catalog.KindRouting))

	fr, _ := fake.Last()
	assert.Contains(t, fr.Request.URLs[0], "A.mwm")
	require.NoError(t, fake.Complete(fr.Handle))

	assert.Equal(t, Downloading, mustStatus(t, s, "A"), "routing file still in flight")
	fr, _ = fake.Last()
	assert.Contains(t, fr.Request.URLs[0], "A.mwm.routing")
	require.NoError(t, fake.Complete(fr.Handle))

	lf, ok := s.LatestLocalFile("A")
	require.True(t, ok)
	assert.Equal(t, catalog.KindAll, lf.Kinds)
	assert.Equal(t, OnDisk, mustStatus(t, s, "A"))

	// Deleting the base map also deletes routing data.
	require.True(t, s.DeleteCountry(ctx, "A", catalog.KindMap))
	_, ok = s.LatestLocalFile("A")
	assert.False(t, ok)
	assert.Equal(t, NotDownloaded, mustStatus(t, s, "A"))
}

func TestRoutingOnTopOfExistingMap(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))

	// The map is on disk and current, so only routing is fetched.
	require.True(t, s.DownloadCountry(ctx, "A", catalog.KindRouting))
	fr, _ = fake.Last()
	assert.Contains(t, fr.Request.URLs[0], "A.mwm.routing")
	require.NoError(t, fake.Complete(fr.Handle))
	assert.Len(t, fake.Requests(), 2)
}

func TestFailurePath(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)
	rec := &recorder{}
	rec.subscribe(s)

	require.True(t, s.DownloadNode(ctx, "A"))
	require.True(t, s.DownloadNode(ctx, "B"))
	assert.Equal(t, InQueue, mustStatus(t, s, "B"))

	fr, _ := fake.Last()
	fake.Fail(fr.Handle, downloader.ErrNoConnection)

	// A is out of the queue and failed; the queue moves on to B.
	assert.Equal(t, Failed, mustStatus(t, s, "A"))
	assert.Equal(t, Downloading, mustStatus(t, s, "B"))

	rec.mu.Lock()
	require.Len(t, rec.errors, 1, "exactly one error notification")
	assert.Equal(t, catalog.CountryID("A"), rec.errors[0].id)
	assert.Equal(t, NoInternetConnection, rec.errors[0].code)
	rec.mu.Unlock()

	// Restore clears the failed set and re-enters the queue.
	require.True(t, s.RestoreDownloading(ctx, "A"))
	assert.Equal(t, InQueue, mustStatus(t, s, "A"))

	fr, _ = fake.Last()
	require.NoError(t, fake.Complete(fr.Handle)) // B
	fr, _ = fake.Last()
	require.NoError(t, fake.Complete(fr.Handle)) // A
	assert.Equal(t, OnDisk, mustStatus(t, s, "A"))
	assert.Equal(t, OnDisk, mustStatus(t, s, "B"))
}

func TestNotEnoughSpaceErrorCode(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)
	rec := &recorder{}
	rec.subscribe(s)

	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ := fake.Last()
	fake.Fail(fr.Handle, downloader.ErrNotEnoughSpace)

	rec.mu.Lock()
	require.Len(t, rec.errors, 1)
	assert.Equal(t, NotEnoughSpace, rec.errors[0].code)
	rec.mu.Unlock()
	assert.Equal(t, Failed, mustStatus(t, s, "A"))
}

func TestCancellation(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	require.True(t, s.DownloadNode(ctx, "B"))

	// Cancelling the downloading head aborts the transfer and starts the
	// next queued country.
	fr, _ := fake.Last()
	require.True(t, s.CancelDownloading(ctx, "A"))
	assert.Equal(t, 1, fake.AbortCount())
	assert.Equal(t, NotDownloaded, mustStatus(t, s, "A"))
	assert.Equal(t, Downloading, mustStatus(t, s, "B"))

	// A late completion callback for the cancelled transfer is a no-op.
	fr.Request.OnComplete(nil)
	assert.Equal(t, NotDownloaded, mustStatus(t, s, "A"))
	_, ok := s.LatestLocalFile("A")
	assert.False(t, ok)

	// Cancelling a waiting entry removes it outright.
	require.True(t, s.DownloadNode(ctx, "G1"))
	assert.Equal(t, InQueue, mustStatus(t, s, "G1"))
	require.True(t, s.CancelDownloading(ctx, "G1"))
	assert.Equal(t, NotDownloaded, mustStatus(t, s, "G1"))
	assert.Equal(t, 1, fake.AbortCount(), "waiting entries need no abort")

	// Cancelling something that is neither queued nor failed reports
	// false; unknown ids report false.
	assert.False(t, s.CancelDownloading(ctx, "G2"))
	assert.False(t, s.CancelDownloading(ctx, "Atlantis"))
}

func TestCancelFailedClearsFailure(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ := fake.Last()
	fake.Fail(fr.Handle, downloader.ErrNoConnection)
	assert.Equal(t, Failed, mustStatus(t, s, "A"))

	require.True(t, s.CancelDownloading(ctx, "A"))
	assert.Equal(t, NotDownloaded, mustStatus(t, s, "A"))
}

func TestGroupAggregation(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	attrs, err := s.NodeAttrs("G")
	require.NoError(t, err)
	assert.Equal(t, NotDownloaded, attrs.Status)
	assert.Zero(t, attrs.MapsDownloaded)
	assert.Equal(t, 2, attrs.MapsTotal)
	assert.Equal(t, int64(30), attrs.Size)

	// Downloading any descendant dominates the group status.
	require.True(t, s.DownloadNode(ctx, "G1"))
	attrs, err = s.NodeAttrs("G")
	require.NoError(t, err)
	assert.Equal(t, Downloading, attrs.Status)

	fr, _ := fake.Last()
	fake.Progress(fr.Handle, downloader.Progress{Downloaded: 4, Total: 10})
	attrs, err = s.NodeAttrs("G")
	require.NoError(t, err)
	assert.Equal(t, int64(4), attrs.Progress.Downloaded, "group aggregates enqueued descendants")

	require.NoError(t, fake.Complete(fr.Handle))

	// Partial coverage: counters say 1 of 2, the hint stays conservative.
	attrs, err = s.NodeAttrs("G")
	require.NoError(t, err)
	assert.Equal(t, 1, attrs.MapsDownloaded)
	assert.Equal(t, 2, attrs.MapsTotal)
	assert.Equal(t, NotDownloaded, attrs.Status)

	// Full coverage.
	require.True(t, s.DownloadNode(ctx, "G2"))
	fr, _ = fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
	attrs, err = s.NodeAttrs("G")
	require.NoError(t, err)
	assert.Equal(t, 2, attrs.MapsDownloaded)
	assert.Equal(t, OnDisk, attrs.Status)
	assert.True(t, s.IsNodeDownloaded("G"))
}

func TestGroupDownloadEnqueuesMissingLeaves(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	// G1 is already on disk; downloading the group fetches only G2.
	require.True(t, s.DownloadNode(ctx, "G1"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))

	require.True(t, s.DownloadNode(ctx, "G"))
	fr, _ = fake.Last()
	assert.Contains(t, fr.Request.URLs[0], "G2.mwm")
	require.NoError(t, fake.Complete(fr.Handle))
	assert.Len(t, fake.Requests(), 2)
	assert.True(t, s.IsNodeDownloaded("G"))
}

func TestOutOfDateAfterVersionBump(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
	require.Equal(t, OnDisk, mustStatus(t, s, "A"))

	s.SetCurrentVersionForTesting(2)

	// The slow status sees the stale version, the fast one does not; the
	// registry contents are untouched.
	assert.Equal(t, OnDiskOutOfDate, mustStatus(t, s, "A"))
	fast, err := s.Status("A")
	require.NoError(t, err)
	assert.Equal(t, OnDisk, fast)

	lf, ok := s.LatestLocalFile("A")
	require.True(t, ok)
	assert.Equal(t, int64(1), lf.Version)

	info := s.GetUpdateInfo()
	assert.Equal(t, 1, info.NumFilesToUpdate)
	assert.Equal(t, int64(100), info.UpdateSizeBytes)

	// UpdateNode re-downloads the stale leaf with its local kinds.
	require.True(t, s.UpdateNode(ctx, "Countries"))
	assert.Equal(t, Downloading, mustStatus(t, s, "A"))
	fr, _ = fake.Last()
	assert.Equal(t, []string{"http://mirror/maps/2/A.mwm"}, fr.Request.URLs)
	require.NoError(t, fake.Complete(fr.Handle))
	assert.Equal(t, OnDisk, mustStatus(t, s, "A"))
	assert.Zero(t, s.GetUpdateInfo().NumFilesToUpdate)
}

func TestScanRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))

	// A rescan of the data directory rediscovers the downloaded file at
	// the just-downloaded version.
	require.NoError(t, s.RegisterAllLocalMaps(ctx))
	lf, ok := s.LatestLocalFile("A")
	require.True(t, ok)
	assert.Equal(t, int64(1), lf.Version)
	assert.Equal(t, OnDisk, mustStatus(t, s, "A"))
	assert.Equal(t, []catalog.CountryID{"A"}, s.LocalRealMaps())
}

func TestServerListFailure(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)
	rec := &recorder{}
	rec.subscribe(s)

	fake.FailServerList(downloader.ErrNoConnection)
	require.True(t, s.DownloadNode(ctx, "A"))

	assert.Equal(t, Failed, mustStatus(t, s, "A"))
	rec.mu.Lock()
	require.Len(t, rec.errors, 1)
	assert.Equal(t, NoInternetConnection, rec.errors[0].code)
	rec.mu.Unlock()

	// Connectivity comes back; restore resolves again and downloads.
	fake.FailServerList(nil)
	require.True(t, s.RestoreDownloading(ctx, "A"))
	fr, ok := fake.Last()
	require.True(t, ok)
	require.NoError(t, fake.Complete(fr.Handle))
	assert.Equal(t, OnDisk, mustStatus(t, s, "A"))
}

func TestQueuePersistence(t *testing.T) {
	ctx := context.Background()
	fake := downloader.NewFake("http://mirror")
	dataDir := t.TempDir()
	queuePath := filepath.Join(dataDir, "downloader", "queue.json")
	catalogPath := writeCatalog(t, testCatalogV1)

	s, err := New(ctx, Options{
		CatalogPath: catalogPath,
		DataDir:     dataDir,
		QueuePath:   queuePath,
		Downloader:  fake,
	})
	require.NoError(t, err)

	require.True(t, s.DownloadNode(ctx, "A"))
	require.True(t, s.DownloadCountry(ctx, "B", catalog.KindAll))
	require.NoError(t, s.SaveQueue(ctx))
	assert.FileExists(t, queuePath)

	// A fresh process restores the pending work and resumes downloading.
	fake2 := downloader.NewFake("http://mirror")
	s2, err := New(ctx, Options{
		CatalogPath: catalogPath,
		DataDir:     dataDir,
		QueuePath:   queuePath,
		Downloader:  fake2,
	})
	require.NoError(t, err)
	require.NoError(t, s2.RestoreQueue(ctx))

	assert.Equal(t, Downloading, mustStatus(t, s2, "A"))
	assert.Equal(t, InQueue, mustStatus(t, s2, "B"))

	// The kind set survives the round trip.
	fr, _ := fake2.Last()
	require.NoError(t, fake2.Complete(fr.Handle)) // A map
	fr, _ = fake2.Last()
	require.NoError(t, fake2.Complete(fr.Handle)) // B map
	fr, _ = fake2.Last()
	assert.Contains(t, fr.Request.URLs[0], "B.mwm.routing")
}

func TestRestoreQueueTolerance(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)

	// Missing file: nothing to resume.
	require.NoError(t, s.RestoreQueue(ctx))
	assert.False(t, s.IsDownloadInProgress())

	// Corrupt file: ignored.
	s.mu.Lock()
	path := s.queuePath
	s.mu.Unlock()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))
	require.NoError(t, s.RestoreQueue(ctx))
	assert.False(t, s.IsDownloadInProgress())
}

func TestObserverSlots(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	var first, second []catalog.CountryID
	slot1 := s.Subscribe(StatusCallback{OnStatusChanged: func(id catalog.CountryID) { first = append(first, id) }})
	slot2 := s.Subscribe(StatusCallback{OnStatusChanged: func(id catalog.CountryID) { second = append(second, id) }})
	assert.NotEqual(t, slot1, slot2)

	// Removing one slot must not invalidate the other.
	s.UnsubscribeStatus(slot1)
	require.True(t, s.DownloadNode(ctx, "A"))
	assert.Empty(t, first)
	assert.NotEmpty(t, second)

	// Unsubscribing an unknown id is a no-op, in both registries.
	s.UnsubscribeStatus(slot1)
	s.UnsubscribeStatus(12345)
	s.Unsubscribe(12345)

	// The two registries use independent slot id spaces.
	countrySlot := s.SubscribeCountry(CountryObserver{})
	assert.Equal(t, 1, countrySlot)
	s.Unsubscribe(countrySlot)

	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
}

func TestDownloadedChildren(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	children, err := s.DownloadedChildren("Countries")
	require.NoError(t, err)
	assert.Empty(t, children)

	// One downloaded leaf inside a group surfaces as the leaf itself.
	require.True(t, s.DownloadNode(ctx, "G1"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
	children, err = s.DownloadedChildren("Countries")
	require.NoError(t, err)
	assert.Equal(t, []catalog.CountryID{"G1"}, children)

	// Two downloaded leaves surface as their group.
	require.True(t, s.DownloadNode(ctx, "G2"))
	fr, _ = fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ = fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))

	children, err = s.DownloadedChildren("Countries")
	require.NoError(t, err)
	assert.Equal(t, []catalog.CountryID{"A", "G"}, children)

	_, err = s.DownloadedChildren("Atlantis")
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))

	t.Run("load_failure_leaves_state_untouched", func(t *testing.T) {
		err := s.Migrate(ctx, writeCatalog(t, `{"version": 2`))
		require.Error(t, err)
		assert.Equal(t, int64(1), s.CurrentVersion())
		assert.Equal(t, OnDisk, mustStatus(t, s, "A"))
	})

	newCatalog := `{
		"version": 2,
		"root": {
			"id": "Countries",
			"children": [
				{"id": "Alpha_Renamed", "name": "Alpha", "file": "A", "map_size": 120, "routing_size": 12},
				{"id": "B", "name": "Beta", "map_size": 50, "routing_size": 5}
			]
		}
	}`
	require.NoError(t, s.Migrate(ctx, writeCatalog(t, newCatalog)))

	assert.Equal(t, int64(2), s.CurrentVersion())
	assert.False(t, s.IsInCountryTree("A"), "old hierarchy is gone")

	// The old coverage maps onto the new hierarchy by file name and is
	// re-enqueued; the local file stays registered underneath.
	assert.Equal(t, Downloading, mustStatus(t, s, "Alpha_Renamed"))
	fr, _ = fake.Last()
	assert.Equal(t, []string{"http://mirror/maps/2/A.mwm"}, fr.Request.URLs)

	lf, ok := s.LatestLocalFile("Alpha_Renamed")
	require.True(t, ok)
	assert.Equal(t, int64(1), lf.Version, "pre-migration file is still registered")

	require.NoError(t, fake.Complete(fr.Handle))
	assert.Equal(t, OnDisk, mustStatus(t, s, "Alpha_Renamed"))
	assert.Equal(t, NotDownloaded, mustStatus(t, s, "B"))
}

func TestUpdateAllAndChangeHierarchy(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
	mapPath := filepath.Join(registry.VersionDir(s.reg.Root(), 1), "A.mwm")
	require.FileExists(t, mapPath)

	newCatalog := `{
		"version": 3,
		"root": {
			"id": "Countries",
			"children": [
				{"id": "A_North", "file": "A", "map_size": 60},
				{"id": "B", "map_size": 50}
			]
		}
	}`
	assert.False(t, s.UpdateAllAndChangeHierarchy(ctx, writeCatalog(t, `{"version": 3`)))
	require.True(t, s.UpdateAllAndChangeHierarchy(ctx, writeCatalog(t, newCatalog)))

	// Old files are removed first, then the equivalent coverage is
	// re-downloaded under the new hierarchy.
	assert.NoFileExists(t, mapPath)
	assert.Equal(t, int64(3), s.CurrentVersion())
	assert.Equal(t, Downloading, mustStatus(t, s, "A_North"))
	assert.Equal(t, NotDownloaded, mustStatus(t, s, "B"))

	fr, _ = fake.Last()
	assert.Equal(t, []string{"http://mirror/maps/3/A.mwm"}, fr.Request.URLs)
	require.NoError(t, fake.Complete(fr.Handle))
	assert.Equal(t, OnDisk, mustStatus(t, s, "A_North"))
	assert.Equal(t, 1, s.DownloadedCount())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.True(t, s.DownloadNode(ctx, "A"))
	require.True(t, s.DownloadNode(ctx, "B"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))

	s.Clear(ctx)
	assert.False(t, s.IsDownloadInProgress())
	assert.Equal(t, 1, fake.AbortCount(), "in-flight transfer aborted")
	assert.Zero(t, s.DownloadedCount())
	assert.Equal(t, NotDownloaded, mustStatus(t, s, "B"))
}

func TestCountrySizeAndQueries(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	local, remote, err := s.CountrySize("A", catalog.KindAll)
	require.NoError(t, err)
	assert.Zero(t, local)
	assert.Equal(t, int64(110), remote)

	local, remote, err = s.CountrySize("G", catalog.KindMap)
	require.NoError(t, err)
	assert.Zero(t, local)
	assert.Equal(t, int64(30), remote)

	_, _, err = s.CountrySize("Atlantis", catalog.KindMap)
	assert.Error(t, err)

	require.True(t, s.DownloadNode(ctx, "A"))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))

	local, _, err = s.CountrySize("A", catalog.KindAll)
	require.NoError(t, err)
	assert.Positive(t, local, "downloaded bytes count as local size")

	assert.Equal(t, catalog.CountryID("Countries"), s.RootID())
	name, err := s.CountryName("A")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", name)
	assert.Equal(t, 4, s.CountriesCount("Countries"))
	assert.True(t, s.IsInCountryTree("G1"))
	assert.Equal(t, []catalog.CountryID{"A"}, s.FindAllByFile("A"))

	group, country, err := s.GroupAndCountry("G1")
	require.NoError(t, err)
	assert.Equal(t, "Gamma", group)
	assert.Equal(t, "G1", country)

	url, err := s.FileDownloadURL("http://mirror", "A", catalog.KindRouting)
	require.NoError(t, err)
	assert.Equal(t, "http://mirror/maps/1/A.mwm.routing", url)
}

func TestOnMapRegisteredHook(t *testing.T) {
	ctx := context.Background()
	fake := downloader.NewFake("http://mirror")
	var registered []*registry.LocalFile
	s, err := New(ctx, Options{
		CatalogPath: writeCatalog(t, testCatalogV1),
		DataDir:     t.TempDir(),
		Downloader:  fake,
		OnMapRegistered: func(lf *registry.LocalFile) {
			registered = append(registered, lf)
		},
	})
	require.NoError(t, err)

	// The hook fires once per country, after all requested kinds are in.
	require.True(t, s.DownloadCountry(ctx, "A", catalog.KindAll))
	fr, _ := fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
	assert.Empty(t, registered, "routing still pending")
	fr, _ = fake.Last()
	require.NoError(t, fake.Complete(fr.Handle))
	require.Len(t, registered, 1)
	assert.Equal(t, catalog.CountryID("A"), registered[0].Country)
}
