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
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/downloader"
	"github.com/walteh/mapstore/pkg/registry"
)

// DownloadNode puts a node into the download queue. For a group node
// every leaf that is not already on disk and current is enqueued. It
// returns false only for an unknown id; an already satisfied or already
// queued request is a defined no-op outcome.
func (s *Storage) DownloadNode(ctx context.Context, id catalog.CountryID) bool {
	return s.DownloadCountry(ctx, id, catalog.KindMap)
}

// DownloadCountry puts a node into the download queue with an explicit
// kind set. Requesting routing data always also requires the base map;
// kinds already on disk and current are dropped. The normalization is
// applied here, never left to the caller.
func (s *Storage) DownloadCountry(ctx context.Context, id catalog.CountryID, kinds catalog.Kind) bool {
	logger := zerolog.Ctx(ctx)

	s.mu.Lock()
	leaves, err := s.tree.LeavesUnder(id)
	if err != nil {
		s.mu.Unlock()
		logger.Debug().Str("country", string(id)).Msg("download request for unknown country")
		return false
	}
	for _, leafID := range leaves {
		s.enqueueLocked(ctx, leafID, kinds)
	}
	s.mu.Unlock()

	s.flushNotifications()
	s.startNext(ctx)
	return true
}

// UpdateNode re-downloads every out-of-date leaf under a node, with the
// kinds currently present locally. Updating the root updates everything.
func (s *Storage) UpdateNode(ctx context.Context, id catalog.CountryID) bool {
	s.mu.Lock()
	leaves, err := s.tree.LeavesUnder(id)
	if err != nil {
		s.mu.Unlock()
		return false
	}
	for _, leafID := range leaves {
		if s.leafStatusLocked(leafID, true) != OnDiskOutOfDate {
			continue
		}
		lf, ok := s.reg.Latest(leafID)
		if !ok {
			continue
		}
		s.enqueueLocked(ctx, leafID, lf.Kinds)
	}
	s.mu.Unlock()

	s.flushNotifications()
	s.startNext(ctx)
	return true
}

// RestoreDownloading re-enqueues failed leaves under a node with the kind
// set they originally requested, clearing their failed-set membership.
func (s *Storage) RestoreDownloading(ctx context.Context, id catalog.CountryID) bool {
	s.mu.Lock()
	leaves, err := s.tree.LeavesUnder(id)
	if err != nil {
		s.mu.Unlock()
		return false
	}
	restored := false
	for _, leafID := range leaves {
		if _, failed := s.failed[leafID]; !failed {
			continue
		}
		kinds := s.failedKinds[leafID]
		if kinds == 0 {
			kinds = catalog.KindMap
		}
		delete(s.failed, leafID)
		delete(s.failedKinds, leafID)
		s.enqueueLocked(ctx, leafID, kinds)
		restored = true
	}
	s.mu.Unlock()

	s.flushNotifications()
	s.startNext(ctx)
	return restored
}

// normalizeDownloadLocked always adds the base map when routing data is
// requested, and drops kinds already on disk at the current version.
func (s *Storage) normalizeDownloadLocked(id catalog.CountryID, kinds catalog.Kind) catalog.Kind {
	kinds = kinds.Without(^catalog.KindAll)
	if kinds.Has(catalog.KindRouting) {
		kinds = kinds.With(catalog.KindMap)
	}
	if lf, ok := s.reg.Latest(id); ok && lf.Version >= s.currentVersion {
		kinds = kinds.Without(lf.Kinds)
	}
	return kinds
}

// enqueueLocked appends a leaf to the queue. A country already in the
// queue is never duplicated, and an empty normalized kind set means the
// request is already satisfied.
func (s *Storage) enqueueLocked(ctx context.Context, id catalog.CountryID, kinds catalog.Kind) *QueuedCountry {
	logger := zerolog.Ctx(ctx)

	if existing := s.findInQueueLocked(id); existing != nil {
		return existing
	}
	kinds = s.normalizeDownloadLocked(id, kinds)
	if kinds == 0 {
		return nil
	}
	c, err := s.tree.Country(id)
	if err != nil {
		return nil
	}

	// Queue membership and failure are mutually exclusive.
	delete(s.failed, id)
	delete(s.failedKinds, id)

	qc := newQueuedCountry(id, kinds, c.Size(kinds))
	s.queue = append(s.queue, qc)
	s.notifyStatusChangedLocked(id)

	logger.Debug().
		Str("country", string(id)).
		Str("kinds", kinds.String()).
		Int("queue_len", len(s.queue)).
		Msg("country enqueued")
	return qc
}

// startNext drives the single-flight discipline: it starts the transfer
// for the head of the queue unless one is already running. It must be
// called without the lock held.
func (s *Storage) startNext(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.activeAttempt != 0 || s.resolving || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		if s.servers == nil {
			s.resolving = true
			s.mu.Unlock()
			s.dl.ResolveServerList(ctx, func(urls []string, err error) {
				s.onServerList(ctx, urls, err)
			})
			return
		}

		qc := s.queue[0]
		c, err := s.tree.Country(qc.ID)
		if err != nil {
			// Stale entry surviving a migration; drop it.
			s.queue = s.queue[1:]
			s.mu.Unlock()
			continue
		}
		kind := qc.Current
		urls := make([]string, 0, len(s.servers))
		for _, server := range s.servers {
			urls = append(urls, s.fileDownloadURLLocked(server, c, kind))
		}
		req := downloader.Request{
			URLs: urls,
			Path: s.fileDownloadPathLocked(c, kind),
			Size: c.Size(kind),
		}
		s.attempt++
		token := s.attempt
		s.activeAttempt = token
		req.OnProgress = func(p downloader.Progress) {
			s.onFileProgress(token, p)
		}
		req.OnComplete = func(err error) {
			s.onFileComplete(ctx, token, err)
		}
		s.mu.Unlock()

		handle, err := s.dl.Fetch(ctx, req)

		s.mu.Lock()
		if s.activeAttempt != token {
			// Cancelled while the transfer was being set up.
			s.mu.Unlock()
			if err == nil {
				s.dl.Abort(handle)
			}
			continue
		}
		if err != nil {
			s.activeAttempt = 0
			s.failHeadLocked(ctx, err)
			s.mu.Unlock()
			s.flushNotifications()
			continue
		}
		s.activeHandle = handle
		s.mu.Unlock()
		return
	}
}

// onServerList receives the resolved mirror list. Without any reachable
// mirror every queued country fails with a connectivity error; a single
// resolution failure must not stall future queues, so the next enqueue
// retries.
func (s *Storage) onServerList(ctx context.Context, urls []string, err error) {
	logger := zerolog.Ctx(ctx)

	s.mu.Lock()
	s.resolving = false
	if err != nil {
		logger.Warn().Err(err).Msg("resolving server list failed")
		for _, qc := range s.queue {
			s.failed[qc.ID] = struct{}{}
			s.failedKinds[qc.ID] = qc.Requested
			s.notifyErrorLocked(qc.ID, NoInternetConnection)
			s.notifyStatusChangedLocked(qc.ID)
		}
		s.queue = nil
		s.mu.Unlock()
		s.flushNotifications()
		return
	}
	s.servers = urls
	s.mu.Unlock()

	logger.Debug().Strs("servers", urls).Msg("server list resolved")
	s.flushNotifications()
	s.startNext(ctx)
}

// onFileProgress updates the head entry's cumulative byte count. Progress
// is a delta notification, never a status change.
func (s *Storage) onFileProgress(token uint64, p downloader.Progress) {
	s.mu.Lock()
	if s.activeAttempt != token || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	qc := s.queue[0]
	qc.Progress.Downloaded = qc.completed + p.Downloaded
	s.notifyProgressLocked(qc)
	s.mu.Unlock()

	s.flushNotifications()
}

// onFileComplete handles the terminal outcome of one file transfer. A
// stale token means the entry was cancelled after the transfer ended on
// the wire, and the callback is a no-op.
func (s *Storage) onFileComplete(ctx context.Context, token uint64, err error) {
	logger := zerolog.Ctx(ctx)

	s.mu.Lock()
	if s.activeAttempt != token || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.activeAttempt = 0
	s.activeHandle = ""

	var registered *registry.LocalFile
	if err != nil {
		s.failHeadLocked(ctx, err)
	} else {
		registered = s.registerHeadFileLocked(ctx)
	}
	s.mu.Unlock()

	if registered != nil {
		logger.Debug().
			Str("country", string(registered.Country)).
			Int64("version", registered.Version).
			Msg("country download finished")
		if s.onMapRegistered != nil {
			s.onMapRegistered(registered)
		}
	}
	s.flushNotifications()
	s.startNext(ctx)
}

// failHeadLocked moves the head of the queue into the failed set and
// reports exactly one error notification. The rest of the queue proceeds.
func (s *Storage) failHeadLocked(ctx context.Context, err error) {
	logger := zerolog.Ctx(ctx)
	if len(s.queue) == 0 {
		return
	}
	qc := s.queue[0]
	s.queue = s.queue[1:]
	s.failed[qc.ID] = struct{}{}
	s.failedKinds[qc.ID] = qc.Requested
	s.notifyErrorLocked(qc.ID, errorCodeFor(err))
	s.notifyStatusChangedLocked(qc.ID)

	logger.Warn().
		Err(err).
		Str("country", string(qc.ID)).
		Msg("country download failed")
}

// registerHeadFileLocked records the just-downloaded kind in the registry
// and advances the head entry to its next kind. When the last kind is
// done the entry leaves the queue and the completed local file is
// returned.
func (s *Storage) registerHeadFileLocked(ctx context.Context) *registry.LocalFile {
	qc := s.queue[0]
	c, err := s.tree.Country(qc.ID)
	if err != nil {
		s.queue = s.queue[1:]
		return nil
	}

	dir := registry.VersionDir(s.dataDir, s.currentVersion)
	lf := s.reg.Register(qc.ID, c.File, dir, s.currentVersion, qc.Current)

	if qc.advance(c.Size(qc.Current)) {
		// More kinds of the same country follow; keep it at the head.
		return nil
	}
	s.queue = s.queue[1:]
	delete(s.failed, qc.ID)
	delete(s.failedKinds, qc.ID)
	s.notifyStatusChangedLocked(qc.ID)
	return lf
}

// fileDownloadURLLocked builds the mirror URL of one country file:
// base + "maps/" + version + "/" + escaped filename.
func (s *Storage) fileDownloadURLLocked(base string, c *catalog.Country, kind catalog.Kind) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "maps/" + strconv.FormatInt(s.currentVersion, 10) + "/" +
		url.PathEscape(catalog.Filename(c.File, kind))
}

// FileDownloadURL builds the download URL of one country file on a given
// mirror.
func (s *Storage) FileDownloadURL(base string, id catalog.CountryID, kind catalog.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.tree.Country(id)
	if err != nil {
		return "", err
	}
	return s.fileDownloadURLLocked(base, c, kind), nil
}

func (s *Storage) fileDownloadPathLocked(c *catalog.Country, kind catalog.Kind) string {
	return filepath.Join(registry.VersionDir(s.dataDir, s.currentVersion), catalog.Filename(c.File, kind))
}
