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

	"github.com/rs/zerolog"
	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/downloader"
	"github.com/walteh/mapstore/pkg/registry"
)

// DeleteNode removes every local file under a node, all kinds and all
// versions, and cancels any related queued or failed requests.
func (s *Storage) DeleteNode(ctx context.Context, id catalog.CountryID) bool {
	return s.DeleteCountry(ctx, id, catalog.KindAll)
}

// DeleteCountry removes the selected kinds of a node from disk and from
// the registry. Deleting the base map always also deletes routing data;
// the normalization is applied here, never left to the caller. Queued or
// failed requests for the affected leaves are cancelled, returning them
// to NotDownloaded.
func (s *Storage) DeleteCountry(ctx context.Context, id catalog.CountryID, kinds catalog.Kind) bool {
	logger := zerolog.Ctx(ctx)
	kinds = normalizeDeleteKinds(kinds)

	s.mu.Lock()
	leaves, err := s.tree.LeavesUnder(id)
	if err != nil {
		s.mu.Unlock()
		return false
	}
	var aborts []downloader.Handle
	for _, leafID := range leaves {
		if handle, removed := s.removeFromQueueLocked(leafID); removed {
			if handle != "" {
				aborts = append(aborts, handle)
			}
		}
		delete(s.failed, leafID)
		delete(s.failedKinds, leafID)

		if _, err := s.reg.Delete(ctx, leafID, kinds); err != nil {
			logger.Warn().Err(err).Str("country", string(leafID)).Msg("deleting local files")
		}
		s.notifyStatusChangedLocked(leafID)
	}
	s.mu.Unlock()

	for _, handle := range aborts {
		s.dl.Abort(handle)
	}
	s.flushNotifications()
	s.startNext(ctx)
	return true
}

// DeleteCustomCountryVersion removes the files of one specific local
// version, used for user-made custom maps and fake countries.
func (s *Storage) DeleteCustomCountryVersion(ctx context.Context, lf *registry.LocalFile) bool {
	s.mu.Lock()
	_, err := s.reg.DeleteCustomVersion(ctx, lf)
	if !lf.IsFake() {
		s.notifyStatusChangedLocked(lf.Country)
	}
	s.mu.Unlock()

	s.flushNotifications()
	return err == nil
}

// CancelDownloading removes a node's leaves from the download queue and
// clears their failed-set membership. Cancelling the currently
// downloading head aborts the in-flight transfer; a late completion
// callback for a cancelled entry is a no-op.
func (s *Storage) CancelDownloading(ctx context.Context, id catalog.CountryID) bool {
	s.mu.Lock()
	leaves, err := s.tree.LeavesUnder(id)
	if err != nil {
		s.mu.Unlock()
		return false
	}
	cancelled := false
	var aborts []downloader.Handle
	for _, leafID := range leaves {
		if handle, removed := s.removeFromQueueLocked(leafID); removed {
			cancelled = true
			if handle != "" {
				aborts = append(aborts, handle)
			}
		}
		if _, failed := s.failed[leafID]; failed {
			delete(s.failed, leafID)
			delete(s.failedKinds, leafID)
			s.notifyStatusChangedLocked(leafID)
			cancelled = true
		}
	}
	s.mu.Unlock()

	for _, handle := range aborts {
		s.dl.Abort(handle)
	}
	s.flushNotifications()
	s.startNext(ctx)
	return cancelled
}

// removeFromQueueLocked drops a country from the queue. For the head it
// also detaches the in-flight transfer and returns its handle; the
// caller must abort it once the lock is released.
func (s *Storage) removeFromQueueLocked(id catalog.CountryID) (downloader.Handle, bool) {
	for i, qc := range s.queue {
		if qc.ID != id {
			continue
		}
		var handle downloader.Handle
		if i == 0 {
			handle = s.invalidateTransferLocked()
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.notifyStatusChangedLocked(id)
		return handle, true
	}
	return "", false
}

// normalizeDeleteKinds always marks routing data for removal when the
// base map is being deleted: routing cannot exist without its map.
func normalizeDeleteKinds(kinds catalog.Kind) catalog.Kind {
	kinds = kinds.Without(^catalog.KindAll)
	if kinds.Has(catalog.KindMap) {
		kinds = kinds.With(catalog.KindRouting)
	}
	return kinds
}
