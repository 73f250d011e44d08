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
	"sort"

	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/downloader"
)

// 🔔 StatusCallback is the status/error observer pair. OnStatusChanged is
// invoked for a changed node and then for each of its ancestors up to the
// root, since an ancestor's aggregated status is a pure function of its
// descendants. OnError may be invoked with NoError; callers must treat
// that as a no-op.
type StatusCallback struct {
	OnStatusChanged func(catalog.CountryID)
	OnError         func(catalog.CountryID, ErrorCode)
}

// CountryObserver is the change/progress observer pair. Progress is
// reported for the currently downloading country and, as aggregated
// totals, for its ancestor chain; it is never reported as a status
// change.
type CountryObserver struct {
	OnCountryChanged func(catalog.CountryID)
	OnProgress       func(catalog.CountryID, downloader.Progress)
}

type errorEvent struct {
	id   catalog.CountryID
	code ErrorCode
}

type progressEvent struct {
	id catalog.CountryID
	p  downloader.Progress
}

// Subscribe registers a status/error observer and returns its slot id.
func (s *Storage) Subscribe(cb StatusCallback) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStatusSlot++
	slot := s.nextStatusSlot
	s.statusSubs[slot] = cb
	return slot
}

// UnsubscribeStatus removes a status/error observer. Unknown slot ids are
// a no-op.
func (s *Storage) UnsubscribeStatus(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statusSubs, slot)
}

// SubscribeCountry registers a change/progress observer and returns its
// slot id. The id space is independent from Subscribe's.
func (s *Storage) SubscribeCountry(obs CountryObserver) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCountrySlot++
	slot := s.nextCountrySlot
	s.countrySubs[slot] = obs
	return slot
}

// Unsubscribe removes a change/progress observer. Unknown slot ids are a
// no-op.
func (s *Storage) Unsubscribe(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.countrySubs, slot)
}

// notifyStatusChangedLocked queues a status-changed notification for a
// node and its ancestor chain.
func (s *Storage) notifyStatusChangedLocked(id catalog.CountryID) {
	s.pendingStatus = append(s.pendingStatus, id)
	s.pendingStatus = append(s.pendingStatus, s.tree.Ancestors(id)...)
}

// notifyErrorLocked queues exactly one error notification.
func (s *Storage) notifyErrorLocked(id catalog.CountryID, code ErrorCode) {
	s.pendingErrors = append(s.pendingErrors, errorEvent{id: id, code: code})
}

// notifyProgressLocked queues a progress notification for the downloading
// country and aggregated deltas for its ancestors.
func (s *Storage) notifyProgressLocked(qc *QueuedCountry) {
	s.pendingProgress = append(s.pendingProgress, progressEvent{id: qc.ID, p: qc.Progress})
	for _, anc := range s.tree.Ancestors(qc.ID) {
		s.pendingProgress = append(s.pendingProgress, progressEvent{
			id: anc,
			p:  s.aggregateProgressLocked(anc),
		})
	}
}

// flushNotifications delivers queued notifications outside the storage
// lock, in slot order. Mutating methods call it after unlocking; it must
// never run with the lock held, observers are allowed to call back into
// the storage.
func (s *Storage) flushNotifications() {
	s.mu.Lock()
	status := dedupIDs(s.pendingStatus)
	s.pendingStatus = nil
	errs := s.pendingErrors
	s.pendingErrors = nil
	progress := s.pendingProgress
	s.pendingProgress = nil

	statusSubs := make([]StatusCallback, 0, len(s.statusSubs))
	for _, slot := range sortedSlots(s.statusSubs) {
		statusSubs = append(statusSubs, s.statusSubs[slot])
	}
	countrySubs := make([]CountryObserver, 0, len(s.countrySubs))
	for _, slot := range sortedSlots(s.countrySubs) {
		countrySubs = append(countrySubs, s.countrySubs[slot])
	}
	s.mu.Unlock()

	for _, cb := range statusSubs {
		if cb.OnStatusChanged != nil {
			for _, id := range status {
				cb.OnStatusChanged(id)
			}
		}
		if cb.OnError != nil {
			for _, e := range errs {
				cb.OnError(e.id, e.code)
			}
		}
	}
	for _, obs := range countrySubs {
		if obs.OnCountryChanged != nil {
			for _, id := range status {
				obs.OnCountryChanged(id)
			}
		}
		if obs.OnProgress != nil {
			for _, e := range progress {
				obs.OnProgress(e.id, e.p)
			}
		}
	}
}

func dedupIDs(ids []catalog.CountryID) []catalog.CountryID {
	seen := make(map[catalog.CountryID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortedSlots[V any](m map[int]V) []int {
	slots := make([]int, 0, len(m))
	for slot := range m {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}
