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
	"gitlab.com/tozd/go/errors"
)

// Migrate switches to a new catalog and data version. Local files stay
// registered (and typically become out-of-date); the queue is dropped and
// re-populated with whatever is needed to re-cover the geographic
// footprint the device had under the old hierarchy. A catalog load
// failure leaves the old state untouched.
func (s *Storage) Migrate(ctx context.Context, catalogPath string) error {
	logger := zerolog.Ctx(ctx)

	tree, err := catalog.Load(ctx, catalogPath)
	if err != nil {
		return errors.Errorf("loading new catalog: %w", err)
	}

	s.mu.Lock()
	coverage := s.coverageByFileLocked()
	abort := s.dropQueueLocked()
	oldVersion := s.currentVersion
	s.tree = tree
	s.currentVersion = tree.Version()

	// Local files must be re-keyed against the new hierarchy: region
	// boundaries may have moved and ids may have changed.
	if err := s.reg.ScanAndRegister(ctx, tree); err != nil {
		logger.Warn().Err(err).Msg("rescanning local maps after migration")
	}
	s.enqueueCoverageLocked(ctx, coverage)
	s.notifyStatusChangedLocked(tree.Root())
	s.mu.Unlock()

	if abort != "" {
		s.dl.Abort(abort)
	}
	logger.Info().
		Int64("old_version", oldVersion).
		Int64("new_version", tree.Version()).
		Msg("catalog migrated")

	s.flushNotifications()
	s.startNext(ctx)
	return nil
}

// UpdateAllAndChangeHierarchy is the disruptive migration variant, used
// when boundary changes make an incremental update unsafe: every local
// file is removed first, then the equivalent coverage is re-downloaded
// under the new hierarchy.
func (s *Storage) UpdateAllAndChangeHierarchy(ctx context.Context, catalogPath string) bool {
	logger := zerolog.Ctx(ctx)

	tree, err := catalog.Load(ctx, catalogPath)
	if err != nil {
		logger.Error().Err(err).Msg("loading new catalog")
		return false
	}

	s.mu.Lock()
	coverage := s.coverageByFileLocked()
	abort := s.dropQueueLocked()

	for _, id := range s.reg.RealCountries() {
		if _, err := s.reg.Delete(ctx, id, catalog.KindAll); err != nil {
			logger.Warn().Err(err).Str("country", string(id)).Msg("removing local files")
		}
	}

	s.tree = tree
	s.currentVersion = tree.Version()
	if err := s.reg.ScanAndRegister(ctx, tree); err != nil {
		logger.Warn().Err(err).Msg("rescanning local maps after migration")
	}
	s.enqueueCoverageLocked(ctx, coverage)
	s.notifyStatusChangedLocked(tree.Root())
	s.mu.Unlock()

	if abort != "" {
		s.dl.Abort(abort)
	}
	logger.Info().Int64("new_version", tree.Version()).Msg("hierarchy changed, re-downloading coverage")

	s.flushNotifications()
	s.startNext(ctx)
	return true
}

// coverageByFileLocked captures the device's current geographic footprint
// as file base names with their locally present kinds. File names survive
// hierarchy changes better than country ids do.
func (s *Storage) coverageByFileLocked() map[string]catalog.Kind {
	coverage := make(map[string]catalog.Kind)
	for _, id := range s.reg.RealCountries() {
		if lf, ok := s.reg.Latest(id); ok {
			coverage[lf.File] = coverage[lf.File].With(lf.Kinds)
		}
	}
	// Queued work is part of the footprint the user asked for.
	for _, qc := range s.queue {
		if c, err := s.tree.Country(qc.ID); err == nil {
			coverage[c.File] = coverage[c.File].With(qc.Requested)
		}
	}
	return coverage
}

// dropQueueLocked empties the queue without touching the failed set and
// returns the in-flight handle to abort after unlocking.
func (s *Storage) dropQueueLocked() downloader.Handle {
	abort := s.invalidateTransferLocked()
	for _, qc := range s.queue {
		s.notifyStatusChangedLocked(qc.ID)
	}
	s.queue = nil
	return abort
}

// enqueueCoverageLocked maps a captured footprint onto the (new) catalog
// and enqueues everything not already on disk and current.
func (s *Storage) enqueueCoverageLocked(ctx context.Context, coverage map[string]catalog.Kind) {
	for file, kinds := range coverage {
		for _, id := range s.tree.FindAllByFile(file) {
			s.enqueueLocked(ctx, id, kinds)
		}
	}
}
