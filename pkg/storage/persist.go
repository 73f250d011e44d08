package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/walteh/mapstore/pkg/catalog"
	"gitlab.com/tozd/go/errors"
)

// queueEntry is the persisted shape of one pending download.
type queueEntry struct {
	ID    string       `json:"id"`
	Kinds catalog.Kind `json:"kinds"`
}

// SaveQueue persists the pending queue so an interrupted multi-country
// download resumes after a restart instead of silently losing work.
func (s *Storage) SaveQueue(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	s.mu.Lock()
	path := s.queuePath
	entries := make([]queueEntry, 0, len(s.queue))
	for _, qc := range s.queue {
		entries = append(entries, queueEntry{ID: string(qc.ID), Kinds: qc.Requested})
	}
	s.mu.Unlock()

	if path == "" {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Errorf("marshaling queue: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Errorf("creating queue directory: %w", err)
	}

	// Write to temp file, then rename (atomic operation).
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Errorf("writing queue temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Errorf("renaming queue file: %w", err)
	}

	logger.Debug().Int("entries", len(entries)).Str("path", path).Msg("download queue saved")
	return nil
}

// RestoreQueue re-enqueues the persisted pending downloads. A missing or
// corrupt queue file is not an error: there is simply nothing to resume.
func (s *Storage) RestoreQueue(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	s.mu.Lock()
	path := s.queuePath
	s.mu.Unlock()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Errorf("reading queue file: %w", err)
	}
	var entries []queueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("ignoring corrupt queue file")
		return nil
	}

	s.mu.Lock()
	for _, e := range entries {
		id := catalog.CountryID(e.ID)
		if !s.tree.Contains(id) {
			logger.Warn().Str("country", e.ID).Msg("persisted queue entry no longer in catalog")
			continue
		}
		s.enqueueLocked(ctx, id, e.Kinds)
	}
	s.mu.Unlock()

	logger.Debug().Int("entries", len(entries)).Msg("download queue restored")
	s.flushNotifications()
	s.startNext(ctx)
	return nil
}
