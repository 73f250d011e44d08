package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/walteh/mapstore/pkg/catalog"
	"gitlab.com/tozd/go/errors"
)

// ScanAndRegister walks the data directory and rebuilds the registry from
// what is actually on disk. Map files are resolved against the catalog;
// files with no catalog match are registered as fake/custom files. When
// several versions of the same country are found, only the highest one is
// kept and the older files are deleted from disk.
//
// The scan fully replaces the registry's prior contents: callers must not
// assume previously known local files survive a rescan.
func (r *Registry) ScanAndRegister(ctx context.Context, tree *catalog.Tree) error {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("root", r.root).Msg("scanning map data directory")

	r.Clear()

	dirs, err := r.versionDirs()
	if err != nil {
		return errors.Errorf("listing version directories: %w", err)
	}

	for _, d := range dirs {
		if err := r.scanDir(ctx, tree, d.path, d.version); err != nil {
			return err
		}
	}

	r.pruneOldVersions(ctx)

	logger.Debug().
		Int("countries", len(r.files)).
		Int("fake", len(r.fake)).
		Msg("scan complete")
	return nil
}

type versionDir struct {
	path    string
	version int64
}

// versionDirs returns the root itself (version 0, custom files) plus every
// numeric subdirectory, oldest first.
func (r *Registry) versionDirs() ([]versionDir, error) {
	out := []versionDir{{path: r.root, version: 0}}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, versionDir{path: filepath.Join(r.root, e.Name()), version: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (r *Registry) scanDir(ctx context.Context, tree *catalog.Tree, dir string, version int64) error {
	logger := zerolog.Ctx(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Errorf("reading directory %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if r.ignored(name) {
			logger.Debug().Str("file", name).Msg("skipping ignored file")
			continue
		}
		base, kind, ok := catalog.ParseFilename(name)
		if !ok {
			continue
		}

		ids := tree.FindAllByFile(base)
		if len(ids) == 0 {
			r.RegisterFake(&LocalFile{File: base, Dir: dir, Version: version, Kinds: kind})
			continue
		}
		// One physical file can back several catalog entries.
		for _, id := range ids {
			r.Register(id, base, dir, version, kind)
		}
	}
	return nil
}

func (r *Registry) ignored(name string) bool {
	for _, pattern := range r.ignore {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// pruneOldVersions keeps only the highest registered version per country
// and unlinks the superseded files.
func (r *Registry) pruneOldVersions(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	for id, list := range r.files {
		if len(list) <= 1 {
			continue
		}
		for _, stale := range list[1:] {
			if _, err := removeKinds(stale, stale.Kinds); err != nil {
				logger.Warn().
					Err(err).
					Str("country", string(id)).
					Int64("version", stale.Version).
					Msg("could not delete superseded map files")
			}
		}
		r.files[id] = list[:1]
	}
}
