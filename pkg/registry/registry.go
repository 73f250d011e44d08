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

package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/walteh/mapstore/pkg/catalog"
	"gitlab.com/tozd/go/errors"
)

// 📄 LocalFile describes the files of one country version present on disk.
type LocalFile struct {
	// Country is the catalog node the files belong to, or catalog.None
	// for fake/custom files that have no catalog entry.
	Country catalog.CountryID

	// File is the base file name without kind extension.
	File string

	// Dir is the directory the files live in.
	Dir string

	// Version is the data version the files were downloaded for. Custom
	// files placed outside a version directory carry version 0.
	Version int64

	// Kinds is the set of kinds present for this version.
	Kinds catalog.Kind
}

// Path returns the full path of one kind's file.
func (lf *LocalFile) Path(k catalog.Kind) string {
	return filepath.Join(lf.Dir, catalog.Filename(lf.File, k))
}

// IsFake reports whether the file has no catalog entry (base world files,
// user-imported custom maps).
func (lf *LocalFile) IsFake() bool {
	return lf.Country == catalog.None
}

// SizeOnDisk returns the summed size in bytes of the kinds present on
// disk. Files that cannot be stat'ed count as zero.
func (lf *LocalFile) SizeOnDisk() int64 {
	var total int64
	for _, k := range lf.Kinds.Split() {
		if info, err := os.Stat(lf.Path(k)); err == nil {
			total += info.Size()
		}
	}
	return total
}

// VersionDir returns the directory files of a given version live in.
func VersionDir(root string, version int64) string {
	if version == 0 {
		return root
	}
	return filepath.Join(root, strconv.FormatInt(version, 10))
}

// 🗃️ Registry is the single source of truth for which map files are
// actually on disk, and at which version. It keeps catalog countries and
// fake/custom files in separate indexes.
//
// The registry carries no lock of its own: it is owned by the storage
// manager, which serializes all access.
type Registry struct {
	root   string
	ignore []string

	// files holds per-country version lists, most recent version first,
	// no duplicate versions.
	files map[catalog.CountryID][]*LocalFile

	// fake holds files with no catalog entry, keyed by base file name.
	fake map[string]*LocalFile
}

// Options configures a Registry.
type Options struct {
	// IgnorePatterns are doublestar glob patterns matched against file
	// base names during a scan. Matching files are skipped.
	IgnorePatterns []string
}

// New creates a registry rooted at the writable map data directory.
func New(root string, opts Options) *Registry {
	return &Registry{
		root:   filepath.Clean(root),
		ignore: opts.IgnorePatterns,
		files:  make(map[catalog.CountryID][]*LocalFile),
		fake:   make(map[string]*LocalFile),
	}
}

// Root returns the registry's data directory.
func (r *Registry) Root() string {
	return r.root
}

// Register records files of one country version. It is idempotent: if the
// exact version is already registered, the kinds are merged and nothing
// else changes. The version list stays sorted most-recent-first.
func (r *Registry) Register(id catalog.CountryID, file, dir string, version int64, kinds catalog.Kind) *LocalFile {
	list := r.files[id]
	for _, lf := range list {
		if lf.Version == version {
			lf.Kinds = lf.Kinds.With(kinds)
			return lf
		}
	}

	lf := &LocalFile{Country: id, File: file, Dir: dir, Version: version, Kinds: kinds}
	list = append(list, lf)
	sort.Slice(list, func(i, j int) bool { return list[i].Version > list[j].Version })
	r.files[id] = list
	return lf
}

// RegisterFake records a file that has no catalog entry.
func (r *Registry) RegisterFake(lf *LocalFile) {
	if existing, ok := r.fake[lf.File]; ok && existing.Version >= lf.Version {
		existing.Kinds = existing.Kinds.With(lf.Kinds)
		return
	}
	r.fake[lf.File] = lf
}

// Latest returns the most recent local file of a country.
func (r *Registry) Latest(id catalog.CountryID) (*LocalFile, bool) {
	list := r.files[id]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// Version returns the local file of a country at an exact version.
func (r *Registry) Version(id catalog.CountryID, version int64) (*LocalFile, bool) {
	for _, lf := range r.files[id] {
		if lf.Version == version {
			return lf, true
		}
	}
	return nil, false
}

// Fake returns the fake file registered under a base file name.
func (r *Registry) Fake(file string) (*LocalFile, bool) {
	lf, ok := r.fake[file]
	return lf, ok
}

// Delete removes the given kinds of a country from disk and from the
// registry, across all registered versions. Deleting the last kind of a
// version drops the version entry. It reports whether any disk file was
// actually removed.
func (r *Registry) Delete(ctx context.Context, id catalog.CountryID, kinds catalog.Kind) (bool, error) {
	logger := zerolog.Ctx(ctx)

	removed := false
	var kept []*LocalFile
	var firstErr error
	for _, lf := range r.files[id] {
		gone, err := removeKinds(lf, kinds)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		removed = removed || gone
		lf.Kinds = lf.Kinds.Without(kinds)
		if lf.Kinds != 0 {
			kept = append(kept, lf)
		}
	}
	if len(kept) == 0 {
		delete(r.files, id)
	} else {
		r.files[id] = kept
	}

	logger.Debug().
		Str("country", string(id)).
		Str("kinds", kinds.String()).
		Bool("removed", removed).
		Msg("deleted country files")
	if firstErr != nil {
		return removed, errors.Errorf("deleting files for %q: %w", string(id), firstErr)
	}
	return removed, nil
}

// DeleteCustomVersion removes the files of one specific registered version
// from disk and from the registry. It is used for user-made custom maps
// and for pruning superseded versions.
func (r *Registry) DeleteCustomVersion(ctx context.Context, lf *LocalFile) (bool, error) {
	removed, err := removeKinds(lf, lf.Kinds)

	if lf.IsFake() {
		delete(r.fake, lf.File)
	} else {
		var kept []*LocalFile
		for _, known := range r.files[lf.Country] {
			if known.Version != lf.Version {
				kept = append(kept, known)
			}
		}
		if len(kept) == 0 {
			delete(r.files, lf.Country)
		} else {
			r.files[lf.Country] = kept
		}
	}

	if err != nil {
		return removed, errors.Errorf("deleting custom version: %w", err)
	}
	return removed, nil
}

// removeKinds unlinks the selected kind files of one version from disk.
func removeKinds(lf *LocalFile, kinds catalog.Kind) (bool, error) {
	removed := false
	var firstErr error
	for _, k := range kinds.Split() {
		if !lf.Kinds.Has(k) {
			continue
		}
		err := os.Remove(lf.Path(k))
		if err == nil {
			removed = true
			continue
		}
		if !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return removed, firstErr
}

// RealCountries returns the sorted ids of all catalog countries with at
// least one registered version. Fake files are excluded.
func (r *Registry) RealCountries() []catalog.CountryID {
	out := make([]catalog.CountryID, 0, len(r.files))
	for id := range r.files {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllLocal returns every registered local file, fake files included.
func (r *Registry) AllLocal() []*LocalFile {
	var out []*LocalFile
	for _, id := range r.RealCountries() {
		out = append(out, r.files[id]...)
	}
	fakes := make([]string, 0, len(r.fake))
	for name := range r.fake {
		fakes = append(fakes, name)
	}
	sort.Strings(fakes)
	for _, name := range fakes {
		out = append(out, r.fake[name])
	}
	return out
}

// DownloadedCount returns the number of catalog countries present on
// disk, excluding fake files.
func (r *Registry) DownloadedCount() int {
	return len(r.files)
}

// Clear forgets every registered file. Disk contents are untouched.
func (r *Registry) Clear() {
	r.files = make(map[catalog.CountryID][]*LocalFile)
	r.fake = make(map[string]*LocalFile)
}
