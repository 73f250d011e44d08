// Package registry tracks which map files are actually present on disk
// and at which version. It owns the per-version directory layout under
// the writable map data root, the distinction between catalog countries
// and fake/custom files, and the disk-side half of delete operations.
package registry
