// Package catalog holds the static hierarchy of downloadable map regions:
// the country tree, per-node file sizes, and the mapping between on-disk
// file names and catalog entries. The tree is loaded once from a versioned
// definition file (JSON or YAML) and is immutable afterwards; replacing it
// wholesale is the migration path handled by the storage manager.
package catalog
