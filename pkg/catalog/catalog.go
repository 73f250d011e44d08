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

package catalog

import (
	"sort"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// 🗺️ CountryID identifies a single node in the country tree. A node is
// either a leaf (one downloadable map unit) or a group of leaves.
type CountryID string

// None is the zero CountryID, used where no node applies.
const None CountryID = ""

// Kind is a bitmask of the file kinds a country can carry.
type Kind uint8

const (
	// KindMap is the base map data file.
	KindMap Kind = 1 << iota
	// KindRouting is the routing data file. Routing data cannot exist
	// without its base map.
	KindRouting
)

// KindAll selects every known kind.
const KindAll = KindMap | KindRouting

// kindOrder is the order kinds are downloaded and listed in: the base map
// always comes before routing.
var kindOrder = []Kind{KindMap, KindRouting}

// Has reports whether k contains every kind in other.
func (k Kind) Has(other Kind) bool {
	return k&other == other
}

// With returns k with other added.
func (k Kind) With(other Kind) Kind {
	return k | other
}

// Without returns k with other removed.
func (k Kind) Without(other Kind) Kind {
	return k &^ other
}

// Count returns the number of kinds selected by k.
func (k Kind) Count() int {
	n := 0
	for _, one := range kindOrder {
		if k.Has(one) {
			n++
		}
	}
	return n
}

// Split returns the individual kinds in k in download order.
func (k Kind) Split() []Kind {
	var out []Kind
	for _, one := range kindOrder {
		if k.Has(one) {
			out = append(out, one)
		}
	}
	return out
}

// First returns the first kind in download order, or 0 when k is empty.
func (k Kind) First() Kind {
	for _, one := range kindOrder {
		if k.Has(one) {
			return one
		}
	}
	return 0
}

// String returns a string representation of the kind set.
func (k Kind) String() string {
	var parts []string
	if k.Has(KindMap) {
		parts = append(parts, "map")
	}
	if k.Has(KindRouting) {
		parts = append(parts, "routing")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

const (
	mapExtension     = ".mwm"
	routingExtension = ".mwm.routing"
)

// Filename returns the on-disk file name for one kind of a country file.
// The base is the country's file name without extension.
func Filename(base string, k Kind) string {
	if k == KindRouting {
		return base + routingExtension
	}
	return base + mapExtension
}

// ParseFilename resolves an on-disk file name back to its base name and
// kind. It returns ok=false for names that are not country files.
func ParseFilename(name string) (base string, k Kind, ok bool) {
	if strings.HasSuffix(name, routingExtension) {
		return strings.TrimSuffix(name, routingExtension), KindRouting, true
	}
	if strings.HasSuffix(name, mapExtension) {
		return strings.TrimSuffix(name, mapExtension), KindMap, true
	}
	return "", 0, false
}

// 🌍 Country is one node of the catalog. It is immutable once the tree is
// loaded; the only way to change it is to load a whole new tree.
type Country struct {
	ID       CountryID
	Name     string
	File     string // file base name, shared by all kinds
	Parent   CountryID
	Children []CountryID

	MapSize     int64
	RoutingSize int64
}

// IsLeaf reports whether the country is a single map unit rather than a
// group.
func (c *Country) IsLeaf() bool {
	return len(c.Children) == 0
}

// Size returns the server-side size in bytes of the selected kinds.
func (c *Country) Size(k Kind) int64 {
	var total int64
	if k.Has(KindMap) {
		total += c.MapSize
	}
	if k.Has(KindRouting) {
		total += c.RoutingSize
	}
	return total
}

// ErrNotFound is returned when a CountryID does not resolve to a node in
// the catalog.
var ErrNotFound = errors.New("country not found in catalog")

// 🌳 Tree is the loaded country catalog: an arena of nodes keyed by
// CountryID with parent/child links by id. It is read-only after Load.
type Tree struct {
	version int64
	root    CountryID
	nodes   map[CountryID]*Country
	byFile  map[string][]CountryID
}

// Version returns the data version the catalog was published for.
func (t *Tree) Version() int64 {
	return t.version
}

// Root returns the id of the root node.
func (t *Tree) Root() CountryID {
	return t.root
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Contains reports whether id resolves to a node.
func (t *Tree) Contains(id CountryID) bool {
	_, ok := t.nodes[id]
	return ok
}

// Country returns the node for id.
func (t *Tree) Country(id CountryID) (*Country, error) {
	c, ok := t.nodes[id]
	if !ok {
		return nil, errors.Errorf("looking up %q: %w", string(id), ErrNotFound)
	}
	return c, nil
}

// Children returns the ordered child ids of a node.
func (t *Tree) Children(id CountryID) ([]CountryID, error) {
	c, err := t.Country(id)
	if err != nil {
		return nil, err
	}
	out := make([]CountryID, len(c.Children))
	copy(out, c.Children)
	return out, nil
}

// FindAllByFile returns every country whose file base name matches name.
// One physical file name can back more than one catalog entry, so callers
// must be prepared for zero, one or many results.
func (t *Tree) FindAllByFile(name string) []CountryID {
	ids := t.byFile[name]
	out := make([]CountryID, len(ids))
	copy(out, ids)
	return out
}

// Ancestors returns the chain of ancestor ids of a node, immediate parent
// first, root last. The result is empty for the root or an unknown id.
func (t *Tree) Ancestors(id CountryID) []CountryID {
	var out []CountryID
	c, ok := t.nodes[id]
	if !ok {
		return nil
	}
	for c.Parent != None {
		out = append(out, c.Parent)
		parent, ok := t.nodes[c.Parent]
		if !ok {
			break
		}
		c = parent
	}
	return out
}

// LeavesUnder returns all leaf ids in the subtree rooted at id, in catalog
// order. A leaf id returns itself.
func (t *Tree) LeavesUnder(id CountryID) ([]CountryID, error) {
	c, err := t.Country(id)
	if err != nil {
		return nil, err
	}
	var out []CountryID
	t.collectLeaves(c, &out)
	return out, nil
}

func (t *Tree) collectLeaves(c *Country, out *[]CountryID) {
	if c.IsLeaf() {
		*out = append(*out, c.ID)
		return
	}
	for _, childID := range c.Children {
		if child, ok := t.nodes[childID]; ok {
			t.collectLeaves(child, out)
		}
	}
}

// CountriesCount returns the number of leaves in the subtree rooted at id.
func (t *Tree) CountriesCount(id CountryID) int {
	leaves, err := t.LeavesUnder(id)
	if err != nil {
		return 0
	}
	return len(leaves)
}

// GroupAndCountry returns the display names of the nearest group of a node
// and of the node itself.
func (t *Tree) GroupAndCountry(id CountryID) (group, country string, err error) {
	c, err := t.Country(id)
	if err != nil {
		return "", "", err
	}
	if c.Parent != None {
		if parent, ok := t.nodes[c.Parent]; ok && parent.ID != t.root {
			group = parent.Name
		}
	}
	return group, c.Name, nil
}

// AllIDs returns every node id in the tree, sorted.
func (t *Tree) AllIDs() []CountryID {
	out := make([]CountryID, 0, len(t.nodes))
	for id := range t.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
