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
	"context"
	"os"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// 🔌 Parser is the interface for catalog definition parsers
type Parser interface {
	// Parse parses the catalog definition from bytes
	Parse(ctx context.Context, data []byte) (*Tree, error)

	// CanParse checks if this parser can handle the given file
	CanParse(filename string) bool
}

var parsers []Parser

// Register registers a parser
func Register(p Parser) {
	parsers = append(parsers, p)
}

// GetParser returns a parser that can handle the given file
func GetParser(filename string) Parser {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// nodeDef is the wire shape of one catalog node.
type nodeDef struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	File        string    `json:"file,omitempty" yaml:"file,omitempty"`
	MapSize     int64     `json:"map_size,omitempty" yaml:"map_size,omitempty"`
	RoutingSize int64     `json:"routing_size,omitempty" yaml:"routing_size,omitempty"`
	Children    []nodeDef `json:"children,omitempty" yaml:"children,omitempty"`
}

// treeDef is the wire shape of a catalog definition file.
type treeDef struct {
	Version int64    `json:"version" yaml:"version"`
	Root    *nodeDef `json:"root" yaml:"root"`
}

// Load loads the country catalog from a definition file. A catalog cannot
// be partially loaded: any failure here is fatal to construction of the
// storage manager.
func Load(ctx context.Context, path string) (*Tree, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading country catalog")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading catalog file: %w", err)
	}

	p := GetParser(path)
	if p == nil {
		return nil, errors.Errorf("no parser found for file: %s", path)
	}

	tree, err := p.Parse(ctx, data)
	if err != nil {
		return nil, errors.Errorf("parsing catalog: %w", err)
	}

	logger.Debug().
		Int64("version", tree.Version()).
		Int("nodes", tree.Len()).
		Msg("catalog loaded")
	return tree, nil
}

// build validates a parsed definition and assembles the node arena.
func build(def *treeDef) (*Tree, error) {
	if def.Root == nil {
		return nil, errors.New("catalog has no root node")
	}
	if def.Version <= 0 {
		return nil, errors.Errorf("catalog version must be positive, got %d", def.Version)
	}

	t := &Tree{
		version: def.Version,
		root:    CountryID(def.Root.ID),
		nodes:   make(map[CountryID]*Country),
		byFile:  make(map[string][]CountryID),
	}
	if err := t.addNode(def.Root, None); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) addNode(def *nodeDef, parent CountryID) error {
	if def.ID == "" {
		return errors.New("catalog node with empty id")
	}
	id := CountryID(def.ID)
	if _, ok := t.nodes[id]; ok {
		return errors.Errorf("duplicate catalog node id %q", def.ID)
	}

	c := &Country{
		ID:          id,
		Name:        def.Name,
		File:        def.File,
		Parent:      parent,
		MapSize:     def.MapSize,
		RoutingSize: def.RoutingSize,
	}
	if c.Name == "" {
		c.Name = def.ID
	}
	if c.File == "" {
		c.File = def.ID
	}
	t.nodes[id] = c

	if len(def.Children) == 0 {
		t.byFile[c.File] = append(t.byFile[c.File], id)
		return nil
	}
	for i := range def.Children {
		child := &def.Children[i]
		if err := t.addNode(child, id); err != nil {
			return err
		}
		c.Children = append(c.Children, CountryID(child.ID))
	}
	return nil
}
