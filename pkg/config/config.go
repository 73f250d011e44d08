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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// 🔌 Parser is the interface for config parsers
type Parser interface {
	// 📝 Parse parses the config from bytes
	Parse(ctx context.Context, data []byte) (*Config, error)

	// 🔍 CanParse checks if this parser can handle the given file
	CanParse(filename string) bool
}

var (
	// 🗺️ parsers is a list of available parsers
	parsers []Parser
)

// 📝 Register registers a parser
func Register(p Parser) {
	parsers = append(parsers, p)
}

// 🎯 GetParser returns a parser that can handle the given file
func GetParser(filename string) Parser {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// 📚 Config represents the complete map storage configuration
type Config struct {
	// DataDir is the writable root where per-version map directories live.
	DataDir string `json:"data_dir" yaml:"data_dir" hcl:"data_dir"`

	// CountriesFile is the catalog definition file. Defaults to
	// countries.txt inside DataDir.
	CountriesFile string `json:"countries_file,omitempty" yaml:"countries_file,omitempty" hcl:"countries_file,optional"`

	// QueueFile is where the pending download queue is persisted across
	// restarts. Defaults to downloader/queue.json inside DataDir.
	QueueFile string `json:"queue_file,omitempty" yaml:"queue_file,omitempty" hcl:"queue_file,optional"`

	// Servers are the candidate mirror base URLs probed before the first
	// download.
	Servers []string `json:"servers" yaml:"servers" hcl:"servers"`

	// IgnorePatterns are extra glob patterns skipped during local map
	// scans, matched against file base names.
	IgnorePatterns []string `json:"ignore_patterns,omitempty" yaml:"ignore_patterns,omitempty" hcl:"ignore_patterns,optional"`
}

// 🎯 Load loads the configuration from a file
func Load(ctx context.Context, path string) (*Config, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	p := GetParser(path)
	if p == nil {
		return nil, errors.Errorf("no parser found for file: %s", path)
	}

	cfg, err := p.Parse(ctx, data)
	if err != nil {
		return nil, errors.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// 🔍 Validate checks if the configuration is valid
func (cfg *Config) Validate() error {
	if cfg.DataDir == "" {
		return errors.Errorf("data_dir is required")
	}
	if len(cfg.Servers) == 0 {
		return errors.Errorf("at least one server is required")
	}

	cfg.DataDir = filepath.Clean(cfg.DataDir)

	// Set defaults
	if cfg.CountriesFile == "" {
		cfg.CountriesFile = filepath.Join(cfg.DataDir, "countries.txt")
	}
	if cfg.QueueFile == "" {
		cfg.QueueFile = filepath.Join(cfg.DataDir, "downloader", "queue.json")
	}

	return nil
}

// 📝 String returns a string representation of the config
func (cfg *Config) String() string {
	return fmt.Sprintf("%s (catalog %s, %d mirrors)", cfg.DataDir, cfg.CountriesFile, len(cfg.Servers))
}
