// Package config loads geoindexer settings from <root>/.geoindexer/config.yml
// with GEOINDEXER_* environment overrides.
package config

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/mvp-joe/geoindexer/internal/indexer"
	"github.com/mvp-joe/geoindexer/internal/storage"
)

// DirName is the per-root directory holding config, output and catalog.
const DirName = ".geoindexer"

// Config represents the complete geoindexer configuration.
type Config struct {
	Search      SearchConfig      `yaml:"search" mapstructure:"search"`
	Extraction  ExtractionConfig  `yaml:"extraction" mapstructure:"extraction"`
	Aggregation AggregationConfig `yaml:"aggregation" mapstructure:"aggregation"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Catalog     CatalogConfig     `yaml:"catalog" mapstructure:"catalog"`
}

// SearchConfig defines what the crawl looks at.
type SearchConfig struct {
	Root           string              `yaml:"root" mapstructure:"root"`
	Families       []string            `yaml:"families" mapstructure:"families"`
	Extensions     map[string][]string `yaml:"extensions" mapstructure:"extensions"` // family -> extensions with leading dot
	Ignore         []string            `yaml:"ignore" mapstructure:"ignore"`         // glob patterns relative to root
	FollowSymlinks bool                `yaml:"follow_symlinks" mapstructure:"follow_symlinks"`
}

// ExtractionConfig tunes the worker pool.
type ExtractionConfig struct {
	Workers    int           `yaml:"workers" mapstructure:"workers"` // 0 = NumCPU
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"` // per asset, 0 = unbounded
	ConvexHull bool          `yaml:"convex_hull" mapstructure:"convex_hull"`
}

// AggregationConfig selects the reconciliation CRS and derived products.
type AggregationConfig struct {
	TargetCRS   string   `yaml:"target_crs" mapstructure:"target_crs"` // empty = first reprojectable footprint CRS
	Derivations []string `yaml:"derivations" mapstructure:"derivations"`
}

// OutputConfig defines where and how coverage is written.
type OutputConfig struct {
	Dir         string   `yaml:"dir" mapstructure:"dir"` // empty = <root>/.geoindexer/out
	Formats     []string `yaml:"formats" mapstructure:"formats"`
	ScaleLevels bool     `yaml:"scale_levels" mapstructure:"scale_levels"`
	FailureLog  bool     `yaml:"failure_log" mapstructure:"failure_log"`
}

// CatalogConfig configures the SQLite run catalog.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"` // empty = <root>/.geoindexer/catalog.db
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	families := make([]string, len(indexer.AllFamilies))
	for i, f := range indexer.AllFamilies {
		families[i] = string(f)
	}
	derivations := make([]string, len(indexer.AllDerivations))
	for i, d := range indexer.AllDerivations {
		derivations[i] = string(d)
	}
	extensions := make(map[string][]string)
	for f, exts := range indexer.DefaultExtensions() {
		extensions[string(f)] = exts
	}

	return &Config{
		Search: SearchConfig{
			Families:   families,
			Extensions: extensions,
			Ignore:     indexer.DefaultIgnorePatterns(),
		},
		Extraction: ExtractionConfig{
			Workers: runtime.NumCPU(),
			Timeout: 2 * time.Minute,
		},
		Aggregation: AggregationConfig{
			Derivations: derivations,
		},
		Output: OutputConfig{
			Formats:     []string{storage.FormatGeoJSON},
			ScaleLevels: true,
		},
		Catalog: CatalogConfig{
			Enabled: true,
		},
	}
}

// OutputDir returns the output directory, resolved against the search root.
func (c *Config) OutputDir() string {
	if c.Output.Dir == "" {
		return filepath.Join(c.Search.Root, DirName, "out")
	}
	return resolve(c.Search.Root, c.Output.Dir)
}

// CatalogPath returns the catalog database path, resolved against the search root.
func (c *Config) CatalogPath() string {
	if c.Catalog.Path == "" {
		return filepath.Join(c.Search.Root, DirName, "catalog.db")
	}
	return resolve(c.Search.Root, c.Catalog.Path)
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
