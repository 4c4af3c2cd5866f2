package config

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/mvp-joe/geoindexer/internal/indexer"
)

// ToIndexerConfig converts a validated Config to an indexer.Config.
// Unknown family and derivation names are dropped; Validate reports them.
func (c *Config) ToIndexerConfig() *indexer.Config {
	cfg := &indexer.Config{
		RootDir:        c.Search.Root,
		Extensions:     make(map[indexer.Family][]string, len(c.Search.Extensions)),
		IgnorePatterns: slices.Clone(c.Search.Ignore),
		FollowSymlinks: c.Search.FollowSymlinks,
		Workers:        c.Extraction.Workers,
		Timeout:        c.Extraction.Timeout,
		ConvexHull:     c.Extraction.ConvexHull,
		TargetCRS:      strings.TrimSpace(c.Aggregation.TargetCRS),
	}

	for _, name := range c.Search.Families {
		if f, ok := indexer.ParseFamily(name); ok {
			cfg.Families = append(cfg.Families, f)
		}
	}
	for name, exts := range c.Search.Extensions {
		if f, ok := indexer.ParseFamily(name); ok {
			cfg.Extensions[f] = exts
		}
	}
	for _, name := range c.Aggregation.Derivations {
		if d, ok := indexer.ParseDerivation(name); ok {
			cfg.Derivations = append(cfg.Derivations, d)
		}
	}

	// An output directory inside the root must not be crawled on the next run.
	if c.Output.Dir != "" {
		if rel, err := filepath.Rel(c.Search.Root, c.OutputDir()); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			cfg.IgnorePatterns = append(cfg.IgnorePatterns, filepath.ToSlash(rel)+"/**")
		}
	}

	return cfg
}
