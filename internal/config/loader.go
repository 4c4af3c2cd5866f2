package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir    string
	configFile string
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

// NewFileLoader creates a loader that reads an explicit config file instead
// of searching <root>/.geoindexer. A missing file is an error.
func NewFileLoader(rootDir, configFile string) Loader {
	return &loader{rootDir: rootDir, configFile: configFile}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (GEOINDEXER_*)
// 2. Config file (.geoindexer/config.yml or .geoindexer/config.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	root, err := filepath.Abs(l.rootDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve root %s", l.rootDir)
	}

	v := viper.New()

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(root, DirName))
	}

	// Replace . with _ in env var names (e.g., GEOINDEXER_EXTRACTION_WORKERS)
	v.SetEnvPrefix("GEOINDEXER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	setDefaults(v, root)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - we'll use defaults + env vars
		var notFound viper.ConfigFileNotFoundError
		if l.configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	cfg.Search.Root = resolve(root, cfg.Search.Root)
	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	for _, key := range []string{
		"search.root",
		"search.families",
		"search.ignore",
		"search.follow_symlinks",
		"extraction.workers",
		"extraction.timeout",
		"extraction.convex_hull",
		"aggregation.target_crs",
		"aggregation.derivations",
		"output.dir",
		"output.formats",
		"output.scale_levels",
		"output.failure_log",
		"catalog.enabled",
		"catalog.path",
	} {
		v.BindEnv(key)
	}
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper, root string) {
	defaults := Default()

	v.SetDefault("search.root", root)
	v.SetDefault("search.families", defaults.Search.Families)
	v.SetDefault("search.extensions", defaults.Search.Extensions)
	v.SetDefault("search.ignore", defaults.Search.Ignore)
	v.SetDefault("search.follow_symlinks", defaults.Search.FollowSymlinks)

	v.SetDefault("extraction.workers", defaults.Extraction.Workers)
	v.SetDefault("extraction.timeout", defaults.Extraction.Timeout)
	v.SetDefault("extraction.convex_hull", defaults.Extraction.ConvexHull)

	v.SetDefault("aggregation.target_crs", defaults.Aggregation.TargetCRS)
	v.SetDefault("aggregation.derivations", defaults.Aggregation.Derivations)

	v.SetDefault("output.dir", defaults.Output.Dir)
	v.SetDefault("output.formats", defaults.Output.Formats)
	v.SetDefault("output.scale_levels", defaults.Output.ScaleLevels)
	v.SetDefault("output.failure_log", defaults.Output.FailureLog)

	v.SetDefault("catalog.enabled", defaults.Catalog.Enabled)
	v.SetDefault("catalog.path", defaults.Catalog.Path)
}

// LoadConfigFromDir loads configuration for a specific root directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}

// LoadConfig loads configuration for the current working directory.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}
	return NewLoader(wd).Load()
}
