package cli

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/config"
	"github.com/mvp-joe/geoindexer/internal/logging"
)

var (
	cfgFile   string
	verbosity int
	logJSON   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "geoindexer",
	Short: "Index the spatial footprints of geospatial files",
	Long: `geoindexer crawls a directory tree for rasters, vectors, point clouds,
geotagged images and multi-layer containers, extracts the footprint of every
asset and writes a coverage dataset with per-asset features and derived
aggregates (union, centroids).

Settings are read from <root>/.geoindexer/config.yml and GEOINDEXER_*
environment variables; command flags win over both.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <root>/.geoindexer/config.yml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")
}

func newLogger() *zap.SugaredLogger {
	return logging.New(logging.Options{Verbosity: verbosity, JSON: logJSON})
}

// loadConfig loads the configuration for root, honoring --config.
func loadConfig(root string) (*config.Config, error) {
	if cfgFile != "" {
		return config.NewFileLoader(root, cfgFile).Load()
	}
	return config.LoadConfigFromDir(root)
}

// rootArg returns the first positional argument, or the working directory.
func rootArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get working directory")
	}
	return wd, nil
}
