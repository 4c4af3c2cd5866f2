package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/config"
	"github.com/mvp-joe/geoindexer/internal/indexer"
	"github.com/mvp-joe/geoindexer/internal/logging"
	"github.com/mvp-joe/geoindexer/internal/storage"
)

// ErrCancelled is returned after an interrupted run has written its partial output.
var ErrCancelled = errors.New("indexing cancelled")

var (
	familiesFlag  []string
	targetCRSFlag string
	workersFlag   int
	timeoutFlag   time.Duration
	outputFlag    string
	formatFlag    []string
	quietFlag     bool
	watchFlag     bool
	noCatalogFlag bool
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index [root]",
	Short: "Index the footprints of every geospatial file under a directory",
	Long: `Index crawls root (default: the current directory) for geospatial files,
extracts each asset's footprint and writes the coverage.

The indexer:
  - Recognizes rasters (GeoTIFF, NITF, DTED), vectors (Shapefile, GeoJSON,
    KML/KMZ), point clouds (LAS/LAZ), geotagged JPEGs and containers
    (GeoPackage, SpatiaLite, FileGDB) whose layers are indexed one by one
  - Records every unreadable, unsupported or unreferenced asset without
    stopping the run
  - Writes coverage.geojson, one file per aggregate and report.json to
    <root>/.geoindexer/out, and optionally a GeoPackage
  - Stores the run in the catalog at <root>/.geoindexer/catalog.db

Examples:
  # Index the current directory
  geoindexer index

  # Index only rasters and vectors, aggregating in WGS 84
  geoindexer index /data --families raster,vector --target-crs EPSG:4326

  # Write GeoJSON and GeoPackage output without progress bars
  geoindexer index /data --format geojson,gpkg --quiet

  # Re-index whenever files change
  geoindexer index /data --watch
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringSliceVar(&familiesFlag, "families", nil, "Families to index (raster, vector, container, pointcloud, image)")
	indexCmd.Flags().StringVar(&targetCRSFlag, "target-crs", "", "CRS for aggregates, e.g. EPSG:4326 (default: CRS of the first reprojectable footprint)")
	indexCmd.Flags().IntVar(&workersFlag, "workers", 0, "Concurrent extractions (default: number of CPUs)")
	indexCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Per-asset extraction timeout (0 disables)")
	indexCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output directory (default: <root>/.geoindexer/out)")
	indexCmd.Flags().StringSliceVar(&formatFlag, "format", nil, "Output formats (geojson, gpkg)")
	indexCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Disable progress bars and non-error output")
	indexCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch for file changes and re-index")
	indexCmd.Flags().BoolVar(&noCatalogFlag, "no-catalog", false, "Do not record the run in the catalog")
}

func runIndex(cmd *cobra.Command, args []string) error {
	// Set up context with cancellation for Ctrl+C
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted! Cancelling indexing...")
			cancel()
		case <-ctx.Done():
		}
	}()

	root, err := rootArg(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if err := applyIndexFlags(cmd, cfg); err != nil {
		return err
	}

	return executeIndex(ctx, cfg, indexOptions{
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		quiet:  quietFlag,
		watch:  watchFlag,
		logger: newLogger(),
	})
}

// applyIndexFlags overrides configuration with the flags that were set and
// validates the result.
func applyIndexFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("families") {
		cfg.Search.Families = familiesFlag
	}
	if flags.Changed("target-crs") {
		cfg.Aggregation.TargetCRS = targetCRSFlag
	}
	if flags.Changed("workers") {
		cfg.Extraction.Workers = workersFlag
	}
	if flags.Changed("timeout") {
		cfg.Extraction.Timeout = timeoutFlag
	}
	if flags.Changed("output") {
		cfg.Output.Dir = outputFlag
	}
	if flags.Changed("format") {
		cfg.Output.Formats = formatFlag
	}
	if noCatalogFlag {
		cfg.Catalog.Enabled = false
	}
	if err := config.Validate(cfg); err != nil {
		return errors.Wrap(err, "invalid flags")
	}
	return nil
}

type indexOptions struct {
	out    io.Writer // summary
	errOut io.Writer // progress
	quiet  bool
	watch  bool
	logger *zap.SugaredLogger
	// extra indexer options, used by tests to substitute extractors
	indexerOpts []indexer.Option
}

// executeIndex runs the indexer once, writes and catalogs the result, and
// in watch mode keeps re-running until ctx is cancelled.
func executeIndex(ctx context.Context, cfg *config.Config, opts indexOptions) error {
	logger := logging.OrNop(opts.logger)

	ixOpts := []indexer.Option{
		indexer.WithLogger(logger),
		indexer.WithProgress(NewCLIProgressReporter(opts.errOut, opts.quiet)),
	}
	ix, err := indexer.New(cfg.ToIndexerConfig(), append(ixOpts, opts.indexerOpts...)...)
	if err != nil {
		return errors.Wrap(err, "failed to create indexer")
	}
	defer ix.Close()

	writers, err := storage.NewWriters(storage.WriterOptions{
		Dir:          cfg.OutputDir(),
		Formats:      cfg.Output.Formats,
		Transformers: ix.Transformers(),
		ScaleLevels:  cfg.Output.ScaleLevels,
		FailureLog:   cfg.Output.FailureLog,
		Logger:       logger,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create writers")
	}

	var catalog *storage.Catalog
	if cfg.Catalog.Enabled {
		catalog, err = storage.OpenCatalog(cfg.CatalogPath(), logger)
		if err != nil {
			return errors.Wrap(err, "failed to open catalog")
		}
		defer catalog.Close()
	}

	publish := func(res *indexer.Result) error {
		// Partial results of a cancelled run are still written.
		wctx := context.WithoutCancel(ctx)
		var written []string
		for _, w := range writers {
			paths, err := w.Write(wctx, res)
			if err != nil {
				return errors.Wrap(err, "failed to write output")
			}
			written = append(written, paths...)
		}
		if catalog != nil {
			if err := catalog.SaveRun(wctx, cfg.Search.Root, res); err != nil {
				return errors.Wrap(err, "failed to catalog run")
			}
		}
		if opts.quiet {
			return nil
		}
		if err := printSnapshot(opts.out, res.Snapshot, maxListedFailures); err != nil {
			return err
		}
		printCoverage(opts.out, res.Coverage)
		fmt.Fprintln(opts.out, "\nWritten:")
		for _, p := range written {
			fmt.Fprintf(opts.out, "  %s\n", p)
		}
		fmt.Fprintf(opts.out, "Run %s\n", res.Snapshot.RunID)
		return nil
	}

	res, err := ix.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "indexing failed")
	}
	if err := publish(res); err != nil {
		return err
	}
	if res.Snapshot.Cancelled {
		return ErrCancelled
	}

	if !opts.watch {
		return nil
	}

	w, err := indexer.NewWatcher(ix, 0, func(res *indexer.Result, err error) {
		if err != nil {
			return
		}
		if err := publish(res); err != nil {
			logger.Errorw("Failed to publish run", logging.FieldRunID, res.Snapshot.RunID, logging.FieldError, err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "failed to start watcher")
	}
	if !opts.quiet {
		fmt.Fprintf(opts.errOut, "Watching %s for changes (Ctrl+C to stop)\n", cfg.Search.Root)
	}
	w.Start(ctx)
	<-ctx.Done()
	w.Stop()

	if !opts.quiet {
		fmt.Fprintln(opts.errOut, "Watch mode stopped")
	}
	return nil
}
