package indexer

import (
	"context"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/indexer/formats"
	"github.com/mvp-joe/geoindexer/internal/logging"
)

// Phase names recorded in the run report.
const (
	PhaseDiscovery   = "discovery"
	PhaseExtraction  = "extraction"
	PhaseAggregation = "aggregation"
)

// Config contains configuration for the indexer.
type Config struct {
	// Root directory to crawl
	RootDir string

	// Families to attempt; Container expands into Raster and Vector layers.
	Families []Family

	// Extensions recognized per family
	Extensions map[Family][]string

	IgnorePatterns []string
	FollowSymlinks bool

	// Workers is the number of concurrent extractions (0 = NumCPU).
	Workers int

	// Timeout bounds each extraction (0 = unbounded).
	Timeout time.Duration

	// ConvexHull uses the convex hull of vector vertices instead of the bound.
	ConvexHull bool

	// TargetCRS is the reconciliation CRS for aggregates; empty means the
	// CRS of the first valid footprint that can be reprojected.
	TargetCRS string

	// Derivations to compute; empty means all.
	Derivations []Derivation
}

// DefaultIgnorePatterns are skipped unless the configuration replaces them.
func DefaultIgnorePatterns() []string {
	return []string{"**/.git/**", "**/__MACOSX/**", "**/.Trash-*/**"}
}

// DefaultConfig returns a configuration searching every family under rootDir.
func DefaultConfig(rootDir string) *Config {
	return &Config{
		RootDir:        rootDir,
		Families:       append([]Family(nil), AllFamilies...),
		Extensions:     DefaultExtensions(),
		IgnorePatterns: DefaultIgnorePatterns(),
		Workers:        runtime.NumCPU(),
		Timeout:        2 * time.Minute,
		Derivations:    append([]Derivation(nil), AllDerivations...),
	}
}

// Result is everything one run produces. A cancelled run still returns a
// Result over the work that completed.
type Result struct {
	Coverage *CoverageResult
	Snapshot *Snapshot
	Records  []FootprintRecord
}

// Indexer runs the engine: validate, crawl, extract, aggregate, finalize.
type Indexer struct {
	cfg          *Config
	logger       *zap.SugaredLogger
	progress     ProgressReporter
	extractors   map[Family]Extractor
	containers   []containerBinding
	transformers Transformers
	ownRegistry  *crs.Registry

	classifier *Classifier
	discovery  *FileDiscovery
	dispatcher *Dispatcher
	enumerator *Enumerator
	pipeline   *Pipeline
	aggregator *Aggregator
}

type containerBinding struct {
	reader ContainerReader
	exts   []string
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithProgress sets the progress reporter.
func WithProgress(p ProgressReporter) Option {
	return func(ix *Indexer) { ix.progress = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(ix *Indexer) { ix.logger = logging.OrNop(l) }
}

// WithExtractor replaces the extractor for a concrete family.
func WithExtractor(f Family, e Extractor) Option {
	return func(ix *Indexer) { ix.extractors[f] = e }
}

// WithoutExtractor removes the extractor of a family. Searching that
// family then fails validation.
func WithoutExtractor(f Family) Option {
	return func(ix *Indexer) { delete(ix.extractors, f) }
}

// WithContainerReader registers an additional container reader.
func WithContainerReader(r ContainerReader, exts ...string) Option {
	return func(ix *Indexer) { ix.containers = append(ix.containers, containerBinding{reader: r, exts: exts}) }
}

// WithoutBuiltinContainers drops the built-in GeoPackage/SpatiaLite reader.
func WithoutBuiltinContainers() Option {
	return func(ix *Indexer) { ix.containers = nil }
}

// WithTransformers sets the CRS transformer source used for aggregation.
func WithTransformers(t Transformers) Option {
	return func(ix *Indexer) { ix.transformers = t }
}

// New creates an indexer. Extractors default to the built-in format
// readers; options may replace any of them.
func New(cfg *Config, opts ...Option) (*Indexer, error) {
	if cfg == nil || cfg.RootDir == "" {
		return nil, errors.New("indexer: root directory is required")
	}
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve root %s", cfg.RootDir)
	}
	c := *cfg
	c.RootDir = root
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultExtensions()
	}

	target := crs.CRS{}
	if c.TargetCRS != "" {
		if target, err = crs.Parse(c.TargetCRS); err != nil {
			return nil, errors.Wrapf(err, "target crs %q", c.TargetCRS)
		}
	}

	lib := formats.NewLibrary()
	ix := &Indexer{
		cfg:      &c,
		logger:   logging.Nop(),
		progress: &NoOpProgressReporter{},
		extractors: map[Family]Extractor{
			FamilyRaster:     NewRasterExtractor(lib),
			FamilyVector:     NewVectorExtractor(lib, c.ConvexHull),
			FamilyPointCloud: NewPointCloudExtractor(lib),
			FamilyImage:      NewImageExtractor(lib),
		},
		containers: []containerBinding{{reader: lib, exts: lib.ContainerExtensions()}},
	}
	for _, opt := range opts {
		opt(ix)
	}

	if ix.transformers == nil {
		reg, err := crs.NewRegistry(0)
		if err != nil {
			return nil, err
		}
		ix.ownRegistry = reg
		ix.transformers = reg
	}

	ix.dispatcher = NewDispatcher(WithTimeout(c.Timeout), WithDispatchLogger(ix.logger))
	for f, e := range ix.extractors {
		ix.dispatcher.Register(f, e)
	}
	ix.enumerator = NewEnumerator(ix.logger)
	for _, b := range ix.containers {
		ix.enumerator.Register(b.reader, b.exts...)
	}

	ix.classifier = NewClassifier(c.Extensions, c.Families)
	ix.discovery, err = NewFileDiscovery(root, ix.classifier, c.IgnorePatterns, c.FollowSymlinks, ix.logger)
	if err != nil {
		ix.Close()
		return nil, err
	}
	ix.pipeline = NewPipeline(ix.classifier, ix.enumerator, ix.dispatcher, c.Workers, ix.progress, ix.logger)
	ix.aggregator = NewAggregator(ix.transformers, target, c.Derivations, ix.logger)
	return ix, nil
}

// Config returns the effective configuration, with an absolute root.
func (ix *Indexer) Config() *Config {
	return ix.cfg
}

// Transformers returns the CRS transformer source shared with output writers.
func (ix *Indexer) Transformers() Transformers {
	return ix.transformers
}

// Validate reports run-fatal configuration errors: a searched family with
// no extractor, or containers searched without any container reader.
func (ix *Indexer) Validate() error {
	err := ix.dispatcher.Validate(ix.cfg.Families)
	for _, f := range ix.cfg.Families {
		if f == FamilyContainer && ix.enumerator.Empty() {
			err = errors.CombineErrors(err, errors.Wrap(ErrNoExtractor, "container: no container reader registered"))
		}
	}
	return err
}

// Run executes one complete run. Configuration errors and an unreadable
// root are returned before anything is dispatched; per-asset failures only
// ever appear in the snapshot.
func (ix *Indexer) Run(ctx context.Context) (*Result, error) {
	if err := ix.Validate(); err != nil {
		return nil, err
	}

	report := NewRunReport()
	log := ix.logger.With(logging.FieldRunID, report.ID())
	log.Infow("Run started", logging.FieldPath, ix.cfg.RootDir)

	phaseStart := time.Now()
	ix.progress.OnDiscoveryStart()
	paths, err := ix.discovery.Discover(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Nothing was found in time; report an empty, cancelled run.
			paths = nil
			report.MarkCancelled(0)
		} else {
			return nil, err
		}
	}
	report.RecordPhase(PhaseDiscovery, time.Since(phaseStart))
	ix.progress.OnDiscoveryComplete(len(paths))
	log.Infow("Discovery complete", logging.FieldCount, len(paths), logging.FieldDuration, time.Since(phaseStart).Milliseconds())

	phaseStart = time.Now()
	records, err := ix.pipeline.Run(ctx, paths, report)
	if err != nil {
		return nil, errors.Wrap(err, "extraction")
	}
	report.RecordPhase(PhaseExtraction, time.Since(phaseStart))

	phaseStart = time.Now()
	ix.progress.OnAggregationStart(len(records))
	coverage := ix.aggregator.Aggregate(records)
	report.RecordPhase(PhaseAggregation, time.Since(phaseStart))

	snapshot := report.Finalize()
	totals := snapshot.Totals()
	log.Infow("Run complete",
		"attempted", totals.Attempted,
		"succeeded", totals.Succeeded,
		"failed", totals.Failed,
		"cancelled", snapshot.Cancelled,
		logging.FieldDuration, snapshot.Elapsed.Milliseconds(),
	)
	ix.progress.OnComplete(snapshot)

	return &Result{Coverage: coverage, Snapshot: snapshot, Records: records}, nil
}

// Close releases the transformer cache when the indexer created it.
func (ix *Indexer) Close() error {
	if ix.ownRegistry != nil {
		ix.ownRegistry.Close()
		ix.ownRegistry = nil
	}
	return nil
}
