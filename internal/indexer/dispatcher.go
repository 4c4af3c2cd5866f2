package indexer

import (
	"context"
	"os"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/logging"
)

// Dispatcher routes concrete-family descriptors to their extractors and
// turns every extractor error into a FailureEntry. It holds no mutable
// state after construction and is safe for concurrent use.
type Dispatcher struct {
	extractors map[Family]Extractor
	timeout    time.Duration
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout bounds each extraction. Zero disables the bound.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithDispatchLogger sets the logger for per-asset debug output.
func WithDispatchLogger(l *zap.SugaredLogger) DispatcherOption {
	return func(disp *Dispatcher) { disp.logger = logging.OrNop(l) }
}

// NewDispatcher creates a dispatcher with no extractors registered.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		extractors: make(map[Family]Extractor),
		logger:     logging.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds an extractor to a concrete family, replacing any previous one.
func (d *Dispatcher) Register(f Family, e Extractor) {
	d.extractors[f] = e
}

// Validate checks, once before any dispatch, that every concrete family
// the crawl will search has an extractor. Container is checked by the
// enumerator, which must have at least one reader.
func (d *Dispatcher) Validate(families []Family) error {
	var errs []error
	for _, f := range families {
		if f == FamilyContainer {
			continue
		}
		if !f.Concrete() {
			errs = append(errs, errors.Newf("unknown family %q", f))
			continue
		}
		if _, ok := d.extractors[f]; !ok {
			errs = append(errs, errors.Wrapf(ErrNoExtractor, "%s", f))
		}
	}
	return errors.Join(errs...)
}

// Dispatch extracts one asset. Extraction failures come back as an Outcome
// carrying a FailureEntry; the returned error is reserved for programming
// errors (a Container descriptor, an unregistered family).
func (d *Dispatcher) Dispatch(ctx context.Context, asset AssetDescriptor) (Outcome, error) {
	if asset.Family == FamilyContainer {
		return Outcome{}, errors.Wrapf(ErrContainerDispatch, "%s", asset.ID())
	}
	ex, ok := d.extractors[asset.Family]
	if !ok {
		return Outcome{}, errors.Wrapf(ErrNoExtractor, "%s (%s)", asset.Family, asset.ID())
	}

	start := d.now()
	fp, err := d.extract(ctx, ex, asset)
	if err == nil {
		err = checkFootprint(fp)
	}
	if err != nil {
		xe := classify(err)
		d.logger.Debugw("Extraction failed",
			logging.FieldPath, asset.Path,
			logging.FieldLayer, asset.Layer,
			logging.FieldKind, xe.Kind,
			logging.FieldError, xe.Detail,
		)
		return Outcome{Failure: &FailureEntry{
			Path:   asset.Path,
			Layer:  asset.Layer,
			Family: asset.Family,
			Kind:   xe.Kind,
			Detail: xe.Detail,
			Time:   d.now(),
		}}, nil
	}

	rec := &FootprintRecord{
		Asset:    asset,
		Geometry: fp.Geometry,
		CRS:      fp.CRS,
		Valid:    fp.Valid,
		DataType: fp.DataType,
	}
	if fi, err := os.Stat(asset.Path); err == nil {
		rec.ModTime = fi.ModTime().UTC().Truncate(time.Second)
	}

	d.logger.Debugw("Extracted footprint",
		logging.FieldPath, asset.Path,
		logging.FieldLayer, asset.Layer,
		logging.FieldFamily, asset.Family,
		"crs", fp.CRS.ID(),
		"valid", fp.Valid,
		logging.FieldDuration, d.now().Sub(start).Milliseconds(),
	)
	return Outcome{Record: rec}, nil
}

// extract runs the extractor detached from run cancellation, so an
// in-flight extraction always finishes, but bounded by the timeout.
func (d *Dispatcher) extract(ctx context.Context, ex Extractor, asset AssetDescriptor) (*Footprint, error) {
	ctx = context.WithoutCancel(ctx)
	if d.timeout <= 0 {
		return d.safeExtract(ctx, ex, asset)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		fp  *Footprint
		err error
	}
	done := make(chan result, 1)
	go func() {
		fp, err := d.safeExtract(ctx, ex, asset)
		done <- result{fp, err}
	}()

	select {
	case r := <-done:
		return r.fp, r.err
	case <-ctx.Done():
		// The reader goroutine is abandoned; it exits when its I/O returns.
		return nil, errors.Wrapf(ErrTimeout, "after %s", d.timeout)
	}
}

// safeExtract turns a panic inside a reader, such as a slice sized from a
// corrupt header, into an Unreadable failure for that asset alone.
func (d *Dispatcher) safeExtract(ctx context.Context, ex Extractor, asset AssetDescriptor) (fp *Footprint, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warnw("Extractor panicked",
				logging.FieldPath, asset.Path,
				logging.FieldLayer, asset.Layer,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			fp, err = nil, newExtractionError(FailureUnreadable, nil, "reader panicked: %v", r)
		}
	}()
	return ex.Extract(ctx, asset)
}

func checkFootprint(fp *Footprint) error {
	switch {
	case fp == nil || fp.Geometry == nil:
		return newExtractionError(FailureEmptyGeometry, nil, "extractor returned no geometry")
	case fp.CRS.IsZero():
		return newExtractionError(FailureMissingCRS, nil, "extractor returned no spatial reference")
	}
	return nil
}
