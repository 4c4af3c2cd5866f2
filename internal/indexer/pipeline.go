package indexer

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/geoindexer/internal/logging"
)

// Pipeline runs the classify → enumerate → dispatch pass over candidate
// paths. Workers dispatch concurrently; a single collector goroutine owns
// the record list and reports every outcome.
type Pipeline struct {
	classifier *Classifier
	enumerator *Enumerator
	dispatcher *Dispatcher
	workers    int
	progress   ProgressReporter
	logger     *zap.SugaredLogger
}

// NewPipeline creates a pipeline. workers <= 0 selects runtime.NumCPU().
func NewPipeline(c *Classifier, e *Enumerator, d *Dispatcher, workers int, progress ProgressReporter, logger *zap.SugaredLogger) *Pipeline {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if progress == nil {
		progress = &NoOpProgressReporter{}
	}
	return &Pipeline{
		classifier: c,
		enumerator: e,
		dispatcher: d,
		workers:    workers,
		progress:   progress,
		logger:     logging.OrNop(logger),
	}
}

type eventKind int

const (
	eventOutcome eventKind = iota
	eventExpanded
)

type job struct {
	asset AssetDescriptor
	// path indexes the candidate path the asset came from.
	path int
}

type event struct {
	kind    eventKind
	asset   AssetDescriptor
	outcome Outcome
	layers  int
}

// Run processes paths and returns the footprint records in completion
// order. Cancelling ctx stops new dispatches; in-flight extractions finish
// and everything completed so far is returned with a nil error. The only
// errors are programming errors surfaced by the dispatcher.
func (p *Pipeline) Run(ctx context.Context, paths []string, report *RunReport) ([]FootprintRecord, error) {
	p.progress.OnExtractionStart(len(paths))

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, p.workers)
	events := make(chan event, p.workers)

	// skipped[i] is set when any asset of paths[i] is never processed.
	// The run reports skipped work in candidate paths.
	skipped := make([]atomic.Bool, len(paths))
	skipFrom := func(i int) {
		for j := i; j < len(paths); j++ {
			skipped[j].Store(true)
		}
	}

	g.Go(func() error {
		defer close(jobs)
		for i, path := range paths {
			if gctx.Err() != nil {
				skipFrom(i)
				return nil
			}
			for _, ev := range p.expand(gctx, path) {
				if ev.kind == eventOutcome && ev.outcome.Failure == nil {
					select {
					case jobs <- job{asset: ev.asset, path: i}:
						continue
					case <-gctx.Done():
						skipFrom(i)
						return nil
					}
				}
				select {
				case events <- ev:
				case <-gctx.Done():
					skipFrom(i)
					return nil
				}
			}
		}
		return nil
	})

	for range p.workers {
		g.Go(func() error {
			for j := range jobs {
				if gctx.Err() != nil {
					skipped[j.path].Store(true)
					continue
				}
				outcome, err := p.dispatcher.Dispatch(gctx, j.asset)
				if err != nil {
					return err
				}
				events <- event{kind: eventOutcome, asset: j.asset, outcome: outcome}
			}
			return nil
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Wait()
		close(events)
	}()

	var records []FootprintRecord
	for ev := range events {
		switch ev.kind {
		case eventExpanded:
			p.progress.OnContainerExpanded(ev.asset.Path, ev.layers)
		case eventOutcome:
			family := ev.asset.Family
			if ev.outcome.Failure != nil {
				family = ev.outcome.Failure.Family
			}
			report.Attempt(family)
			report.Record(ev.outcome)
			if ev.outcome.Record != nil {
				records = append(records, *ev.outcome.Record)
			}
			p.progress.OnAssetProcessed(ev.asset, ev.outcome)
		}
	}

	if err := <-errCh; err != nil {
		return records, err
	}
	if ctx.Err() != nil {
		n := 0
		for i := range skipped {
			if skipped[i].Load() {
				n++
			}
		}
		report.MarkCancelled(n)
		p.logger.Warnw("Run cancelled", "skipped_paths", n, logging.FieldCount, len(records))
	}
	return records, nil
}

// expand turns one candidate path into events. Plain files become a single
// job; containers are listed completely, so the handle is released before
// any layer is dispatched. Failures that need no dispatch come back as
// outcome events carrying a FailureEntry.
func (p *Pipeline) expand(ctx context.Context, path string) []event {
	asset, ok := p.classifier.Classify(path)
	if !ok {
		return []event{failureEvent(AssetDescriptor{Path: path, Family: FamilyUnknown}, FailureUnsupportedSubtype, "unrecognized extension")}
	}
	if asset.Family != FamilyContainer {
		return []event{{kind: eventOutcome, asset: asset}}
	}

	layers, err := p.listLayers(ctx, path)
	out := make([]event, 0, len(layers)+1)
	for _, layer := range layers {
		out = append(out, event{kind: eventOutcome, asset: layer})
	}
	if err != nil {
		out = append(out, failureEvent(asset, FailureEnumeration, classify(err).Detail))
	}
	if len(out) == 0 {
		out = append(out, failureEvent(asset, FailureEnumeration, "container has no spatial layers"))
	}

	p.logger.Debugw("Container expanded", logging.FieldPath, path, logging.FieldCount, len(layers))
	return append([]event{{kind: eventExpanded, asset: asset, layers: len(layers)}}, out...)
}

// listLayers drains the enumeration of one container. Layers listed before
// an error are kept; a panicking container reader ends the listing with an
// enumeration error instead of taking the run down.
func (p *Pipeline) listLayers(ctx context.Context, path string) (layers []AssetDescriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warnw("Container reader panicked",
				logging.FieldPath, path,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = newExtractionError(FailureEnumeration, nil, "container reader panicked: %v", r)
		}
	}()
	for layer, lerr := range p.enumerator.Enumerate(ctx, path) {
		if lerr != nil {
			return layers, lerr
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

func failureEvent(asset AssetDescriptor, kind FailureKind, detail string) event {
	return event{
		kind:  eventOutcome,
		asset: asset,
		outcome: Outcome{Failure: &FailureEntry{
			Path:   asset.Path,
			Layer:  asset.Layer,
			Family: asset.Family,
			Kind:   kind,
			Detail: detail,
			Time:   time.Now(),
		}},
	}
}
