package indexer

import (
	"context"
	"iter"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/indexer/formats"
	"github.com/mvp-joe/geoindexer/internal/logging"
)

// Enumerator expands container paths into one concrete-family descriptor
// per internal layer, using a reader chosen by the container's extension.
type Enumerator struct {
	readers map[string]ContainerReader
	logger  *zap.SugaredLogger
}

// NewEnumerator creates an enumerator without readers.
func NewEnumerator(logger *zap.SugaredLogger) *Enumerator {
	return &Enumerator{readers: make(map[string]ContainerReader), logger: logging.OrNop(logger)}
}

// Register binds a container reader to one or more extensions (".gpkg").
func (e *Enumerator) Register(r ContainerReader, exts ...string) {
	for _, ext := range exts {
		e.readers[strings.ToLower(ext)] = r
	}
}

// Empty reports whether no reader is registered.
func (e *Enumerator) Empty() bool {
	return len(e.readers) == 0
}

// Enumerate lists the layers of the container at path lazily. A container
// that cannot be opened or listed yields a single *ExtractionError of kind
// EnumerationError; a layer whose own metadata is broken is still yielded,
// so its failure surfaces when that layer is dispatched. The container
// handle is closed when iteration ends, including on early break.
func (e *Enumerator) Enumerate(ctx context.Context, path string) iter.Seq2[AssetDescriptor, error] {
	return func(yield func(AssetDescriptor, error) bool) {
		ext := strings.ToLower(filepath.Ext(path))
		r, ok := e.readers[ext]
		if !ok {
			yield(AssetDescriptor{}, newExtractionError(FailureEnumeration, nil, "no container reader for %q", ext))
			return
		}

		c, err := r.Open(ctx, path)
		if err != nil {
			yield(AssetDescriptor{}, newExtractionError(FailureEnumeration, err, "open container: %v", err))
			return
		}
		defer func() {
			if err := c.Close(); err != nil {
				e.logger.Warnw("Failed to close container", logging.FieldPath, path, logging.FieldError, err)
			}
		}()

		for layer, err := range c.Layers(ctx) {
			if err != nil {
				yield(AssetDescriptor{}, newExtractionError(FailureEnumeration, err, "list layers: %v", err))
				return
			}

			family := FamilyVector
			if layer.Kind == formats.LayerRaster {
				family = FamilyRaster
			}
			if layer.Err != nil {
				e.logger.Debugw("Layer metadata unreadable",
					logging.FieldPath, path,
					logging.FieldLayer, layer.Name,
					logging.FieldError, layer.Err,
				)
			}

			asset := AssetDescriptor{Path: path, Family: family, Layer: layer.Name, Extension: ext}
			if !yield(asset, nil) {
				return
			}
		}
	}
}
