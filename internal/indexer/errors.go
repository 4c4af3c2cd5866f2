package indexer

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/mvp-joe/geoindexer/internal/indexer/formats"
)

// Run-fatal and programming errors. None of these is ever recorded as a
// FailureEntry.
var (
	// ErrContainerDispatch is returned when a Container descriptor reaches
	// the dispatcher without being enumerated first.
	ErrContainerDispatch = errors.New("container descriptor dispatched without enumeration")

	// ErrNoExtractor is returned when no extractor is registered for a family.
	ErrNoExtractor = errors.New("no extractor registered for family")

	// ErrRootUnreadable is returned when the search root cannot be read.
	ErrRootUnreadable = errors.New("search root unreadable")

	// ErrTimeout marks an extraction that exceeded the per-asset timeout.
	ErrTimeout = errors.New("extraction timed out")
)

// RootError reports a search root that cannot be read. It matches
// ErrRootUnreadable and unwraps to the filesystem error.
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrRootUnreadable, e.Root, e.Err)
}

func (e *RootError) Unwrap() error { return e.Err }

func (e *RootError) Is(target error) bool { return target == ErrRootUnreadable }

// ExtractionError is a classified per-asset failure.
type ExtractionError struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil && e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func newExtractionError(kind FailureKind, err error, format string, args ...any) *ExtractionError {
	return &ExtractionError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// classify maps any extractor or reader error onto the most specific
// failure kind. Missing CRS and empty geometry win over Unreadable.
func classify(err error) *ExtractionError {
	var xe *ExtractionError
	if errors.As(err, &xe) {
		return xe
	}

	kind := FailureUnreadable
	switch {
	case errors.Is(err, formats.ErrNoCRS):
		kind = FailureMissingCRS
	case errors.Is(err, formats.ErrEmpty):
		kind = FailureEmptyGeometry
	case errors.Is(err, formats.ErrUnsupported):
		kind = FailureUnsupportedSubtype
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &ExtractionError{Kind: FailureUnreadable, Detail: "timed out", Err: err}
	}
	return &ExtractionError{Kind: kind, Detail: err.Error(), Err: err}
}
