package config

import (
	"maps"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/indexer"
	"github.com/mvp-joe/geoindexer/internal/storage"
)

var (
	// ErrEmptyRoot indicates a missing search root
	ErrEmptyRoot = errors.New("empty search root")

	// ErrInvalidFamily indicates an unknown asset family
	ErrInvalidFamily = errors.New("invalid family")

	// ErrInvalidExtension indicates an extension without a leading dot
	ErrInvalidExtension = errors.New("invalid extension")

	// ErrInvalidWorkers indicates a negative worker count
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidTimeout indicates a negative extraction timeout
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidCRS indicates a target CRS that cannot be parsed
	ErrInvalidCRS = errors.New("invalid target crs")

	// ErrInvalidDerivation indicates an unknown aggregate kind
	ErrInvalidDerivation = errors.New("invalid derivation")

	// ErrInvalidFormat indicates an unknown output format
	ErrInvalidFormat = errors.New("invalid output format")
)

// ValidationError collects every problem found by Validate.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, err := range e.Problems {
		msgs[i] = err.Error()
	}
	return "validation failed:\n  - " + strings.Join(msgs, "\n  - ")
}

// Unwrap exposes the problems to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error
	errs = append(errs, validateSearch(&cfg.Search)...)
	errs = append(errs, validateExtraction(&cfg.Extraction)...)
	errs = append(errs, validateAggregation(&cfg.Aggregation)...)
	errs = append(errs, validateOutput(&cfg.Output)...)
	return joinErrors(errs)
}

func validateSearch(cfg *SearchConfig) []error {
	var errs []error

	if strings.TrimSpace(cfg.Root) == "" {
		errs = append(errs, errors.Wrap(ErrEmptyRoot, "search.root is required"))
	}

	for _, name := range cfg.Families {
		if _, ok := indexer.ParseFamily(name); !ok {
			errs = append(errs, errors.Wrapf(ErrInvalidFamily, "unknown family %q (valid: %s)", name, familyList()))
		}
	}

	for _, name := range slices.Sorted(maps.Keys(cfg.Extensions)) {
		if _, ok := indexer.ParseFamily(name); !ok {
			errs = append(errs, errors.Wrapf(ErrInvalidFamily, "extensions for unknown family %q", name))
			continue
		}
		for _, ext := range cfg.Extensions[name] {
			if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
				errs = append(errs, errors.Wrapf(ErrInvalidExtension, "%s extension %q must start with a dot", name, ext))
			}
		}
	}

	return errs
}

func validateExtraction(cfg *ExtractionConfig) []error {
	var errs []error

	// Zero means one worker per CPU
	if cfg.Workers < 0 {
		errs = append(errs, errors.Wrapf(ErrInvalidWorkers, "workers cannot be negative, got %d", cfg.Workers))
	}

	// Zero means no per-asset timeout
	if cfg.Timeout < 0 {
		errs = append(errs, errors.Wrapf(ErrInvalidTimeout, "timeout cannot be negative, got %s", cfg.Timeout))
	}

	return errs
}

func validateAggregation(cfg *AggregationConfig) []error {
	var errs []error

	if cfg.TargetCRS != "" {
		if _, err := crs.Parse(cfg.TargetCRS); err != nil {
			errs = append(errs, errors.Wrapf(ErrInvalidCRS, "target_crs %q: %v", cfg.TargetCRS, err))
		}
	}

	for _, name := range cfg.Derivations {
		if _, ok := indexer.ParseDerivation(name); !ok {
			errs = append(errs, errors.Wrapf(ErrInvalidDerivation, "unknown derivation %q (valid: union, centroids, union_centroid)", name))
		}
	}

	return errs
}

func validateOutput(cfg *OutputConfig) []error {
	var errs []error

	for _, name := range cfg.Formats {
		if !slices.Contains(storage.Formats, strings.ToLower(name)) {
			errs = append(errs, errors.Wrapf(ErrInvalidFormat, "unknown format %q (valid: %s)", name, strings.Join(storage.Formats, ", ")))
		}
	}

	return errs
}

func familyList() string {
	names := make([]string, len(indexer.AllFamilies))
	for i, f := range indexer.AllFamilies {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// joinErrors combines multiple errors into a single error with clear formatting.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return &ValidationError{Problems: errs}
}
