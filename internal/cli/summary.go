package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/mvp-joe/geoindexer/internal/indexer"
)

// maxListedFailures caps the identifiers printed per failure kind; the
// report command prints them all.
const maxListedFailures = 10

// renderStatistics renders the per-family statistics table with a total row.
func renderStatistics(s *indexer.Snapshot) (string, error) {
	data := pterm.TableData{{"Family", "Attempted", "Succeeded", "Failed"}}
	for _, f := range s.Families() {
		c := s.Statistics[f]
		data = append(data, []string{string(f), strconv.Itoa(c.Attempted), strconv.Itoa(c.Succeeded), strconv.Itoa(c.Failed)})
	}
	t := s.Totals()
	data = append(data, []string{"total", strconv.Itoa(t.Attempted), strconv.Itoa(t.Succeeded), strconv.Itoa(t.Failed)})
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// printSnapshot writes the statistics table and the failure mapping.
// limit <= 0 lists every failing identifier.
func printSnapshot(w io.Writer, s *indexer.Snapshot, limit int) error {
	table, err := renderStatistics(s)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, table)

	if s.Cancelled {
		fmt.Fprintf(w, "Run cancelled: %s paths skipped\n", formatNumber(s.Skipped))
	}

	for _, kind := range indexer.FailureKinds {
		ids := s.Failures[kind]
		if len(ids) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d)\n", pterm.Yellow(string(kind)), len(ids))
		shown := ids
		if limit > 0 && len(shown) > limit {
			shown = shown[:limit]
		}
		for _, id := range shown {
			fmt.Fprintf(w, "  %s\n", id)
		}
		if len(shown) < len(ids) {
			fmt.Fprintf(w, "  ... and %d more\n", len(ids)-len(shown))
		}
	}
	return nil
}

// printCoverage lists the derived aggregates of a run.
func printCoverage(w io.Writer, cov *indexer.CoverageResult) {
	fmt.Fprintf(w, "\nFeatures: %s", formatNumber(len(cov.Features.Features)))
	if !cov.Target.IsZero() {
		fmt.Fprintf(w, " (aggregated in %s)", cov.Target.ID())
	}
	fmt.Fprintln(w)
	for _, a := range cov.Aggregates {
		fmt.Fprintf(w, "  %-15s from %s footprints\n", a.Kind, formatNumber(a.Sources))
	}
	if n := len(cov.Unreconciled); n > 0 {
		fmt.Fprintf(w, "  %s footprints could not be transformed to %s\n", formatNumber(n), cov.Target.ID())
	}
}
