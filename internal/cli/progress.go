package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/mvp-joe/geoindexer/internal/indexer"
)

// CLIProgressReporter implements progress reporting with progress bars.
type CLIProgressReporter struct {
	quiet     bool
	out       io.Writer
	bar       *progressbar.ProgressBar
	startTime time.Time
	total     int
	processed int
	failed    int
}

// NewCLIProgressReporter creates a new CLI progress reporter writing to out.
func NewCLIProgressReporter(out io.Writer, quiet bool) *CLIProgressReporter {
	return &CLIProgressReporter{
		quiet:     quiet,
		out:       out,
		startTime: time.Now(),
	}
}

func (c *CLIProgressReporter) OnDiscoveryStart() {
	if c.quiet {
		return
	}
	c.startTime = time.Now()
	fmt.Fprintln(c.out, "Discovering geospatial files...")
}

func (c *CLIProgressReporter) OnDiscoveryComplete(candidates int) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "Found %s candidate files\n", formatNumber(candidates))
}

func (c *CLIProgressReporter) OnExtractionStart(candidates int) {
	if c.quiet {
		return
	}
	c.total = candidates
	c.processed = 0
	c.failed = 0

	c.bar = progressbar.NewOptions(candidates,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionSetDescription("Extracting footprints"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("assets/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(c.out)
		}),
	)
}

// OnContainerExpanded replaces the container's single slot with its layers.
func (c *CLIProgressReporter) OnContainerExpanded(path string, layers int) {
	if c.quiet || c.bar == nil {
		return
	}
	c.total += layers - 1
	if c.total < c.processed {
		c.total = c.processed
	}
	c.bar.ChangeMax(c.total)
}

func (c *CLIProgressReporter) OnAssetProcessed(asset indexer.AssetDescriptor, outcome indexer.Outcome) {
	if c.quiet || c.bar == nil {
		return
	}
	c.processed++
	if !outcome.Succeeded() {
		c.failed++
	}
	// A failing container takes a slot of its own
	if c.processed > c.total {
		c.total = c.processed
		c.bar.ChangeMax(c.total)
	}
	c.bar.Set(c.processed)
	if c.failed > 0 {
		c.bar.Describe(fmt.Sprintf("Extracting footprints (%d failed)", c.failed))
	}
}

func (c *CLIProgressReporter) OnAggregationStart(records int) {
	if c.quiet {
		return
	}
	if c.bar != nil {
		c.bar.Finish()
		c.bar = nil
	}
	fmt.Fprintf(c.out, "Aggregating %s footprints...\n", formatNumber(records))
}

func (c *CLIProgressReporter) OnComplete(snapshot *indexer.Snapshot) {
	if c.quiet {
		return
	}
	totals := snapshot.Totals()
	status := "✓ Indexing complete"
	if snapshot.Cancelled {
		status = "✗ Indexing cancelled"
	}
	fmt.Fprintf(c.out, "%s: %s of %s assets in %.1fs\n",
		status,
		formatNumber(totals.Succeeded),
		formatNumber(totals.Attempted),
		time.Since(c.startTime).Seconds())
}

// formatNumber adds thousands separators.
func formatNumber(n int) string {
	str := fmt.Sprintf("%d", n)
	if n < 1000 && n > -1000 {
		return str
	}

	var result string
	for i, c := range str {
		if i > 0 && str[i-1] != '-' && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(c)
	}
	return result
}

// formatDuration renders a duration as days, hours, minutes or seconds.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	seconds := int(d.Seconds())
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
