package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mvp-joe/geoindexer/internal/config"
	"github.com/mvp-joe/geoindexer/internal/logging"
	"github.com/mvp-joe/geoindexer/internal/storage"
)

var runsLimit int

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs [root]",
	Short: "List the runs recorded in the catalog",
	Long: `List the indexing runs recorded in the catalog of root, most recent first.

Examples:
  geoindexer runs
  geoindexer runs /data --limit 5
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := rootArg(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		return listRuns(cmd.Context(), cfg, cmd.OutOrStdout(), runsLimit)
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list (0 lists all)")
}

// openCatalog opens the catalog of cfg, failing when none has been written yet.
func openCatalog(cfg *config.Config) (*storage.Catalog, error) {
	path := cfg.CatalogPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf("no catalog at %s; run 'geoindexer index' first", path)
		}
		return nil, errors.Wrap(err, "failed to stat catalog")
	}
	return storage.OpenCatalog(path, logging.Nop())
}

func listRuns(ctx context.Context, cfg *config.Config, w io.Writer, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	catalog, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer catalog.Close()

	runs, err := catalog.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}

	data := pterm.TableData{{"Run", "Started", "Duration", "Succeeded", "Failed", "Features", "Target CRS", "Status"}}
	for _, r := range runs {
		status := "complete"
		if r.Cancelled {
			status = fmt.Sprintf("cancelled (%s skipped)", formatNumber(r.Skipped))
		}
		data = append(data, []string{
			r.ID,
			r.Started.Local().Format("2006-01-02 15:04:05"),
			formatDuration(r.Elapsed),
			fmt.Sprintf("%s/%s", formatNumber(r.Totals.Succeeded), formatNumber(r.Totals.Attempted)),
			formatNumber(r.Totals.Failed),
			formatNumber(r.Features),
			r.TargetCRS,
			status,
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, table)
	return nil
}
