package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mvp-joe/geoindexer/internal/config"
	"github.com/mvp-joe/geoindexer/internal/storage"
)

var (
	reportRoot string
	reportJSON bool
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show the report of a catalogued run",
	Long: `Show the statistics and every failing asset of a run recorded in the
catalog. Without a run id the most recent run is shown.

Examples:
  geoindexer report
  geoindexer report 3f0c9a4e-... --root /data --json
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := reportRoot
		if root == "" {
			var err error
			if root, err = rootArg(nil); err != nil {
				return err
			}
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		var id string
		if len(args) > 0 {
			id = args[0]
		}
		return showReport(cmd.Context(), cfg, cmd.OutOrStdout(), id, reportJSON)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportRoot, "root", "", "Indexed root whose catalog to read (default: current directory)")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the run report as JSON")
}

func showReport(ctx context.Context, cfg *config.Config, w io.Writer, id string, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	catalog, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer catalog.Close()

	var run *storage.StoredRun
	if id == "" {
		run, err = catalog.LatestRun(ctx)
	} else {
		run, err = catalog.LoadRun(ctx, id)
	}
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run.Snapshot)
	}

	s := run.Snapshot
	fmt.Fprintf(w, "Run %s of %s\n", s.RunID, run.Root)
	fmt.Fprintf(w, "Started %s, took %s\n", s.Started.Local().Format("2006-01-02 15:04:05"), formatDuration(s.Elapsed))
	if err := printSnapshot(w, s, 0); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nFeatures: %s", formatNumber(len(run.Features.Features)))
	if run.TargetCRS != "" {
		fmt.Fprintf(w, " (aggregated in %s)", run.TargetCRS)
	}
	fmt.Fprintln(w)
	return nil
}
