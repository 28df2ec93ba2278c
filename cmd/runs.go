package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-pipeline/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		switch {
		case asJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		case len(runs) == 0:
			fmt.Fprintln(os.Stderr, "no runs recorded")
		default:
			formatRunsList(os.Stdout, runs)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsCmd.Flags().Bool("json", false, "print runs with their summaries as JSON")
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList prints one row per run, newest first as returned by the store.
func formatRunsList(out io.Writer, runs []model.Run) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer tw.Flush() //nolint:errcheck

	_, _ = fmt.Fprintln(tw, "ID\tCOMMAND\tSOURCE\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		took := "-"
		if r.FinishedAt != nil {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), r.Command, orDash(model.Deref(r.Source)), r.Status,
			r.StartedAt.Format("2006-01-02 15:04"), took)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncateID shortens a run uuid to its first block.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
