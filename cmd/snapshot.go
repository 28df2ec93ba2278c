package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-pipeline/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Record this week's pipeline snapshot",
	Long:  "Aggregates every catalog deal by industry, funnel status and source under the ISO week key. An existing week is left alone unless --force is given.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		asOf, err := parseAsOf(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return recordRun(ctx, st, "snapshot", func() (any, error) {
			res, err := snapshot.NewBuilder(st).Build(ctx, asOf, force)
			if err != nil {
				return nil, err
			}
			fmt.Println(res.String())
			return res, nil
		})
	},
}

// parseAsOf reads --as-of as a date, defaulting to now.
func parseAsOf(cmd *cobra.Command) (time.Time, error) {
	raw, _ := cmd.Flags().GetString("as-of")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid --as-of %q (want YYYY-MM-DD)", raw)
	}
	return t, nil
}

func init() {
	snapshotCmd.Flags().Bool("force", false, "replace the snapshot when the week already has one")
	snapshotCmd.Flags().String("as-of", "", "snapshot the week containing this date (YYYY-MM-DD)")
	rootCmd.AddCommand(snapshotCmd)
}
