package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <source>",
	Short: "Return quarantined deals to the enrichment queue",
	Long:  "Quarantined listings stay out of the queue until requeued, typically after a sector mapping or adapter fix.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		if _, err := siteRegistry().Get(args[0]); err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.RequeueQuarantined(ctx, args[0], reason)
		if err != nil {
			return err
		}
		fmt.Printf("%d %s deals requeued\n", n, args[0])
		return nil
	},
}

func init() {
	requeueCmd.Flags().String("reason", "", "only requeue deals quarantined for this reason code (e.g. duplicate_canonical_id)")
	rootCmd.AddCommand(requeueCmd)
}
