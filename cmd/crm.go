package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/deal-pipeline/internal/crm"
	"github.com/sells-group/deal-pipeline/pkg/salesforce"
)

var crmSyncCmd = &cobra.Command{
	Use:   "crm-sync",
	Short: "Upsert progressed deals as Salesforce opportunities",
	Long:  "Every deal with decision Progress becomes an Opportunity keyed by its deal uid. Stage follows the deal status.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		mode := "crm"
		if dryRun {
			mode = "catalog"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var sf salesforce.Client
		if !dryRun {
			sf, err = initSalesforce()
			if err != nil {
				return err
			}
		}

		syncer := crm.NewSyncer(st, sf)
		return recordRun(ctx, st, "crm-sync", func() (any, error) {
			res, err := syncer.Sync(ctx, dryRun)
			if res != nil {
				fmt.Println(res.String())
			}
			return res, err
		})
	},
}

func init() {
	crmSyncCmd.Flags().Bool("dry-run", false, "log the opportunities without calling Salesforce")
	rootCmd.AddCommand(crmSyncCmd)
}
