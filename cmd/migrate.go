package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/deal-pipeline/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply catalog schema migrations",
	Long:  "Applies pending embedded migrations for the configured driver, then recomputes derived financial values.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}

		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		if err := st.SchemaGuard(ctx); err != nil {
			return err
		}
		n, err := st.RecomputeEffectiveFields(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("schema up to date (%s); %d deals recomputed\n", cfg.Store.Driver, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
