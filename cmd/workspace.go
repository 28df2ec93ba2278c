package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/workspace"
)

var pushWorkspaceCmd = &cobra.Command{
	Use:   "push-workspace",
	Short: "Write catalog changes to the analyst sheet",
	Long:  "Appends new deals and rewrites changed system-owned cells. Analyst-owned columns are never overwritten.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withReconciler(cmd.Context(), "push-workspace", func(ctx context.Context, r *workspace.Reconciler) (any, error) {
			sum, err := r.Push(ctx)
			if sum != nil {
				fmt.Println(sum.String())
			}
			return sum, err
		})
	},
}

var pullWorkspaceCmd = &cobra.Command{
	Use:   "pull-workspace",
	Short: "Read analyst edits back into the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withReconciler(cmd.Context(), "pull-workspace", func(ctx context.Context, r *workspace.Reconciler) (any, error) {
			sum, err := r.Pull(ctx)
			if sum != nil {
				fmt.Println(sum.String())
			}
			return sum, err
		})
	},
}

var setupWorkspaceCmd = &cobra.Command{
	Use:   "setup-workspace",
	Short: "Prepare the analyst sheet",
	Long:  "Writes the header on an empty sheet and installs dropdowns, status colours and protected system columns.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withReconciler(cmd.Context(), "setup-workspace", func(ctx context.Context, r *workspace.Reconciler) (any, error) {
			if err := r.Setup(ctx); err != nil {
				return nil, err
			}
			fmt.Println("workspace ready")
			return nil, nil
		})
	},
}

func withReconciler(ctx context.Context, command string, fn func(context.Context, *workspace.Reconciler) (any, error)) error {
	if err := cfg.Validate("workspace"); err != nil {
		return err
	}
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	sheet, err := initSheet(ctx)
	if err != nil {
		return err
	}
	return runReconciler(ctx, st, sheet, command, fn)
}

func runReconciler(ctx context.Context, st store.Store, sheet workspace.Sheet, command string, fn func(context.Context, *workspace.Reconciler) (any, error)) error {
	r := workspace.NewReconciler(st, sheet, cfg.Workspace.Owners)
	return recordRun(ctx, st, command, func() (any, error) {
		return fn(ctx, r)
	})
}

func init() {
	rootCmd.AddCommand(pushWorkspaceCmd)
	rootCmd.AddCommand(pullWorkspaceCmd)
	rootCmd.AddCommand(setupWorkspaceCmd)
}
