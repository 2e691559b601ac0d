package main

import (
	"fmt"

	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <project-id>",
	Short: "Mirror a project's tracker issues into the local store",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out, err := a.services.Reconciler.Sync(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Project:  %s\n", out.ProjectID)
		fmt.Fprintf(w, "Status:   %s\n", out.Status)
		fmt.Fprintf(w, "Total:    %d\n", out.Total)
		fmt.Fprintf(w, "New:      %d\n", out.NewIssues)
		fmt.Fprintf(w, "Updated:  %d\n", out.UpdatedIssues)
		fmt.Fprintf(w, "Failed:   %d\n", out.FailedIssues)
		for _, e := range out.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	if out.Status == types.SyncFailed {
		return fmt.Errorf("sync %s failed", out.ProjectID)
	}
	return nil
}
