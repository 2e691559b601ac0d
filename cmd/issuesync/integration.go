package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var integrationCmd = &cobra.Command{
	Use:   "integration",
	Short: "Inspect tracker integrations",
	Long:  "List configured integrations and test stored credentials without running the server.",
}

var integrationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every configured integration",
	Args:  cobra.NoArgs,
	RunE:  runIntegrationList,
}

var integrationTestCmd = &cobra.Command{
	Use:   "test <project-id>",
	Short: "Check a project's stored credentials against the tracker",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrationTest,
}

func init() {
	integrationCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	integrationCmd.AddCommand(integrationListCmd)
	integrationCmd.AddCommand(integrationTestCmd)
}

func runIntegrationList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	views, err := a.services.Vault.ListAll(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"integrations": views,
			"total":        len(views),
		})
	}

	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No integrations configured.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "PROJECT\tKEY\tBASE URL\tSTATUS\tLAST SYNC")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			v.ProjectID, v.ProjectKey, v.BaseURL, v.SyncStatus, formatTime(v.LastSync))
	}
	return w.Flush()
}

func runIntegrationTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	report, err := a.services.Vault.TestStoredConnection(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), report.Message)
		if report.ProjectName != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Project: %s (%s)\n", report.ProjectName, report.ProjectKey)
		}
	}
	if !report.Connected {
		return fmt.Errorf("integration for %s is not connected", args[0])
	}
	return nil
}
