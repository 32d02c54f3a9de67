package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"voicegrade/internal/api"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain the record index",
	}
	indexCmd.AddCommand(newIndexReconcileCommand(ctx))
	return indexCmd
}

func newIndexReconcileCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild index entries from detail documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			report, err := rt.service.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			printReconcile(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func printReconcile(out io.Writer, report api.ReconcileResponse) {
	fmt.Fprintf(out, "Scanned %d detail documents\n", report.Scanned)
	if !report.Changed {
		fmt.Fprintln(out, "Index already consistent")
	}
	for _, group := range []struct {
		label string
		ids   []string
	}{
		{"Added", report.Added},
		{"Repaired", report.Repaired},
		{"Removed", report.Removed},
		{"Duplicates", report.Duplicates},
		{"Unreadable", report.Unreadable},
	} {
		if len(group.ids) == 0 {
			continue
		}
		fmt.Fprintf(out, "%s (%d): %s\n", group.label, len(group.ids), strings.Join(group.ids, ", "))
	}
}
