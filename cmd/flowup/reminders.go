package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"flowup/internal/app"
)

func remindersCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "List pending reminders in fire order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rows, err := a.Reminders().Pending(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no pending reminders")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ACTIVITY\tFIRE AT\tGEN\tTITLE")
				for _, r := range rows {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", r.ActivityID, r.FireAt().Local().Format("2006-01-02 15:04"), r.Generation, r.Title)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}
