package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flowup/internal/app"
)

var Version = "dev"

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "flowup",
		Short:         "FlowUp - activities with due-date reminders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./flowup.yaml", "path to config (json or yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(addCmd(), editCmd(), completeCmd(true), completeCmd(false), deleteCmd(), listCmd())
	root.AddCommand(remindersCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
