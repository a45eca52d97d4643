package main

import (
	"context"
	"encoding/json"
	"fmt"

	"quizlab/internal/bootstrap"
	"quizlab/internal/i18n"
	"quizlab/internal/tui"

	"github.com/spf13/cobra"
)

func newUsageCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show AI call and token counters",
		Args:  cobra.NoArgs,
		RunE: withApp(root, func(_ context.Context, app *bootstrap.App, _ []string) error {
			snap := app.Counter.Snapshot()
			if asJSON {
				enc := json.NewEncoder(root.out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			fmt.Fprintln(root.out, tui.FormatUsage(snap))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset call counters; token totals are kept",
		Args:  cobra.NoArgs,
		RunE: withApp(root, func(_ context.Context, app *bootstrap.App, _ []string) error {
			snap := app.Counter.ResetAllCountsForTesting()
			fmt.Fprintln(root.out, i18n.Global().T("usage.reset"))
			fmt.Fprintln(root.out, tui.FormatUsage(snap))
			return nil
		}),
	})
	return cmd
}
