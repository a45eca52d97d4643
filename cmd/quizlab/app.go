package main

import (
	"context"
	"errors"

	"quizlab/internal/bootstrap"

	"github.com/spf13/cobra"
)

var errNotFound = errors.New("not found")

// withApp 为子命令组装应用并在结束后关闭
// withApp wires the app for a subcommand and closes it afterwards.
func withApp(root *rootOptions, fn func(ctx context.Context, app *bootstrap.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := root.build()
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd.Context(), app, args)
	}
}
