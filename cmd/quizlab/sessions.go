package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"quizlab/internal/bootstrap"
	"quizlab/internal/chat"
	"quizlab/internal/storage"
	"quizlab/internal/tui"

	"github.com/spf13/cobra"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List, inspect, delete and archive stored sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions, most recently modified first",
			Args:  cobra.NoArgs,
			RunE: withApp(root, func(ctx context.Context, app *bootstrap.App, _ []string) error {
				metas, err := app.Store.ListSessionsMeta(ctx)
				if err != nil {
					return err
				}
				if len(metas) == 0 {
					fmt.Fprintln(root.out, "no sessions")
					return nil
				}
				printSessionTable(root.out, metas, "")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <session_id>",
			Short: "Print a session transcript",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(root, func(ctx context.Context, app *bootstrap.App, args []string) error {
				msgs, ok, err := app.Store.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("session %s: %w", args[0], errNotFound)
				}
				printTranscript(root.out, msgs)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "latest",
			Short: "Print the id of the most recently modified session",
			Args:  cobra.NoArgs,
			RunE: withApp(root, func(ctx context.Context, app *bootstrap.App, _ []string) error {
				id, err := app.Store.LatestSessionID(ctx)
				if err != nil {
					return err
				}
				if id == "" {
					return errNotFound
				}
				fmt.Fprintln(root.out, id)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <session_id>...",
			Short: "Delete sessions and their metadata",
			Args:  cobra.MinimumNArgs(1),
			RunE: withApp(root, func(ctx context.Context, app *bootstrap.App, args []string) error {
				for _, id := range args {
					if err := app.Store.DeleteSession(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(root.out, "deleted %s\n", id)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "export <dir>",
			Short: "Write every session as JSON files into dir",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(root, func(ctx context.Context, app *bootstrap.App, args []string) error {
				n, err := storage.ExportJSON(ctx, app.Store, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(root.out, "exported %d sessions to %s\n", n, args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "import <dir>",
			Short: "Restore sessions from JSON files written by export",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(root, func(ctx context.Context, app *bootstrap.App, args []string) error {
				imported, skipped, err := storage.ImportJSON(ctx, app.Store, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(root.out, "imported %d sessions, skipped %d existing\n", imported, skipped)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "browse",
			Short: "Open the interactive session browser",
			Args:  cobra.NoArgs,
			RunE: withApp(root, func(ctx context.Context, app *bootstrap.App, _ []string) error {
				return tui.RunBrowser(ctx, app.Store, app.Counter)
			}),
		},
	)
	return cmd
}

func printSessionTable(out io.Writer, metas []storage.SessionMeta, current string) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tMODIFIED\tTITLE")
	for _, m := range metas {
		marker := " "
		if m.SessionID == current {
			marker = "*"
		}
		title := m.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\n", marker, m.SessionID, m.ModifiedAt().Format("2006-01-02 15:04"), title)
	}
	_ = tw.Flush()
}

func printTranscript(out io.Writer, msgs []chat.Message) {
	for _, m := range msgs {
		if m.Role == chat.RoleSystem {
			continue
		}
		fmt.Fprintf(out, "[%s]\n%s\n\n", m.Role, m.Content)
	}
}
