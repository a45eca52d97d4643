package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"quizlab/internal/bootstrap"
	"quizlab/internal/diagnose"
	"quizlab/internal/i18n"
	"quizlab/internal/tui"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	mode         string
	sessionID    string
	continueLast bool
	questionFile string
	essayFile    string
	reportFile   string
}

type replCommand struct {
	name string
	args string
	help string
}

var replCommands = []replCommand{
	{name: "/help", help: "cmd.help"},
	{name: "/new", args: "[mode]", help: "cmd.new"},
	{name: "/sessions", help: "cmd.sessions"},
	{name: "/resume", args: "<session_id>", help: "cmd.resume"},
	{name: "/mode", args: "<mode>", help: "cmd.mode"},
	{name: "/usage", help: "cmd.usage"},
	{name: "/exit", help: "cmd.exit"},
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive tutoring chat",
		Long: "Start an interactive tutoring chat. Modes: " + modeNames() + ".\n" +
			"Replies stream from the configured provider, normally the local proxy (quizlab serve).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.build()
			if err != nil {
				return err
			}
			defer app.Close()

			mgr, err := app.NewDiagnoseManager(nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			in, inErr := newLineInput(root.in, root.out, filepath.Join(filepath.Dir(app.Config.SessionsPath()), "repl.history"))
			if inErr != nil {
				app.Logger.Warn("line editor unavailable, fallback to basic input", "err", inErr)
			}
			defer in.Close()

			r := &repl{app: app, mgr: mgr, in: in, out: root.out, locale: i18n.Global()}
			return r.run(ctx, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(diagnose.ModeGeneral), "conversation mode: "+modeNames())
	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "resume the session with this id")
	cmd.Flags().BoolVarP(&opts.continueLast, "continue", "c", false, "resume the most recently modified session")
	cmd.Flags().StringVar(&opts.questionFile, "question", "", "JSON file with the question context (hint/explain modes)")
	cmd.Flags().StringVar(&opts.essayFile, "essay", "", "JSON file with the essay context (essay_feedback mode)")
	cmd.Flags().StringVar(&opts.reportFile, "report", "", "JSON study report attached in diagnose mode")
	cmd.MarkFlagsMutuallyExclusive("session", "continue")
	return cmd
}

func modeNames() string {
	names := make([]string, 0, len(diagnose.Modes))
	for _, m := range diagnose.Modes {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

// applyChatContext 读取命令行给出的题目、作文和报告文件
// applyChatContext loads the question, essay and report files named on the command line.
func applyChatContext(mgr *diagnose.Manager, opts *chatOptions) error {
	if opts.questionFile != "" {
		var q diagnose.QuestionContext
		if err := readJSONFile(opts.questionFile, &q); err != nil {
			return err
		}
		mgr.SetQuestionContext(&q)
	}
	if opts.essayFile != "" {
		var e diagnose.EssayContext
		if err := readJSONFile(opts.essayFile, &e); err != nil {
			return err
		}
		mgr.SetEssayContext(&e)
	}
	if opts.reportFile != "" {
		path := opts.reportFile
		mgr.SetReportProvider(func() string {
			data, err := os.ReadFile(path)
			if err != nil {
				return ""
			}
			return strings.TrimSpace(string(data))
		})
	}
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

type repl struct {
	app    *bootstrap.App
	mgr    *diagnose.Manager
	in     lineInput
	out    io.Writer
	locale *i18n.I18n
}

func (r *repl) run(ctx context.Context, opts *chatOptions) error {
	if err := r.open(ctx, opts); err != nil {
		return err
	}
	// 开始会话会清空上下文，所以在其后挂载 / starting a session clears context, so attach it afterwards
	if err := applyChatContext(r.mgr, opts); err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.locale.T("repl.welcome", r.mgr.Mode(), r.mgr.SessionID()))
	fmt.Fprintln(r.out, diagnose.WelcomeMessage(r.mgr.Mode()))
	r.printCommands()

	for {
		line, err := r.in.ReadLine("> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(r.out)
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if exit := r.handleCommand(ctx, input); exit {
				return nil
			}
			continue
		}
		r.send(ctx, input)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// open 依据参数开始新会话或恢复已有会话
// open starts a new session or resumes one, depending on the flags.
func (r *repl) open(ctx context.Context, opts *chatOptions) error {
	sessionID := opts.sessionID
	if opts.continueLast {
		latest, err := r.app.Store.LatestSessionID(ctx)
		if err != nil {
			return err
		}
		sessionID = latest
	}
	if sessionID != "" {
		if err := r.mgr.Resume(ctx, sessionID); err != nil {
			return err
		}
		fmt.Fprintln(r.out, r.locale.T("session.loaded", sessionID))
		return nil
	}

	mode, err := diagnose.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	_, err = r.mgr.Start(ctx, mode)
	return err
}

func (r *repl) send(ctx context.Context, text string) {
	streamed := false
	reply, err := r.mgr.Send(ctx, text, func(chunk string) {
		streamed = true
		fmt.Fprint(r.out, chunk)
	})
	if err != nil {
		if streamed {
			fmt.Fprintln(r.out)
		}
		switch {
		case errors.Is(err, diagnose.ErrBusy):
			fmt.Fprintln(r.out, r.locale.T("error.busy"))
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(r.out)
		default:
			fmt.Fprintln(r.out, r.locale.T("error.provider", err))
		}
		return
	}
	if !streamed {
		fmt.Fprint(r.out, tui.RenderMarkdown(reply.Content, 100))
	}
	fmt.Fprintln(r.out)
}

func (r *repl) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	switch parts[0] {
	case "/exit", "/quit":
		return true
	case "/help":
		r.printCommands()
	case "/new":
		mode := r.mgr.Mode()
		if len(parts) > 1 {
			parsed, err := diagnose.ParseMode(parts[1])
			if err != nil {
				fmt.Fprintln(r.out, err)
				return false
			}
			mode = parsed
		}
		id, err := r.mgr.Start(ctx, mode)
		if err != nil {
			fmt.Fprintln(r.out, r.locale.T("error.session", err))
			return false
		}
		fmt.Fprintln(r.out, r.locale.T("session.new", id))
		fmt.Fprintln(r.out, diagnose.WelcomeMessage(mode))
	case "/sessions":
		metas, err := r.app.Store.ListSessionsMeta(ctx)
		if err != nil {
			fmt.Fprintln(r.out, r.locale.T("error.session", err))
			return false
		}
		if len(metas) == 0 {
			fmt.Fprintln(r.out, r.locale.T("repl.no_sessions"))
			return false
		}
		printSessionTable(r.out, metas, r.mgr.SessionID())
	case "/resume", "/use":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "usage: /resume <session_id>")
			return false
		}
		if err := r.mgr.Resume(ctx, parts[1]); err != nil {
			fmt.Fprintln(r.out, r.locale.T("error.session", err))
			return false
		}
		fmt.Fprintln(r.out, r.locale.T("session.loaded", parts[1]))
	case "/mode":
		if len(parts) < 2 {
			fmt.Fprintf(r.out, "%s (%s)\n", r.mgr.Mode(), modeNames())
			return false
		}
		mode, err := diagnose.ParseMode(parts[1])
		if err == nil {
			err = r.mgr.SetMode(mode)
		}
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		fmt.Fprintln(r.out, r.locale.T("repl.mode_switched", mode))
		fmt.Fprintln(r.out, diagnose.WelcomeMessage(mode))
	case "/usage":
		fmt.Fprintln(r.out, tui.FormatUsage(r.app.Counter.Snapshot()))
	default:
		fmt.Fprintln(r.out, r.locale.T("repl.unknown_cmd", parts[0]))
	}
	return false
}

func (r *repl) printCommands() {
	fmt.Fprintln(r.out, "commands:")
	for _, c := range replCommands {
		name := c.name
		if c.args != "" {
			name += " " + c.args
		}
		fmt.Fprintf(r.out, "  %-24s %s\n", name, r.locale.T(c.help))
	}
}
