package main

import (
	"fmt"
	"io"

	"quizlab/internal/bootstrap"
	"quizlab/internal/config"
	"quizlab/internal/tui"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
	ephemeral  bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{in: in, out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:           "quizlab",
		Short:         "AI study assistant: tutoring chat, session history and usage quota",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a JSON/JSONC/YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep sessions and counters in memory only")

	cmd.AddCommand(
		newChatCmd(opts),
		newSessionsCmd(opts),
		newUsageCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w\nsee '%s --help'", err, c.CommandPath())
	})
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// build 加载配置并组装应用；调用方负责 Close
// build loads config and wires the app; the caller must Close it.
func (o *rootOptions) build() (*bootstrap.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(cfg, bootstrap.Options{
		LogWriter: o.errOut,
		Verbose:   o.verbose,
		Notifier:  tui.NewToast(o.errOut, tui.DarkTheme()),
		Ephemeral: o.ephemeral,
	})
}
