package main

import (
	"fmt"

	"quizlab/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold configuration",
	}

	var (
		dir    string
		format string
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a project config template (existing files are left untouched)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.InitProjectConfigScaffold(dir, format)
			if err != nil {
				return err
			}
			fmt.Fprintln(root.out, path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&dir, "dir", "", "target directory (default: current directory)")
	initCmd.Flags().StringVar(&format, "format", "json", "json or yaml")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			cfg.Provider.APIKey = maskSecret(cfg.Provider.APIKey)
			cfg.Proxy.APIKey = maskSecret(cfg.Proxy.APIKey)
			enc := yaml.NewEncoder(root.out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:3] + "****" + s[len(s)-4:]
}
