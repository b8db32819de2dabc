package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/sigrt/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with runtime configuration files",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigShowCmd(ctx))
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a runtime configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *ctx.configPath
			if _, err := config.Load(path); err != nil {
				violations := config.Violations(err)
				if len(violations) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
					return &exitError{code: 1}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: invalid configuration\n", path)
				for _, violation := range violations {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", violation)
				}
				return &exitError{code: 1}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
	return cmd
}

func newConfigShowCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after defaults and SIGRT_* overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	return cmd
}
