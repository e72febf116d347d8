package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Redacted().WriteYAML(cmd.OutOrStdout())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without starting the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		audit := config.Validate(cfg)
		if cfg.Auth.Provider != "" {
			for _, p := range newRegistry().Validate(cfg.Auth.Provider) {
				audit.Errorf("%s", p)
			}
		}

		out := cmd.OutOrStdout()
		for _, w := range audit.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		for _, e := range audit.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		if !audit.OK() {
			return fmt.Errorf("configuration has %d problem(s)", len(audit.Errors))
		}
		fmt.Fprintln(out, "Configuration OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}
