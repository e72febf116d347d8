package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mdschweda/kubernetes-dashboard-auth/cmd/dashauth/internal/services/authn"
)

// newRegistry builds every verifier from the loaded configuration.
func newRegistry() *authn.Registry {
	return authn.NewRegistry(cfg, logger)
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List authentication providers and their configuration problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := newRegistry()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tSELECTED\tSTATUS")
		for _, name := range registry.Names() {
			selected := ""
			if name == cfg.Auth.Provider {
				selected = "*"
			}
			problems := registry.Validate(name)
			if len(problems) == 0 {
				fmt.Fprintf(tw, "%s\t%s\tready\n", name, selected)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, selected, problems[0])
			for _, p := range problems[1:] {
				fmt.Fprintf(tw, "\t\t%s\n", p)
			}
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
