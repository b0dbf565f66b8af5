package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the PanelKit CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panelkit",
		Short: "PanelKit - a host for remotely-fetched dashboard plugins",
		Long: `PanelKit fetches externally-authored plugin bundles over HTTP,
validates them against the manifest contract, and runs them with a
controlled lifecycle, a scoped backend API channel, and crash containment.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewGenSchemaCmd())

	return cmd
}
