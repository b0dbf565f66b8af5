package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/panelkit/panelkit/internal/config"
	"github.com/panelkit/panelkit/internal/logging"
	"github.com/panelkit/panelkit/internal/plugin"
	luaengine "github.com/panelkit/panelkit/internal/plugin/lua"
)

// NewValidateCmd creates the validate subcommand: fetch a bundle and run
// it through materialization and manifest validation without mounting.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Fetch and validate a plugin bundle",
		RunE:  validateBundle,
	}

	cmd.Flags().String("bundle-url", "", "bundle URL to validate")
	_ = cmd.MarkFlagRequired("bundle-url")

	return cmd
}

func validateBundle(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}
	logger := logging.Setup("panelkit", version, cfg.LogFormat, cmd.ErrOrStderr())

	bundleURL, _ := cmd.Flags().GetString("bundle-url")

	fetcher := plugin.NewBundleFetcher()
	source, err := fetcher.Fetch(cmd.Context(), bundleURL)
	if err != nil {
		return err
	}

	engine := luaengine.NewEngine(luaengine.WithEngineLogger(logger))
	manifest, err := engine.Load(cmd.Context(), source)
	if err != nil {
		return err
	}

	if created, released := engine.Stats(); created != released {
		return oops.In("validate").
			With("created", created).
			With("released", released).
			New("engine leaked a state during validation")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "valid plugin bundle\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  name:    %s\n", manifest.Metadata.Name)
	fmt.Fprintf(cmd.OutOrStdout(), "  version: %s\n", manifest.Metadata.Version)
	fmt.Fprintf(cmd.OutOrStdout(), "  author:  %s\n", manifest.Metadata.Author)
	fmt.Fprintf(cmd.OutOrStdout(), "  hooks:   onMount=%t onUnmount=%t onConfigChange=%t\n",
		manifest.Hooks.OnMount != nil,
		manifest.Hooks.OnUnmount != nil,
		manifest.Hooks.OnConfigChange != nil)
	return nil
}
