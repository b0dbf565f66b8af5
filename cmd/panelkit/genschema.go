package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/panelkit/panelkit/internal/plugin"
)

// NewGenSchemaCmd creates the gen-schema subcommand: emit the JSON Schema
// for registry metadata records, for registry implementers.
func NewGenSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-schema",
		Short: "Generate the JSON Schema for plugin metadata records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := plugin.GenerateMetadataSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
