package cmd

import (
	"github.com/dendrascience/dendra-blobfs/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates and returns the version subcommand for the blobfs CLI.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version.PrintVersion(cmd.OutOrStdout(), "blobfs")
		},
	}
}
