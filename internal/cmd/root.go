package cmd

import (
	"github.com/dendrascience/dendra-blobfs/config"
	"github.com/dendrascience/dendra-blobfs/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root cobra command for the blobfs CLI.
// It sets up all subcommands, command groups, and basic configuration.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blobfs",
		Short: "blobfs - folders and files over a flat blob container",
		Long: `blobfs presents a flat blob container as a filesystem of folders and files.

Blob names use "/" as a folder separator. Legacy numbered folders are moved
above the highest existing folder number the first time a container is
opened, and the old paths keep working through the redirect index.

Use subcommands to perform different operations:
  - mount: Mount a container at a specified mountpoint
  - ls, put, get, rm: Work with files and folders
  - migrate: Run or preview the folder migration
  - redirects: Show the redirect index
  - validate: Check the redirect index against the container
  - count: Count blobs per folder
  - seed: Generate a legacy folder layout for testing`,
		Version: version.GetFullVersion(),
	}

	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default $"+config.EnvConfig+")")

	groupUtilities := "utilities"
	groupFilesystem := "filesystem"

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	for _, c := range []*cobra.Command{
		NewMountCmd(),
		NewLsCmd(),
		NewPutCmd(),
		NewGetCmd(),
		NewRmCmd(),
	} {
		c.GroupID = groupFilesystem
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{
		NewMigrateCmd(),
		NewRedirectsCmd(),
		NewValidateCmd(),
		NewCountCmd(),
		NewSeedCmd(),
		NewVersionCmd(),
	} {
		c.GroupID = groupUtilities
		rootCmd.AddCommand(c)
	}

	return rootCmd
}
