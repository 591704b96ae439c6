// Package cmd provides the command-line interface implementation for blobfs.
//
// This package contains all the subcommand implementations for the blobfs CLI tool.
// It uses the Cobra library for command structure and Fang for styling.
//
// The package is organized into the following commands:
//   - root: Main command coordinator and entry point
//   - mount: FUSE mount of the configured container
//   - ls, put, get, rm: File and folder operations through blobfs.FileSystem
//   - migrate: Folder migration, with a dry-run preview
//   - redirects, validate: Redirect index inspection and checking
//   - count: Blob counts per folder
//   - seed: Legacy layout generator for testing the migration
//
// Every storage command reads the YAML config named by --config or
// BLOBFS_CONFIG and builds its logger and backend from it.
package cmd
