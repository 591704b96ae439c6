// Package main provides the blobfs command-line interface.
//
// blobfs presents a flat blob container (Aliyun OSS, a local directory or
// memory) as a filesystem of folders and files. Legacy numbered folders
// are renumbered once per container and their old paths keep resolving
// through a redirect index.
//
// The main binary supports multiple subcommands:
//   - mount: Mount the configured container at a specified mountpoint
//   - ls, put, get, rm: Work with files and folders
//   - migrate: Run or preview the folder migration
//   - redirects, validate: Inspect and check the redirect index
//   - count: Count blobs per folder
//   - seed: Generate a legacy folder layout for testing
//   - version: Print build information
package main
