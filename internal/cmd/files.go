package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dendrascience/dendra-blobfs/blobfs"
	"github.com/spf13/cobra"
)

// withFileSystem loads the session, opens the container and hands it to
// fn, exiting on any error.
func withFileSystem(cmd *cobra.Command, fn func(ctx context.Context, files *blobfs.FileSystem) error) {
	s, err := newSession(cmd)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	defer s.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	files, err := s.fileSystem(ctx)
	if err != nil {
		log.Fatalf("Failed to open container %s: %v", s.cfg.Container, err)
	}
	if err := fn(ctx, files); err != nil {
		log.Fatalf("%s failed: %v", cmd.Name(), err)
	}
}

// NewLsCmd creates and returns the ls subcommand for the blobfs CLI.
func NewLsCmd() *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "ls [PATH]",
		Short: "List folders and files",
		Long: `List the virtual folders and files directly under PATH, or under the
container root when PATH is omitted.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			withFileSystem(cmd, func(ctx context.Context, files *blobfs.FileSystem) error {
				return runLs(ctx, os.Stdout, files, path, long)
			})
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show size, modification time and URL")

	return cmd
}

func runLs(ctx context.Context, w io.Writer, files *blobfs.FileSystem, path string, long bool) error {
	dirs, err := files.GetDirectories(ctx, path)
	if err != nil {
		return err
	}
	names, err := files.GetFiles(ctx, path, "")
	if err != nil {
		return err
	}
	for _, d := range dirs {
		fmt.Fprintf(w, "%s/\n", d)
	}
	for _, name := range names {
		if !long {
			fmt.Fprintln(w, name)
			continue
		}
		p, err := files.Stat(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%10d  %s  %s  %s\n", p.Size, p.LastModified.Format(time.RFC3339), name, files.GetURL(name))
	}
	return nil
}

// NewPutCmd creates and returns the put subcommand for the blobfs CLI.
func NewPutCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "put LOCAL_FILE PATH",
		Short: "Upload a file",
		Long: `Upload LOCAL_FILE to PATH in the container. Use "-" to read from stdin.
Content-Type and Cache-Control follow the configured extension tables.`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withFileSystem(cmd, func(ctx context.Context, files *blobfs.FileSystem) error {
				var r io.Reader = os.Stdin
				if args[0] != "-" {
					f, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer f.Close()
					r = f
				}
				if err := files.AddFile(ctx, args[1], r, overwrite); err != nil {
					return err
				}
				fmt.Println(files.GetURL(args[1]))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&overwrite, "force", "f", false, "Do not warn when replacing an existing file")

	return cmd
}

// NewGetCmd creates and returns the get subcommand for the blobfs CLI.
func NewGetCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "Download a file",
		Long: `Download PATH from the container to stdout or to the file given by
--output. Relocated files are found at their old path.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withFileSystem(cmd, func(ctx context.Context, files *blobfs.FileSystem) error {
				var w io.Writer = os.Stdout
				if outputPath != "" {
					f, err := os.Create(outputPath)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				r, err := files.OpenFile(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = r.WriteTo(w)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write to this file instead of stdout")

	return cmd
}

// NewRmCmd creates and returns the rm subcommand for the blobfs CLI.
func NewRmCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm PATH",
		Short: "Delete a file or a folder",
		Long: `Delete the file at PATH, or with -r the whole folder. Legacy folders at
or below the watermark are never deleted.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withFileSystem(cmd, func(ctx context.Context, files *blobfs.FileSystem) error {
				return runRm(ctx, os.Stdout, files, args[0], recursive)
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Delete a folder and everything in it")

	return cmd
}

func runRm(ctx context.Context, w io.Writer, files *blobfs.FileSystem, path string, recursive bool) error {
	if !recursive {
		return files.DeleteFile(ctx, path)
	}
	folder := strings.TrimSuffix(path, "/")
	if err := files.DeleteDirectory(ctx, folder, true); err != nil {
		return err
	}
	if files.DirectoryExists(ctx, folder) {
		fmt.Fprintf(w, "%s is a legacy folder at or below watermark %d and was kept\n", folder, files.Watermark())
	}
	return nil
}
