package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dendrascience/dendra-blobfs/blobfs"
	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/spf13/cobra"
)

// NewRedirectsCmd creates and returns the redirects subcommand for the blobfs CLI.
func NewRedirectsCmd() *cobra.Command {
	var lookup string

	cmd := &cobra.Command{
		Use:   "redirects",
		Short: "Show the redirect index",
		Long: `Print the redirect index written by the folder migration, one
"old -> new" pair per line. With --lookup, print only where PATH redirects.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			s, err := newSession(cmd)
			if err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
			defer s.close()
			if err := runRedirects(cmd.Context(), os.Stdout, s.backend, lookup); err != nil {
				log.Fatalf("Failed to read redirect index: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&lookup, "lookup", "", "Show the redirect target of this path")

	return cmd
}

func runRedirects(ctx context.Context, w io.Writer, backend blobstore.Backend, lookup string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	index, err := blobfs.LoadRedirectIndex(ctx, backend)
	if errors.Is(err, blobstore.ErrNotFound) {
		fmt.Fprintln(w, "No redirect index: the container has not been migrated")
		return nil
	}
	if err != nil {
		return err
	}

	if lookup != "" {
		if target, ok := index.Lookup(blobfs.Normalize(lookup)); ok {
			fmt.Fprintln(w, target)
		} else {
			fmt.Fprintf(w, "%s is not redirected\n", lookup)
		}
		return nil
	}

	for e := range index.Iterate {
		fmt.Fprintf(w, "%s -> %s\n", e.Old, e.New)
	}
	fmt.Fprintf(w, "%d redirects\n", index.Len())
	return nil
}
