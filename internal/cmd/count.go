package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/spf13/cobra"
)

// NewCountCmd creates and returns the count subcommand for the blobfs CLI.
// It counts blobs per top-level folder.
func NewCountCmd() *cobra.Command {
	var (
		prefix       string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "count [PREFIX]",
		Short: "Count blobs per folder",
		Long: `Count the blobs in the configured container, grouped by top-level folder.

This is a utility command that lists every blob under PREFIX (the whole
container by default). Blobs outside any folder are counted under "/".`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 0 {
				prefix = args[0]
			}
			s, err := newSession(cmd)
			if err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
			defer s.close()
			if err := runCount(cmd.Context(), os.Stdout, s.backend, prefix, showProgress); err != nil {
				log.Fatalf("Error counting blobs: %v", err)
			}
		},
	}

	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Only count blobs under this prefix")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show progress every 10,000 blobs")

	return cmd
}

func runCount(ctx context.Context, w io.Writer, backend blobstore.Backend, prefix string, showProgress bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	items, err := backend.List(ctx, prefix, true)
	if err != nil {
		return err
	}

	perFolder := make(map[string]int)
	count := 0
	for _, item := range items {
		folder := "/"
		if i := strings.Index(item.Name, "/"); i >= 0 {
			folder = item.Name[:i]
		}
		perFolder[folder]++
		count++
		if showProgress && count%10000 == 0 {
			fmt.Fprintf(w, "Progress: %d blobs counted\n", count)
		}
	}

	folders := make([]string, 0, len(perFolder))
	for f := range perFolder {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	for _, f := range folders {
		fmt.Fprintf(w, "%-12s %d\n", f, perFolder[f])
	}
	fmt.Fprintf(w, "Total blobs: %d in %d folders\n", count, len(folders))
	return nil
}
