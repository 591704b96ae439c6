package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dendrascience/dendra-blobfs/blobfs"
	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/spf13/cobra"
)

// NewValidateCmd creates and returns the validate subcommand for the blobfs CLI.
// It checks the redirect index against the blobs in the container.
func NewValidateCmd() *cobra.Command {
	var (
		verbose bool
		repair  bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the redirect index against the container",
		Long: `Validate the redirect index of the configured container.

This command checks that every redirect target exists, that no path is
redirected twice and that the folder watermark is recorded. With --repair,
entries whose target is missing are dropped from the index.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			s, err := newSession(cmd)
			if err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
			defer s.close()

			problems, err := runValidate(cmd.Context(), os.Stdout, s.backend, verbose, repair)
			if err != nil {
				log.Fatalf("Validation failed: %v", err)
			}
			if problems > 0 && !repair {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVarP(&repair, "repair", "r", false, "Drop redirect entries whose target is missing")

	return cmd
}

func runValidate(ctx context.Context, w io.Writer, backend blobstore.Backend, verbose, repair bool) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	problems := 0

	if err := validateWatermark(ctx, w, backend); err != nil {
		if !errors.Is(err, errProblem) {
			return 0, err
		}
		problems++
	}

	index, err := blobfs.LoadRedirectIndex(ctx, backend)
	if errors.Is(err, blobstore.ErrNotFound) {
		fmt.Fprintln(w, "No redirect index: the container has not been migrated")
		return problems, nil
	}
	if err != nil {
		return problems, err
	}

	var kept blobfs.RedirectIndex
	seen := make(map[string]bool, index.Len())
	for e := range index.Iterate {
		if verbose {
			fmt.Fprintf(w, "Checking %s -> %s\n", e.Old, e.New)
		}
		if seen[e.Old] {
			fmt.Fprintf(w, "  - %s is redirected more than once; the first entry wins\n", e.Old)
			problems++
			continue
		}
		seen[e.Old] = true

		ok, err := backend.Exists(ctx, e.New)
		if err != nil {
			return problems, err
		}
		if !ok {
			fmt.Fprintf(w, "  - target %s of %s does not exist\n", e.New, e.Old)
			problems++
			continue
		}
		kept.Add(e)
	}

	if repair && kept.Len() != index.Len() {
		if err := blobfs.SaveRedirectIndex(ctx, backend, kept); err != nil {
			return problems, err
		}
		fmt.Fprintf(w, "Repaired redirect index: kept %d of %d entries\n", kept.Len(), index.Len())
	}

	fmt.Fprintf(w, "Validation complete: %d redirects, %d problems\n", index.Len(), problems)
	return problems, nil
}

var errProblem = errors.New("validation problem")

func validateWatermark(ctx context.Context, w io.Writer, backend blobstore.Backend) error {
	r, err := backend.Open(ctx, blobfs.WatermarkName)
	if errors.Is(err, blobstore.ErrNotFound) {
		fmt.Fprintf(w, "  - watermark %s is missing; the next open rebuilds it from the current folders, which protects any folders already renumbered\n", blobfs.WatermarkName)
		return errProblem
	}
	if err != nil {
		return err
	}
	defer r.Close()
	text, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if _, err := strconv.Atoi(strings.TrimSpace(string(text))); err != nil {
		fmt.Fprintf(w, "  - watermark %s holds %q, not a folder number\n", blobfs.WatermarkName, text)
		return errProblem
	}
	return nil
}
