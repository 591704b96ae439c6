package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dendrascience/dendra-blobfs/blobfs"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates and returns the migrate subcommand for the blobfs CLI.
// It runs the folder migration on its own or previews it.
func NewMigrateCmd() *cobra.Command {
	var (
		dryRun  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy numbered folders above the folder watermark",
		Long: `Run the one-time folder migration on the configured container.

Every blob in a numbered folder is copied into a fresh folder above the
highest existing folder number, thumbnails travelling with their image,
and the moves are recorded in the redirect index. A container that
already has a redirect index is left alone.`,
		Run: func(cmd *cobra.Command, args []string) {
			s, err := newSession(cmd)
			if err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
			defer s.close()

			m := blobfs.NewMigrator(s.backend, s.cfg.FileSystem().Migration, s.log)
			if err := runMigrate(cmd.Context(), os.Stdout, m, dryRun, verbose); err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without making changes")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every move")

	return cmd
}

func runMigrate(ctx context.Context, w io.Writer, m *blobfs.Migrator, dryRun, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if dryRun {
		plan, err := m.Plan(ctx)
		if err != nil {
			return err
		}
		if plan.Skipped {
			fmt.Fprintln(w, "Redirect index present, nothing to do")
			return nil
		}
		fmt.Fprintf(w, "DRY RUN: would move %d blobs into folders %d-%d (watermark %d)\n",
			plan.Moves(), plan.Watermark+1, plan.Final(), plan.Watermark)
		if verbose {
			for _, u := range plan.Units {
				for _, mv := range u.Moves {
					fmt.Fprintf(w, "  %s -> %s\n", mv.Old, mv.New)
				}
			}
		}
		return nil
	}

	report, err := m.Run(ctx)
	if report.Skipped {
		fmt.Fprintln(w, "Redirect index present, nothing to do")
		return err
	}
	fmt.Fprintf(w, "Run %s: moved %d blobs, %d failed, folders now end at %d\n",
		report.RunID, len(report.Relocated), len(report.Failed), report.Final)
	if verbose {
		for _, mv := range report.Relocated {
			fmt.Fprintf(w, "  %s -> %s\n", mv.Old, mv.New)
		}
	}
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  FAILED %s -> %s: %v\n", f.Entry.Old, f.Entry.New, f.Err)
	}
	return err
}
