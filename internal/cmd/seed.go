package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"
	"strings"

	"github.com/dendrascience/dendra-blobfs/blobfs"
	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/taigrr/colorhash"
)

// seedExtensions are picked at random for generated files. Images may get
// thumbnails.
var seedExtensions = []string{".jpg", ".png", ".pdf", ".dat"}

// NewSeedCmd creates and returns the seed subcommand for the blobfs CLI.
// It fills the configured container with a legacy numbered folder layout.
func NewSeedCmd() *cobra.Command {
	var (
		fileCount   int
		folderCount int
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate a legacy folder layout for testing",
		Long: `Generate test blobs in numbered folders the way legacy containers
were laid out, for trying out the folder migration.

Each file is named after a fresh UUID and holds that UUID as its content.
Its folder (1 to --folders) is derived from a hash of the name. About a
third of the images get a "_thumb" sibling in the same folder.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			s, err := newSession(cmd)
			if err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
			defer s.close()
			if err := runSeed(cmd.Context(), os.Stdout, s.backend, fileCount, folderCount, verbose); err != nil {
				log.Fatalf("Seeding failed: %v", err)
			}
		},
	}

	cmd.Flags().IntVarP(&fileCount, "count", "n", 1000, "Number of files to generate, not counting thumbnails")
	cmd.Flags().IntVar(&folderCount, "folders", 50, "Number of numbered folders")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func randomInt(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}

// seedFolder buckets a file name into one of folders numbered folders.
func seedFolder(name string, folders int) int {
	h := int(colorhash.HashString(name)) % folders
	if h < 0 {
		h = -h
	}
	return h + 1
}

func runSeed(ctx context.Context, w io.Writer, backend blobstore.Backend, fileCount, folderCount int, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if folderCount < 1 {
		return fmt.Errorf("folder count must be positive, got %d", folderCount)
	}
	if migrated, err := blobfs.HasRedirectIndex(ctx, backend); err != nil {
		return err
	} else if migrated {
		fmt.Fprintln(w, "Warning: container is already migrated; seeded folders will not be renumbered")
	}
	if err := backend.EnsureContainer(ctx, false); err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(w, "Generating %d test files in %d folders\n", fileCount, folderCount)
	}

	perFolder := make(map[int]int)
	blobs := 0
	put := func(name, content string) error {
		err := backend.Upload(ctx, name, strings.NewReader(content), blobstore.UploadOptions{})
		if err == nil {
			blobs++
		}
		return err
	}

	for created := 0; created < fileCount; created++ {
		id := uuid.New().String()
		ext := seedExtensions[randomInt(int64(len(seedExtensions)))]
		folder := seedFolder(id, folderCount)
		name := fmt.Sprintf("%d/%s%s", folder, id, ext)

		if err := put(name, id+"\n"); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		perFolder[folder]++

		if (ext == ".jpg" || ext == ".png") && randomInt(3) == 0 {
			thumb := fmt.Sprintf("%d/%s_thumb%s", folder, id, ext)
			if err := put(thumb, id+" thumbnail\n"); err != nil {
				return fmt.Errorf("failed to write %s: %w", thumb, err)
			}
		}

		if verbose && (created+1)%1000 == 0 {
			fmt.Fprintf(w, "Created %d/%d files...\n", created+1, fileCount)
		}
	}

	fmt.Fprintf(w, "Created %d blobs (%d files) across %d folders\n", blobs, fileCount, len(perFolder))
	if verbose && len(perFolder) > 0 {
		maxFiles, minFiles := 0, fileCount
		for _, n := range perFolder {
			maxFiles = max(maxFiles, n)
			minFiles = min(minFiles, n)
		}
		fmt.Fprintf(w, "Folder file counts: min=%d, max=%d\n", minFiles, maxFiles)
	}
	return nil
}
