package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dendrascience/dendra-blobfs/blobstore"
	"go.uber.org/zap"
)

// WatermarkName is the blob recording the highest legacy folder number.
// Folders at or below it are never deleted through DeleteDirectory.
const WatermarkName = "fixDirectoryIssueFile.txt"

// folderNumber parses a virtual directory name. Only non-negative decimal
// integers count as numbered folders.
func folderNumber(name string) (int, bool) {
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// MaxFolderNumber scans the top-level virtual directories and returns the
// highest numeric name, or 0 when there is none.
func MaxFolderNumber(ctx context.Context, backend blobstore.Backend) (int, error) {
	items, err := backend.List(ctx, "", false)
	if err != nil {
		return 0, fmt.Errorf("failed to scan folders: %w", err)
	}
	highest := 0
	for _, item := range items {
		if !item.IsDirectory {
			continue
		}
		if n, ok := folderNumber(blobstore.DirectoryName(item.Name)); ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

// RecoverWatermark reads the watermark blob. When it is absent the
// watermark is computed by scanning and written back.
func RecoverWatermark(ctx context.Context, backend blobstore.Backend, log *zap.Logger) (int, error) {
	r, err := backend.Open(ctx, WatermarkName)
	switch {
	case err == nil:
		defer r.Close()
		text, err := io.ReadAll(r)
		if err != nil {
			return 0, fmt.Errorf("failed to read watermark: %w", err)
		}
		n, ok := folderNumber(strings.TrimSpace(string(text)))
		if !ok {
			log.Error("unreadable watermark, treating as 0", zap.String("content", string(text)))
		}
		return n, nil
	case !errors.Is(err, blobstore.ErrNotFound):
		return 0, fmt.Errorf("failed to open watermark: %w", err)
	}

	n, err := MaxFolderNumber(ctx, backend)
	if err != nil {
		return 0, err
	}
	if err := writeWatermark(ctx, backend, n, log); err != nil {
		return 0, err
	}
	return n, nil
}

// recordWatermark writes n as the watermark unless one is already stored.
// It must run before any folder is renumbered: a later scan would see the
// new folders and protect them.
func recordWatermark(ctx context.Context, backend blobstore.Backend, n int, log *zap.Logger) error {
	ok, err := backend.Exists(ctx, WatermarkName)
	if err != nil {
		return fmt.Errorf("failed to check watermark: %w", err)
	}
	if ok {
		return nil
	}
	return writeWatermark(ctx, backend, n, log)
}

func writeWatermark(ctx context.Context, backend blobstore.Backend, n int, log *zap.Logger) error {
	opts := blobstore.UploadOptions{ContentType: "text/plain"}
	if err := backend.Upload(ctx, WatermarkName, strings.NewReader(strconv.Itoa(n)), opts); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	log.Info("recorded folder watermark", zap.Int("watermark", n))
	return nil
}

// folderAllocator hands out folder numbers above a starting watermark.
type folderAllocator struct {
	highest int
}

func (a *folderAllocator) next() int {
	a.highest++
	return a.highest
}
