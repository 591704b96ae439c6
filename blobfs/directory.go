package blobfs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dendrascience/dendra-blobfs/blobstore"
	"go.uber.org/zap"
)

// folderPrefix is the listing prefix of the folder named by the last
// segment of path, or "" for the container root.
func folderPrefix(path string) string {
	name := blobstore.DirectoryName(Normalize(path))
	if name == "" {
		return ""
	}
	return name + "/"
}

// listPrefix is the listing prefix for the contents of path.
func listPrefix(path string) string {
	p := Normalize(path)
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// DirectoryExists reports whether any blob lives under the folder named by
// the last segment of path. Backend failures are logged and read as false.
func (fs *FileSystem) DirectoryExists(ctx context.Context, path string) bool {
	items, err := fs.backend.List(ctx, folderPrefix(fs.resolver.Relativize(path)), false)
	if err != nil {
		fs.log.Error("failed to list directory", zap.String("path", path), zap.Error(err))
		return false
	}
	for _, item := range items {
		if !isReserved(item.Name) {
			return true
		}
	}
	return false
}

// GetDirectories returns the names of the virtual directories directly
// under path.
func (fs *FileSystem) GetDirectories(ctx context.Context, path string) ([]string, error) {
	items, err := fs.backend.List(ctx, listPrefix(fs.resolver.Relativize(path)), false)
	if err != nil {
		return nil, fmt.Errorf("failed to list directories of %q: %w", path, err)
	}
	var dirs []string
	for _, item := range items {
		if item.IsDirectory {
			dirs = append(dirs, blobstore.DirectoryName(item.Name))
		}
	}
	return dirs, nil
}

// GetFiles returns the blob names directly under path. filter is accepted
// for compatibility with hosts that pass a search pattern and is not
// applied.
func (fs *FileSystem) GetFiles(ctx context.Context, path, filter string) ([]string, error) {
	if filter != "" && filter != "*" && filter != "*.*" {
		fs.log.Debug("file filter is not applied", zap.String("filter", filter))
	}
	items, err := fs.backend.List(ctx, listPrefix(fs.resolver.Relativize(path)), false)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %q: %w", path, err)
	}
	var files []string
	for _, item := range items {
		if !item.IsDirectory && !isReserved(item.Name) {
			files = append(files, item.Name)
		}
	}
	return files, nil
}

// DeleteDirectory removes every blob under the folder named by the last
// segment of path. Numbered folders at or below the watermark are left
// alone. Deletion is always deep; recursive is accepted for hosts that
// pass it.
func (fs *FileSystem) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	prefix := folderPrefix(fs.resolver.Relativize(path))
	if prefix == "" || !fs.DirectoryExists(ctx, path) {
		return nil
	}
	if n, ok := folderNumber(strings.TrimSuffix(prefix, "/")); ok && n <= fs.watermark {
		fs.log.Info("not deleting legacy folder",
			zap.String("folder", prefix), zap.Int("watermark", fs.watermark))
		return nil
	}

	items, err := fs.backend.List(ctx, prefix, true)
	if err != nil {
		return fmt.Errorf("failed to list %q for deletion: %w", prefix, err)
	}
	var errs []error
	for _, item := range items {
		err := fs.backend.Delete(ctx, item.Name)
		if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		fs.cache.markAbsent(fs.resolver.Resolve(item.Name))
	}
	return errors.Join(errs...)
}
