package blobfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dendrascience/dendra-blobfs/blobstore"
	"go.uber.org/zap"
)

// Config describes one container exposed as a filesystem.
type Config struct {
	RootURL   string // account URL, e.g. "https://bucket.oss-cn-hangzhou.aliyuncs.com/"
	Container string
	// PublicRead requests anonymous read access when the container is
	// created.
	PublicRead bool
	// MimeTypes maps extensions to Content-Type values and takes precedence
	// over the built-in table.
	MimeTypes map[string]string
	// CacheControl maps extensions, or "*" for all, to Cache-Control values.
	CacheControl map[string]string
	// CacheMaxAge bounds how long a resolved blob reference is trusted.
	// Zero keeps references for the lifetime of the FileSystem.
	CacheMaxAge time.Duration
	Migration   MigrationConfig
}

// Option configures a FileSystem.
type Option func(*FileSystem)

func WithLogger(log *zap.Logger) Option {
	return func(fs *FileSystem) {
		if log != nil {
			fs.log = log
		}
	}
}

// WithClock replaces the clock used for reference cache expiry.
func WithClock(now func() time.Time) Option {
	return func(fs *FileSystem) {
		fs.now = now
	}
}

// FileSystem presents a blob container as folders and files. It is meant
// for one caller at a time; hosts that serve concurrent requests must
// serialize calls.
type FileSystem struct {
	backend   blobstore.Backend
	resolver  Resolver
	cache     *refCache
	headers   headerPolicy
	log       *zap.Logger
	now       func() time.Time
	watermark int
	migration MigrationReport
}

// New prepares the container: it is created if missing, the folder
// watermark is recovered and, unless disabled, the one-time folder
// renumbering runs before New returns.
func New(ctx context.Context, backend blobstore.Backend, cfg Config, opts ...Option) (*FileSystem, error) {
	if cfg.Container == "" {
		return nil, ErrNoContainer
	}
	fs := &FileSystem{
		backend:  backend,
		resolver: NewResolver(cfg.RootURL, cfg.Container),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.log = fs.log.With(zap.String("container", cfg.Container))
	fs.cache = newRefCache(backend, fs.resolver, fs.log, fs.now, cfg.CacheMaxAge)
	fs.headers = newHeaderPolicy(cfg.MimeTypes, cfg.CacheControl, fs.log)

	if err := backend.EnsureContainer(ctx, cfg.PublicRead); err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", cfg.Container, err)
	}

	var err error
	fs.watermark, err = RecoverWatermark(ctx, backend, fs.log)
	if err != nil {
		return nil, err
	}

	if !cfg.Migration.Disabled {
		m := NewMigrator(backend, cfg.Migration, fs.log)
		m.onMove = func(e RedirectEntry) {
			fs.cache.forget(fs.resolver.Resolve(e.Old), fs.resolver.Resolve(e.New))
		}
		fs.migration, err = m.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("folder migration: %w", err)
		}
	}
	return fs, nil
}

// Watermark is the highest legacy folder number protected from deletion.
func (fs *FileSystem) Watermark() int {
	return fs.watermark
}

// Migration reports what the construction-time migration did.
func (fs *FileSystem) Migration() MigrationReport {
	return fs.migration
}

// RootURL is the storage root, ending in "/".
func (fs *FileSystem) RootURL() string {
	return fs.resolver.Root()
}

// redirect looks rel up in the stored redirect index. The index is read on
// every call so relocations by other instances are seen.
func (fs *FileSystem) redirect(ctx context.Context, rel string) (string, bool) {
	index, err := LoadRedirectIndex(ctx, fs.backend)
	if errors.Is(err, blobstore.ErrNotFound) {
		return "", false
	}
	if err != nil {
		fs.log.Error("failed to read redirect index", zap.Error(err))
		return "", false
	}
	return index.Lookup(rel)
}

// resolve returns the address an operation on path should use: the
// relocated blob when the redirect index has an entry for path and the
// target exists, else the literal address.
func (fs *FileSystem) resolve(ctx context.Context, path string) string {
	address := fs.resolver.Resolve(path)
	target, ok := fs.redirect(ctx, fs.resolver.Relativize(address))
	if !ok {
		return address
	}
	targetAddress := fs.resolver.Resolve(target)
	h, err := fs.cache.get(ctx, targetAddress)
	if err != nil {
		fs.log.Error("failed to check redirect target", zap.String("target", target), zap.Error(err))
		return address
	}
	if h == nil {
		return address
	}
	redirectsFollowed.Inc()
	return targetAddress
}

// handle resolves path through the redirect index and the reference cache.
func (fs *FileSystem) handle(ctx context.Context, path string) (*BlobHandle, error) {
	return fs.cache.get(ctx, fs.resolve(ctx, path))
}

// FileExists reports whether path, or its relocated target, exists.
// Backend failures are logged and read as false.
func (fs *FileSystem) FileExists(ctx context.Context, path string) bool {
	h, err := fs.handle(ctx, path)
	if err != nil {
		fs.log.Error("failed to check file", zap.String("path", path), zap.Error(err))
		return false
	}
	return h != nil
}

// AddFile uploads r to path. An existing file is replaced; when overwrite
// is false this is logged as a warning but the write still happens.
//
// The upload always goes to the literal path. If path has been relocated
// and its target still exists, reads keep returning the target, so the
// new content is only visible under the relocated name once that blob is
// removed. Write to the relocated path to update a moved file.
func (fs *FileSystem) AddFile(ctx context.Context, path string, r io.Reader, overwrite bool) error {
	if !overwrite && fs.FileExists(ctx, path) {
		fs.log.Warn("file already exists, overwriting", zap.String("path", path))
	}

	address := fs.resolver.Resolve(path)
	name := fs.resolver.Relativize(address)
	contentType, body, err := fs.headers.contentType(name, r)
	if err != nil {
		return err
	}
	opts := blobstore.UploadOptions{
		ContentType:  contentType,
		CacheControl: fs.headers.cacheControlFor(name),
	}
	err = fs.backend.Upload(ctx, name, body, opts)
	fs.cache.forget(address)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

// DeleteFile removes path, or its relocated target. Deleting a missing file
// is logged and not an error.
func (fs *FileSystem) DeleteFile(ctx context.Context, path string) error {
	address := fs.resolve(ctx, path)
	name := fs.resolver.Relativize(address)
	err := fs.backend.Delete(ctx, name)
	if errors.Is(err, blobstore.ErrNotFound) {
		fs.log.Warn("file to delete not found", zap.String("path", path))
		fs.cache.markAbsent(address)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	fs.cache.markAbsent(address)
	return nil
}

// OpenFile returns the full content of path positioned at the start.
func (fs *FileSystem) OpenFile(ctx context.Context, path string) (*bytes.Reader, error) {
	address := fs.resolve(ctx, path)
	name := fs.resolver.Relativize(address)
	r, err := fs.backend.Open(ctx, name)
	if errors.Is(err, blobstore.ErrNotFound) {
		fs.log.Warn("file to open not found", zap.String("path", path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return bytes.NewReader(data), nil
}

// Stat returns the stored properties of path.
func (fs *FileSystem) Stat(ctx context.Context, path string) (blobstore.Properties, error) {
	h, err := fs.handle(ctx, path)
	if err != nil {
		return blobstore.Properties{}, err
	}
	if h == nil {
		fs.log.Warn("file not found", zap.String("path", path))
		return blobstore.Properties{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return h.Properties, nil
}

// GetLastModified returns the last-modified time of path.
func (fs *FileSystem) GetLastModified(ctx context.Context, path string) (time.Time, error) {
	p, err := fs.Stat(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	return p.LastModified, nil
}

// GetCreated returns the creation time of a file, or of the oldest blob
// of a directory. Stores that do not track creation report the
// last-modified time instead.
func (fs *FileSystem) GetCreated(ctx context.Context, path string) (time.Time, error) {
	h, err := fs.handle(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	if h != nil {
		return created(h.Properties), nil
	}

	prefix := folderPrefix(fs.resolver.Relativize(path))
	if prefix == "" {
		return time.Time{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	items, err := fs.backend.List(ctx, prefix, true)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	var oldest time.Time
	for _, item := range items {
		if t := created(item.Properties); oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	if oldest.IsZero() {
		return time.Time{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return oldest, nil
}

func created(p blobstore.Properties) time.Time {
	if p.Created.IsZero() {
		return p.LastModified
	}
	return p.Created
}

// GetFullPath returns the storage address of path.
func (fs *FileSystem) GetFullPath(path string) string {
	return fs.resolver.Resolve(path)
}

// GetRelativePath strips the storage root from fullPath.
func (fs *FileSystem) GetRelativePath(fullPath string) string {
	return fs.resolver.Relativize(fullPath)
}

// GetURL returns the public URL of path.
func (fs *FileSystem) GetURL(path string) string {
	return fs.resolver.PublicURL(path)
}
