package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MetaDir holds the JSON sidecars of a Dir store.
const MetaDir = ".blobmeta"

// Dir stores blobs as files below Root. Blob names map to slash-separated
// relative paths; headers and creation times live in sidecars under
// Root/.blobmeta so listings only see blob files.
type Dir struct {
	Root string
}

// NewDir returns a store rooted at root. The directory is created by
// EnsureContainer.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) blobPath(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." || seg == "." || seg == MetaDir {
			return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
		}
	}
	return filepath.Join(d.Root, filepath.FromSlash(name)), nil
}

func (d *Dir) metaPath(name string) string {
	return filepath.Join(d.Root, MetaDir, filepath.FromSlash(name)+".json")
}

func (d *Dir) readMeta(name string) Properties {
	var p Properties
	f, err := os.Open(d.metaPath(name))
	if err != nil {
		return p
	}
	defer f.Close()
	json.NewDecoder(f).Decode(&p)
	return p
}

func (d *Dir) writeMeta(name string, p Properties) error {
	path := d.metaPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(p)
}

func (d *Dir) EnsureContainer(ctx context.Context, publicRead bool) error {
	if err := os.MkdirAll(filepath.Join(d.Root, MetaDir), 0o755); err != nil {
		return fmt.Errorf("failed to create container directory: %w", err)
	}
	return nil
}

func (d *Dir) Exists(ctx context.Context, name string) (bool, error) {
	_, err := d.Stat(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Dir) Stat(ctx context.Context, name string) (Properties, error) {
	path, err := d.blobPath(name)
	if err != nil {
		return Properties{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return Properties{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Properties{}, err
	}
	p := d.readMeta(name)
	p.Size = info.Size()
	p.LastModified = info.ModTime().UTC()
	return p, nil
}

func (d *Dir) Upload(ctx context.Context, name string, r io.Reader, opts UploadOptions) error {
	path, err := d.blobPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory structure: %w", err)
	}

	created := d.readMeta(name).Created
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	return d.writeMeta(name, Properties{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		Created:      created,
	})
}

func (d *Dir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := d.blobPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return f, err
}

func (d *Dir) Delete(ctx context.Context, name string) error {
	path, err := d.blobPath(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return err
	}
	os.Remove(d.metaPath(name))
	d.pruneEmpty(filepath.Dir(path))
	return nil
}

// pruneEmpty removes directories left empty by a delete, up to Root.
func (d *Dir) pruneEmpty(dir string) {
	root := filepath.Clean(d.Root)
	for dir != root && strings.HasPrefix(dir, root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (d *Dir) names(prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == d.Root {
				return fs.SkipAll
			}
			return err
		}
		if entry.IsDir() {
			if entry.Name() == MetaDir {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (d *Dir) List(ctx context.Context, prefix string, flat bool) ([]Item, error) {
	names, err := d.names(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	props := func(name string) Properties {
		p, _ := d.Stat(ctx, name)
		return p
	}
	if !flat {
		return collapse(prefix, names, props), nil
	}
	items := make([]Item, 0, len(names))
	for _, name := range names {
		items = append(items, Item{Name: name, Properties: props(name)})
	}
	return items, nil
}

// StartCopy copies synchronously; CopyStatus reports success once the
// destination exists.
func (d *Dir) StartCopy(ctx context.Context, src, dst string) error {
	meta, err := d.Stat(ctx, src)
	if err != nil {
		return err
	}
	r, err := d.Open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	return d.Upload(ctx, dst, r, UploadOptions{
		ContentType:  meta.ContentType,
		CacheControl: meta.CacheControl,
	})
}

func (d *Dir) CopyStatus(ctx context.Context, dst string) (CopyStatus, error) {
	ok, err := d.Exists(ctx, dst)
	if err != nil {
		return CopyFailed, err
	}
	if !ok {
		return CopyFailed, fmt.Errorf("%s: %w", dst, ErrNoCopy)
	}
	return CopySuccess, nil
}
