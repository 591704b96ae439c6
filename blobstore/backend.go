package blobstore

import (
	"context"
	"io"
	"strings"
	"time"
)

// CopyStatus is the state of a server-side copy as reported by the store.
type CopyStatus int

const (
	CopyPending CopyStatus = iota
	CopySuccess
	CopyFailed
	CopyAborted
)

func (s CopyStatus) String() string {
	switch s {
	case CopyPending:
		return "pending"
	case CopySuccess:
		return "success"
	case CopyFailed:
		return "failed"
	case CopyAborted:
		return "aborted"
	}
	return "unknown"
}

// Properties describes a stored blob.
type Properties struct {
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	CacheControl string    `json:"cache_control,omitempty"`
	Created      time.Time `json:"created"`  // zero when the store does not track creation
	LastModified time.Time `json:"modified"`
}

// Item is one entry of a listing. Virtual directories are reported with
// IsDirectory set and a Name ending in "/".
type Item struct {
	Name        string
	IsDirectory bool
	Properties  Properties
}

// UploadOptions carries the HTTP headers stored with a blob.
type UploadOptions struct {
	ContentType  string
	CacheControl string
}

// Backend is a flat blob container addressed by slash-containing names.
type Backend interface {
	// EnsureContainer creates the container if it does not exist yet.
	EnsureContainer(ctx context.Context, publicRead bool) error
	Exists(ctx context.Context, name string) (bool, error)
	// Stat returns ErrNotFound for absent blobs.
	Stat(ctx context.Context, name string) (Properties, error)
	// Upload replaces any existing blob of the same name.
	Upload(ctx context.Context, name string, r io.Reader, opts UploadOptions) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete returns ErrNotFound when there was nothing to delete.
	Delete(ctx context.Context, name string) error
	// List returns the blobs whose names begin with prefix. With flat set
	// every matching blob is returned; otherwise names are cut at the next
	// "/" after the prefix and reported once as virtual directories.
	List(ctx context.Context, prefix string, flat bool) ([]Item, error)
	StartCopy(ctx context.Context, src, dst string) error
	CopyStatus(ctx context.Context, dst string) (CopyStatus, error)
}

// DirectoryName returns the last segment of a virtual directory name, so
// "1000/" and "a/1000/" both yield "1000".
func DirectoryName(name string) string {
	name = strings.TrimSuffix(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// collapse turns a sorted flat name list into a delimiter listing.
func collapse(prefix string, names []string, props func(string) Properties) []Item {
	var items []Item
	seen := make(map[string]bool)
	for _, name := range names {
		rest := strings.TrimPrefix(name, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			dir := prefix + rest[:i+1]
			if !seen[dir] {
				seen[dir] = true
				items = append(items, Item{Name: dir, IsDirectory: true})
			}
			continue
		}
		items = append(items, Item{Name: name, Properties: props(name)})
	}
	return items
}
