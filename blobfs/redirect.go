package blobfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dendrascience/dendra-blobfs/blobstore"
)

// RedirectIndexName is the blob holding the redirect index. Its presence
// also marks the folder renumbering migration as done.
const RedirectIndexName = "redirectListing"

type (
	// RedirectEntry records that the blob at Old now lives at New.
	RedirectEntry struct {
		Old string
		New string
	}
	// RedirectIndex is the ordered, append-only list of relocations. It is
	// stored as "old|new" lines.
	RedirectIndex struct {
		entries []RedirectEntry
	}
)

func (x *RedirectIndex) Add(e RedirectEntry) {
	x.entries = append(x.entries, e)
}

func (x RedirectIndex) Len() int {
	return len(x.entries)
}

func (x RedirectIndex) Get(index int) RedirectEntry {
	if index < 0 || index >= len(x.entries) {
		return RedirectEntry{}
	}
	return x.entries[index]
}

func (x RedirectIndex) Iterate(yield func(RedirectEntry) bool) {
	for _, e := range x.entries {
		if !yield(e) {
			return
		}
	}
}

// match reports where rel lands if old was moved to new. old must equal
// rel or end on a segment boundary of rel.
func (e RedirectEntry) match(rel string) (string, bool) {
	old := strings.TrimSuffix(e.Old, "/")
	if rel == e.Old || rel == old {
		return e.New, true
	}
	if old == "" || !strings.HasPrefix(rel, old+"/") {
		return "", false
	}
	return strings.TrimSuffix(e.New, "/") + rel[len(old):], true
}

// Lookup returns the relocated path of rel from the first matching entry.
func (x RedirectIndex) Lookup(rel string) (string, bool) {
	rel = Normalize(rel)
	if rel == "" {
		return "", false
	}
	for _, e := range x.entries {
		if target, ok := e.match(rel); ok {
			return target, true
		}
	}
	return "", false
}

func (x RedirectIndex) MarshalText() ([]byte, error) {
	var b bytes.Buffer
	for _, e := range x.entries {
		if strings.ContainsAny(e.Old, "|\n") || strings.ContainsAny(e.New, "|\n") {
			return nil, fmt.Errorf("redirect %q -> %q: path contains a separator", e.Old, e.New)
		}
		fmt.Fprintf(&b, "%s|%s\n", e.Old, e.New)
	}
	return b.Bytes(), nil
}

// UnmarshalText replaces the entries with the lines of text. Lines that
// are not exactly "old|new" are skipped.
func (x *RedirectIndex) UnmarshalText(text []byte) error {
	*x = ParseRedirectIndex(string(text))
	return nil
}

func ParseRedirectIndex(text string) RedirectIndex {
	var x RedirectIndex
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		parts := strings.Split(line, "|")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		x.Add(RedirectEntry{Old: parts[0], New: parts[1]})
	}
	return x
}

// LoadRedirectIndex reads the index blob. A missing index is reported as
// ErrNotFound.
func LoadRedirectIndex(ctx context.Context, backend blobstore.Backend) (RedirectIndex, error) {
	r, err := backend.Open(ctx, RedirectIndexName)
	if err != nil {
		return RedirectIndex{}, err
	}
	defer r.Close()
	text, err := io.ReadAll(r)
	if err != nil {
		return RedirectIndex{}, fmt.Errorf("failed to read redirect index: %w", err)
	}
	return ParseRedirectIndex(string(text)), nil
}

// SaveRedirectIndex replaces the whole index blob with x.
func SaveRedirectIndex(ctx context.Context, backend blobstore.Backend, x RedirectIndex) error {
	text, err := x.MarshalText()
	if err != nil {
		return err
	}
	opts := blobstore.UploadOptions{ContentType: "text/plain"}
	if err := backend.Upload(ctx, RedirectIndexName, bytes.NewReader(text), opts); err != nil {
		return fmt.Errorf("failed to write redirect index: %w", err)
	}
	return nil
}

// HasRedirectIndex reports whether the migration marker is present.
func HasRedirectIndex(ctx context.Context, backend blobstore.Backend) (bool, error) {
	ok, err := backend.Exists(ctx, RedirectIndexName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

func isReserved(name string) bool {
	return name == RedirectIndexName || name == WatermarkName
}
