package blobfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// sniffLen is how much of an upload is buffered for content detection.
const sniffLen = 3072

var builtinMimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"pdf":  "application/pdf",
	"air":  "application/vnd.adobe.air-application-installer-package+zip",
}

var cacheDirectives = []string{"public", "private", "no-store", "no-cache"}

// extension returns the lowercased extension of the last path segment,
// without the dot.
func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(path.Base(name)), "."))
}

func normalizeKey(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// ParseTable reads the "key|value;key|value" form used for extension
// tables. Entries without a separator are skipped.
func ParseTable(s string) map[string]string {
	table := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(pair, "|")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		table[normalizeKey(key)] = strings.TrimSpace(value)
	}
	return table
}

func isMaxAge(s string) bool {
	name, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok || strings.TrimSpace(name) != "max-age" {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSpace(value))
	return err == nil
}

func isDirective(s string) bool {
	s = strings.TrimSpace(s)
	for _, d := range cacheDirectives {
		if s == d {
			return true
		}
	}
	return false
}

// ValidCacheControl lowercases v and checks it is one of public, private,
// no-store or no-cache, optionally followed by ",max-age=N", or a bare
// "max-age=N".
func ValidCacheControl(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	parts := strings.Split(v, ",")
	switch {
	case len(parts) > 1 && isDirective(parts[0]) && isMaxAge(parts[1]):
		return v, nil
	case len(parts) == 1 && (isDirective(v) || isMaxAge(v)):
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrCacheControl, v)
}

// headerPolicy picks the Content-Type and Cache-Control of uploads.
type headerPolicy struct {
	mimeTypes    map[string]string
	cacheControl map[string]string
}

func newHeaderPolicy(mimeTypes, cacheControl map[string]string, log *zap.Logger) headerPolicy {
	h := headerPolicy{
		mimeTypes:    make(map[string]string, len(mimeTypes)),
		cacheControl: make(map[string]string, len(cacheControl)),
	}
	for ext, typ := range mimeTypes {
		if typ = strings.TrimSpace(typ); typ != "" {
			h.mimeTypes[normalizeKey(ext)] = typ
		}
	}
	for ext, v := range cacheControl {
		valid, err := ValidCacheControl(v)
		if err != nil {
			log.Warn("ignoring cache-control setting", zap.String("extension", ext), zap.Error(err))
			continue
		}
		h.cacheControl[normalizeKey(ext)] = valid
	}
	return h
}

// contentType resolves the type by extension first and falls back to
// sniffing the head of r. The returned reader yields the full content.
func (h headerPolicy) contentType(name string, r io.Reader) (string, io.Reader, error) {
	ext := extension(name)
	if typ, ok := h.mimeTypes[ext]; ok {
		return typ, r, nil
	}
	if typ, ok := builtinMimeTypes[ext]; ok {
		return typ, r, nil
	}
	if ext != "" {
		if typ := mime.TypeByExtension("." + ext); typ != "" {
			return typ, r, nil
		}
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, fmt.Errorf("failed to read upload head: %w", err)
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

// cacheControlFor returns the directive for name's extension, falling
// back to the "*" entry.
func (h headerPolicy) cacheControlFor(name string) string {
	if v, ok := h.cacheControl[extension(name)]; ok {
		return v
	}
	return h.cacheControl["*"]
}
