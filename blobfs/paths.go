package blobfs

import "strings"

// Resolver maps host paths onto storage addresses and back. The root is
// the configured account URL followed by the container name and a slash.
type Resolver struct {
	root string
}

// NewResolver joins rootURL and container into the storage root.
func NewResolver(rootURL, container string) Resolver {
	if rootURL != "" && !strings.HasSuffix(rootURL, "/") {
		rootURL += "/"
	}
	return Resolver{root: rootURL + container + "/"}
}

// Root returns the storage root, always ending in "/".
func (r Resolver) Root() string {
	return r.root
}

// Normalize converts backslashes to slashes and drops leading slashes.
func Normalize(path string) string {
	return strings.TrimLeft(strings.ReplaceAll(path, `\`, "/"), "/")
}

func isAbsoluteURL(path string) bool {
	return strings.HasPrefix(path, "http")
}

// Resolve returns the storage address of path. Addresses under the root
// and absolute URLs are returned unchanged.
func (r Resolver) Resolve(path string) string {
	if strings.HasPrefix(path, r.root) || isAbsoluteURL(path) {
		return path
	}
	return r.root + Normalize(path)
}

// Relativize strips the root from address and normalizes the remainder.
// Absolute URLs outside the root pass through unchanged.
func (r Resolver) Relativize(address string) string {
	if strings.HasPrefix(address, r.root) {
		return Normalize(strings.TrimPrefix(address, r.root))
	}
	if isAbsoluteURL(address) {
		return address
	}
	return Normalize(address)
}

// BlobName is the backend key for path.
func (r Resolver) BlobName(path string) string {
	return r.Relativize(r.Resolve(path))
}

// PublicURL renders path below the root with exactly one slash at the
// container boundary and no trailing slash.
func (r Resolver) PublicURL(path string) string {
	if !strings.HasPrefix(path, r.root) && isAbsoluteURL(path) {
		return path
	}
	base := strings.TrimRight(r.root, "/")
	rel := strings.Trim(r.Relativize(path), "/")
	if rel == "" {
		return base
	}
	return base + "/" + rel
}
