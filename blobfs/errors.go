package blobfs

import (
	"errors"

	"github.com/dendrascience/dendra-blobfs/blobstore"
)

// Sentinel errors for package blobfs.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Lookup errors
	ErrNotFound = blobstore.ErrNotFound

	// Configuration errors
	ErrNoContainer  = errors.New("container name is required")
	ErrCacheControl = errors.New("invalid cache-control directive")

	// Relocation errors
	ErrCopyFailed   = errors.New("server-side copy did not succeed")
	ErrCopyTimeout  = errors.New("server-side copy still pending after timeout")
	ErrTargetExists = errors.New("relocation target already exists")
)
