package blobstore

import "errors"

// Sentinel errors for package blobstore.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Blob errors
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidName = errors.New("invalid blob name")

	// Copy errors
	ErrNoCopy = errors.New("no copy recorded for destination")

	// Container errors
	ErrNoContainer = errors.New("container does not exist")
)
