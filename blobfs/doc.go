// Package blobfs presents a flat blob container as a filesystem of folders
// and files.
//
// Blob names use "/" as a folder separator, so "1000/photo.jpg" lives in
// folder "1000". Folders exist only while a blob lives under them.
//
// Key Components:
//   - FileSystem: the host-facing facade (exists, add, delete, open, list, timestamps, paths)
//   - Resolver: maps host paths onto storage addresses and back
//   - RedirectIndex: the "old|new" table written by the folder migration
//   - Migrator: one-time renumbering of legacy numbered folders
//   - refCache: per-instance memo of resolved blob references
//
// The first FileSystem created for a container runs the folder migration:
// every blob in a numbered folder is moved to a fresh folder above the
// highest existing number, thumbnails travelling with their image, and the
// moves are recorded in the redirect index. Later lookups of an old path
// are redirected to the moved blob when it exists. The highest legacy
// folder number is kept in a marker blob and folders at or below it are
// never deleted.
package blobfs
