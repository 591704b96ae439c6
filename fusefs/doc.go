// Package fusefs serves a blobfs.FileSystem as a FUSE filesystem.
//
// The mount root lists the container's virtual directories and root-level
// files. Lookups go through the FileSystem, so files moved by the folder
// migration are still found at their old path.
//
// Key Components:
//   - FS: the bazil.org/fuse filesystem, serializing calls into the FileSystem
//   - Dir: virtual directory node (lookup, list, create, mkdir, remove)
//   - File: buffered file node; writes are uploaded on flush
//   - inodeTable: per-mount inode numbers keyed by path
//
// Directories made with mkdir exist only in the mount until a file is
// written into them. Removing a legacy folder at or below the watermark
// fails with EPERM.
package fusefs
