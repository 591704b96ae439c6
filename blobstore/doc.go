// Package blobstore defines the contract blobfs needs from a flat,
// key-addressed blob store and ships two implementations of it.
//
// Key Components:
//   - Backend: existence probes, properties, upload/download, delete,
//     listing with virtual directory markers and server-side copy
//   - Memory: a map-backed store with copy-latency simulation and fault
//     injection, used by tests and the "memory" backend type
//   - Dir: a local directory store that keeps blob metadata in JSON
//     sidecars under .blobmeta/
//
// The Aliyun OSS implementation lives in the ossstore subpackage.
package blobstore
