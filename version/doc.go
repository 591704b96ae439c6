// Package version reports build metadata for the blobfs binary.
//
// Values come from linker flags when set:
//
//	-ldflags "-X github.com/dendrascience/dendra-blobfs/version.Version=v1.0.0 -X github.com/dendrascience/dendra-blobfs/version.Commit=abc123"
//
// and otherwise from debug.ReadBuildInfo. UserAgent is sent with every
// request the OSS backend makes.
package version
