package cmd

import (
	"path/filepath"
	"testing"

	"github.com/dendrascience/dendra-blobfs/config"
	"github.com/stretchr/testify/assert"
)

func TestPathsOverlap(t *testing.T) {
	tests := []struct {
		name     string
		path1    string
		path2    string
		expected bool
	}{
		{"same directory", "/srv/blobs", "/srv/blobs", true},
		{"trailing separator", "/srv/blobs/", "/srv/blobs", true},
		{"mountpoint inside blobs", "/srv/blobs", "/srv/blobs/mnt", true},
		{"blobs inside mountpoint", "/srv/blobs/media", "/srv", true},
		{"shared name prefix", "/srv/blobs", "/srv/blobs-mnt", false},
		{"siblings", "/srv/blobs", "/srv/mnt", false},
		{"relative inside", "blobs", "blobs/mnt", true},
		{"relative apart", "blobs", "mnt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, pathsOverlap(tt.path1, tt.path2))
		})
	}
}

func TestCheckMountpoint(t *testing.T) {
	root := t.TempDir()
	blobs := filepath.Join(root, "blobs")
	dirBackend := config.BackendConfig{Type: config.BackendDir, Path: blobs}

	tests := []struct {
		name       string
		backend    config.BackendConfig
		mountpoint string
		wantErr    bool
	}{
		{"mountpoint inside backend dir", dirBackend, filepath.Join(blobs, "mnt"), true},
		{"mountpoint is backend dir", dirBackend, blobs, true},
		{"mountpoint holds backend dir", dirBackend, root, true},
		{"sibling mountpoint", dirBackend, filepath.Join(root, "mnt"), false},
		{"oss backend ignores paths", config.BackendConfig{Type: config.BackendOSS, Path: blobs}, blobs, false},
		{"memory backend", config.BackendConfig{Type: config.BackendMemory}, filepath.Join(blobs, "mnt"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkMountpoint(&config.Config{Container: "media", Backend: tt.backend}, tt.mountpoint)
			if tt.wantErr {
				assert.ErrorIs(t, err, errMountOverlap)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
