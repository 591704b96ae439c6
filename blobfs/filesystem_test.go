package blobfs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() Config {
	return Config{
		RootURL:   testRoot,
		Container: "media",
		Migration: fastPolling,
	}
}

func newTestFS(t *testing.T, m *blobstore.Memory) *FileSystem {
	t.Helper()
	fs, err := New(context.Background(), m, testConfig(), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return fs
}

func addText(t *testing.T, fs *FileSystem, path, body string) {
	t.Helper()
	require.NoError(t, fs.AddFile(context.Background(), path, strings.NewReader(body), true))
}

func readAll(t *testing.T, fs *FileSystem, path string) string {
	t.Helper()
	r, err := fs.OpenFile(context.Background(), path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestNewRequiresContainer(t *testing.T) {
	_, err := New(context.Background(), blobstore.NewMemory(), Config{RootURL: testRoot})
	assert.ErrorIs(t, err, ErrNoContainer)
}

func TestNewCreatesContainer(t *testing.T) {
	m := blobstore.NewMemory()
	cfg := testConfig()
	cfg.PublicRead = true
	_, err := New(context.Background(), m, cfg)
	require.NoError(t, err)

	exists, public := m.ContainerExists()
	assert.True(t, exists)
	assert.True(t, public)
}

func TestNewPropagatesContainerFailure(t *testing.T) {
	m := blobstore.NewMemory()
	boom := errors.New("unauthorized")
	m.Fault = func(op, name string) error {
		if op == "container" {
			return boom
		}
		return nil
	}
	_, err := New(context.Background(), m, testConfig())
	assert.ErrorIs(t, err, boom)
}

func TestAddFile(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		path     string
	}{
		{"new directory", nil, "1000/test.dat"},
		{"existing directory", []string{"1000/other.dat"}, "1000/test.dat"},
		{"backslash path", nil, `1000\test.dat`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := blobstore.NewMemory()
			fs := newTestFS(t, m)
			for _, p := range tt.existing {
				addText(t, fs, p, "x")
			}
			addText(t, fs, tt.path, "Test")

			ctx := context.Background()
			assert.True(t, fs.FileExists(ctx, "1000/test.dat"))
			assert.True(t, fs.DirectoryExists(ctx, "1000"))
			assert.Equal(t, "Test", readAll(t, fs, "1000/test.dat"))
			files, err := fs.GetFiles(ctx, "1000/", "")
			require.NoError(t, err)
			assert.Contains(t, files, "1000/test.dat")
		})
	}
}

func TestAddFileOverwritesWithoutFlag(t *testing.T) {
	m := blobstore.NewMemory()
	fs := newTestFS(t, m)
	ctx := context.Background()

	addText(t, fs, "1000/test.dat", "Test")
	require.NoError(t, fs.AddFile(ctx, "1000/test.dat", strings.NewReader("Changed"), false))
	assert.Equal(t, "Changed", readAll(t, fs, "1000/test.dat"))
}

func TestAddFileHeaders(t *testing.T) {
	m := blobstore.NewMemory()
	cfg := testConfig()
	cfg.CacheControl = map[string]string{"*": "public, max-age=3600", "pdf": "no-cache"}
	cfg.MimeTypes = map[string]string{"dat": "application/x-dat"}
	fs, err := New(context.Background(), m, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	addText(t, fs, "1000/a.dat", "Test")
	addText(t, fs, "1000/b.pdf", "%PDF-1.4")
	addText(t, fs, "1000/c.png", "png")

	p, err := fs.Stat(ctx, "1000/a.dat")
	require.NoError(t, err)
	assert.Equal(t, "application/x-dat", p.ContentType)
	assert.Equal(t, "public, max-age=3600", p.CacheControl)

	p, err = fs.Stat(ctx, "1000/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", p.ContentType)
	assert.Equal(t, "no-cache", p.CacheControl)

	p, err = fs.Stat(ctx, "1000/c.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.ContentType)
}

func TestGetDirectories(t *testing.T) {
	m := blobstore.NewMemory()
	fs := newTestFS(t, m)
	ctx := context.Background()

	addText(t, fs, "1000/test.dat", "Test")
	addText(t, fs, "1000/test2.dat", "Test")
	addText(t, fs, "1001/test.dat", "Test")
	addText(t, fs, "root.dat", "Test")

	dirs, err := fs.GetDirectories(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1000", "1001"}, dirs)

	dirs, err = fs.GetDirectories(ctx, "1000")
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestGetFiles(t *testing.T) {
	m := blobstore.NewMemory()
	fs := newTestFS(t, m)
	ctx := context.Background()

	addText(t, fs, "1001/test.dat", "Test")
	addText(t, fs, "1001/test.jpg", "Test")
	addText(t, fs, "1002/other.dat", "Test")

	for _, filter := range []string{"", "*.jpg"} {
		files, err := fs.GetFiles(ctx, "1001/", filter)
		require.NoError(t, err)
		assert.Equal(t, []string{"1001/test.dat", "1001/test.jpg"}, files, "filter %q is not applied", filter)
	}

	files, err := fs.GetFiles(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, files, "reserved blobs are hidden")
}

func TestDeleteDirectory(t *testing.T) {
	m := blobstore.NewMemory()
	fs := newTestFS(t, m)
	ctx := context.Background()

	addText(t, fs, "1000/test.dat", "Test")
	addText(t, fs, "1000/sub/test.dat", "Test")
	addText(t, fs, "10000/keep.dat", "Test")
	require.True(t, fs.FileExists(ctx, "1000/test.dat"))

	require.NoError(t, fs.DeleteDirectory(ctx, "1000", true))
	assert.False(t, fs.DirectoryExists(ctx, "1000"))
	assert.False(t, fs.FileExists(ctx, "1000/test.dat"))
	assert.False(t, fs.FileExists(ctx, "1000/sub/test.dat"))
	assert.True(t, fs.FileExists(ctx, "10000/keep.dat"), "sibling folder sharing a name prefix survives")
}

func TestDeleteDirectoryMissingIsNoop(t *testing.T) {
	fs := newTestFS(t, blobstore.NewMemory())
	ctx := context.Background()

	assert.False(t, fs.DirectoryExists(ctx, "1000"))
	assert.NoError(t, fs.DeleteDirectory(ctx, "1000", true))
}

func TestDeleteDirectoryRespectsWatermark(t *testing.T) {
	m := blobstore.NewMemory()
	m.Put(WatermarkName, []byte("500"))
	seed(m, "500/a.dat", "12/b.dat")
	cfg := testConfig()
	cfg.Migration.Disabled = true
	fs, err := New(context.Background(), m, cfg)
	require.NoError(t, err)
	ctx := context.Background()
	assert.Equal(t, 500, fs.Watermark())

	require.NoError(t, fs.DeleteDirectory(ctx, "500", true))
	require.NoError(t, fs.DeleteDirectory(ctx, "12", false))
	assert.True(t, fs.FileExists(ctx, "500/a.dat"))
	assert.True(t, fs.FileExists(ctx, "12/b.dat"))

	addText(t, fs, "501/c.dat", "Test")
	require.NoError(t, fs.DeleteDirectory(ctx, "501", true))
	assert.False(t, fs.FileExists(ctx, "501/c.dat"))
}

func TestDeleteFile(t *testing.T) {
	m := blobstore.NewMemory()
	fs := newTestFS(t, m)
	ctx := context.Background()

	addText(t, fs, "1000/test.dat", "Test")
	require.True(t, fs.FileExists(ctx, "1000/test.dat"))
	require.NoError(t, fs.DeleteFile(ctx, "1000/test.dat"))
	assert.False(t, fs.FileExists(ctx, "1000/test.dat"))
	assert.NoError(t, fs.DeleteFile(ctx, "1000/test.dat"), "deleting a missing file is not an error")
}

func TestOpenFileMissing(t *testing.T) {
	fs := newTestFS(t, blobstore.NewMemory())
	_, err := fs.OpenFile(context.Background(), "1000/none.dat")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileExistsSwallowsBackendErrors(t *testing.T) {
	m := blobstore.NewMemory()
	fs := newTestFS(t, m)
	addText(t, fs, "1000/test.dat", "Test")
	ctx := context.Background()

	m.Fault = func(op, name string) error {
		if op == "stat" {
			return errors.New("throttled")
		}
		return nil
	}
	assert.False(t, fs.FileExists(ctx, "1000/other.dat"))
}

func TestFileExistsUsesCache(t *testing.T) {
	m := blobstore.NewMemory()
	fs := newTestFS(t, m)
	ctx := context.Background()
	addText(t, fs, "1000/test.dat", "Test")

	before := m.Calls("stat")
	for i := 0; i < 5; i++ {
		assert.True(t, fs.FileExists(ctx, "1000/test.dat"))
	}
	assert.Equal(t, before+1, m.Calls("stat"))
}

func TestMissingFileLogLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fs, err := New(context.Background(), blobstore.NewMemory(), testConfig(), WithLogger(zap.New(core)))
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, fs.FileExists(ctx, "1000/none.dat"))
	require.NoError(t, fs.AddFile(ctx, "1000/new.dat", strings.NewReader("Test"), false))
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "probes and new uploads do not warn")
	assert.NotZero(t, logs.FilterMessage("blob not found").FilterLevelExact(zapcore.DebugLevel).Len())

	_, err = fs.Stat(ctx, "1000/gone.dat")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.OpenFile(ctx, "1000/gone.dat")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, fs.DeleteFile(ctx, "1000/gone.dat"))
	assert.Equal(t, 3, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestTimestamps(t *testing.T) {
	m := blobstore.NewMemory()
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return created }
	fs := newTestFS(t, m)
	ctx := context.Background()

	addText(t, fs, "1000/test.dat", "Test")
	m.Now = func() time.Time { return created.Add(time.Hour) }
	addText(t, fs, "1000/test.dat", "Test 2")

	modified, err := fs.GetLastModified(ctx, "1000/test.dat")
	require.NoError(t, err)
	assert.Equal(t, created.Add(time.Hour), modified)

	c, err := fs.GetCreated(ctx, "1000/test.dat")
	require.NoError(t, err)
	assert.Equal(t, created, c)

	c, err = fs.GetCreated(ctx, "1000/")
	require.NoError(t, err)
	assert.Equal(t, created, c)

	_, err = fs.GetLastModified(ctx, "1000/none.dat")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.GetCreated(ctx, "2000/")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPathOperations(t *testing.T) {
	fs := newTestFS(t, blobstore.NewMemory())
	root := testRoot + "media/"

	assert.Equal(t, root+"1000/", fs.GetFullPath("1000/"))
	assert.Equal(t, root+"1000/", fs.GetFullPath(root+"1000/"))
	assert.Equal(t, "1000/", fs.GetRelativePath(root+"1000/"))
	assert.Equal(t, "1000/test.dat", fs.GetRelativePath(`\1000\test.dat`))
	assert.Equal(t, "https://cdn/x.png", fs.GetRelativePath("https://cdn/x.png"))
	assert.Equal(t, root+"1000", fs.GetURL("1000/"))
	assert.False(t, strings.HasSuffix(fs.GetURL("1000/"), "/"))
	assert.Equal(t, root, fs.RootURL())
}

func TestRedirectFallback(t *testing.T) {
	m := blobstore.NewMemory()
	cfg := testConfig()
	cfg.Migration.Disabled = true
	fs, err := New(context.Background(), m, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	m.Put("1000/a.dat", []byte("old"))
	require.NoError(t, SaveRedirectIndex(ctx, m, ParseRedirectIndex("1000/a.dat|2001/a.dat\n")))

	assert.Equal(t, "old", readAll(t, fs, "1000/a.dat"), "target missing, literal path used")

	addText(t, fs, "2001/a.dat", "new")
	assert.Equal(t, "new", readAll(t, fs, "1000/a.dat"), "target exists, redirect followed")
	assert.True(t, fs.FileExists(ctx, "1000/a.dat"))

	require.NoError(t, fs.DeleteFile(ctx, "1000/a.dat"))
	assert.False(t, fs.FileExists(ctx, "2001/a.dat"), "delete applies to the redirect target")
	assert.Equal(t, "old", readAll(t, fs, "1000/a.dat"))
}

func TestAddFileToRelocatedPath(t *testing.T) {
	m := blobstore.NewMemory()
	m.Put("7/f.dat", []byte("legacy"))
	fs := newTestFS(t, m)
	ctx := context.Background()

	addText(t, fs, "7/f.dat", "rewritten")
	assert.Contains(t, m.Names(), "7/f.dat", "the literal path is written")
	assert.Equal(t, "legacy", readAll(t, fs, "7/f.dat"), "reads still follow the redirect")

	addText(t, fs, "8/f.dat", "updated")
	assert.Equal(t, "updated", readAll(t, fs, "7/f.dat"))

	require.NoError(t, fs.DeleteFile(ctx, "8/f.dat"))
	assert.Equal(t, "rewritten", readAll(t, fs, "7/f.dat"))
}

func TestRedirectIndexReadFailureFallsBack(t *testing.T) {
	m := blobstore.NewMemory()
	fs := newTestFS(t, m)
	ctx := context.Background()
	addText(t, fs, "1000/a.dat", "literal")

	m.Fault = func(op, name string) error {
		if op == "open" && name == RedirectIndexName {
			return errors.New("timeout")
		}
		return nil
	}
	assert.True(t, fs.FileExists(ctx, "1000/a.dat"))
}

func TestLegacyFolderMigratesOnConstruction(t *testing.T) {
	m := blobstore.NewMemory()
	m.Put("7/f.dat", []byte("legacy"))
	fs := newTestFS(t, m)
	ctx := context.Background()

	report := fs.Migration()
	assert.Equal(t, []RedirectEntry{{Old: "7/f.dat", New: "8/f.dat"}}, report.Relocated)
	assert.Equal(t, 7, fs.Watermark())

	index, err := LoadRedirectIndex(ctx, m)
	require.NoError(t, err)
	target, ok := index.Lookup("7/f.dat")
	require.True(t, ok)
	assert.Equal(t, "8/f.dat", target)

	assert.Equal(t, "legacy", readAll(t, fs, "8/f.dat"))
	assert.Equal(t, "legacy", readAll(t, fs, "7/f.dat"))
	assert.True(t, fs.FileExists(ctx, "7/f.dat"))

	dirs, err := fs.GetDirectories(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"8"}, dirs)

	again := newTestFS(t, m)
	assert.True(t, again.Migration().Skipped)
	assert.Equal(t, 7, again.Watermark())
}

func TestDeleteMigratedFolderAfterReopen(t *testing.T) {
	m := blobstore.NewMemory()
	m.Put("7/x.dat", []byte("legacy"))
	ctx := context.Background()

	first := newTestFS(t, m)
	require.Len(t, first.Migration().Relocated, 1)
	m.Put("7/late.dat", []byte("written after the move"))

	fs := newTestFS(t, m)
	assert.True(t, fs.Migration().Skipped)
	assert.Equal(t, 7, fs.Watermark())

	require.NoError(t, fs.DeleteDirectory(ctx, "7", true))
	assert.True(t, fs.FileExists(ctx, "7/late.dat"), "legacy folders stay protected")

	require.NoError(t, fs.DeleteDirectory(ctx, "8", true))
	assert.False(t, fs.FileExists(ctx, "8/x.dat"))
	assert.False(t, fs.DirectoryExists(ctx, "8"))
}

func TestMigrationSaveFailureFailsConstruction(t *testing.T) {
	m := blobstore.NewMemory()
	m.Put("7/f.dat", []byte("legacy"))
	boom := errors.New("quota exceeded")
	m.Fault = func(op, name string) error {
		if op == "upload" && name == RedirectIndexName {
			return boom
		}
		return nil
	}
	_, err := New(context.Background(), m, testConfig())
	assert.ErrorIs(t, err, boom)
}
