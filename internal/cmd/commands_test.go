package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dendrascience/dendra-blobfs/blobfs"
	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/dendrascience/dendra-blobfs/blobstore/ossstore"
	"github.com/dendrascience/dendra-blobfs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastMigration = blobfs.MigrationConfig{
	PollInitialInterval: time.Millisecond,
	PollMaxInterval:     5 * time.Millisecond,
	CopyTimeout:         time.Second,
}

func openTestFS(t *testing.T, m *blobstore.Memory) *blobfs.FileSystem {
	t.Helper()
	files, err := blobfs.New(context.Background(), m, blobfs.Config{
		RootURL:   "http://127.0.0.1:10000/devstoreaccount1/",
		Container: "media",
		Migration: fastMigration,
	})
	require.NoError(t, err)
	return files
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	want := []string{"count", "get", "ls", "migrate", "mount", "put", "redirects", "rm", "seed", "validate", "version"}
	for _, name := range want {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
		assert.NotEmpty(t, c.GroupID, name)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	c := NewVersionCmd()
	c.SetOut(&out)
	c.SetArgs(nil)
	require.NoError(t, c.Execute())
	assert.Contains(t, out.String(), "blobfs version ")
	assert.Contains(t, out.String(), "Package: dendra-blobfs")
}

func TestOpenBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend config.BackendConfig
		check   func(t *testing.T, b blobstore.Backend)
	}{
		{"memory", config.BackendConfig{Type: config.BackendMemory}, func(t *testing.T, b blobstore.Backend) {
			assert.IsType(t, &blobstore.Memory{}, b)
		}},
		{"dir", config.BackendConfig{Type: config.BackendDir, Path: t.TempDir()}, func(t *testing.T, b blobstore.Backend) {
			assert.IsType(t, &blobstore.Dir{}, b)
		}},
		{"oss", config.BackendConfig{Type: config.BackendOSS, Endpoint: "oss-cn-hangzhou.aliyuncs.com", AccessKeyID: "id", AccessKeySecret: "secret"}, func(t *testing.T, b blobstore.Backend) {
			assert.IsType(t, &ossstore.Backend{}, b)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := openBackend(&config.Config{Container: "media", Backend: tt.backend})
			require.NoError(t, err)
			tt.check(t, b)
		})
	}

	_, err := openBackend(&config.Config{Backend: config.BackendConfig{Type: "s3"}})
	assert.ErrorIs(t, err, config.ErrBackendType)
}

func TestRunMigrate(t *testing.T) {
	m := blobstore.NewMemory()
	m.Put("7/a.jpg", []byte("a"))
	m.Put("7/a_thumb.jpg", []byte("t"))
	mig := blobfs.NewMigrator(m, fastMigration, zap.NewNop())
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runMigrate(ctx, &out, mig, true, true))
	assert.Contains(t, out.String(), "DRY RUN: would move 2 blobs into folders 8-8 (watermark 7)")
	assert.Contains(t, out.String(), "7/a_thumb.jpg -> 8/a_thumb.jpg")
	assert.Equal(t, []string{"7/a.jpg", "7/a_thumb.jpg"}, m.Names())

	out.Reset()
	require.NoError(t, runMigrate(ctx, &out, mig, false, false))
	assert.Contains(t, out.String(), "moved 2 blobs, 0 failed, folders now end at 8")

	out.Reset()
	require.NoError(t, runMigrate(ctx, &out, mig, false, false))
	assert.Contains(t, out.String(), "Redirect index present")
}

func TestRunLs(t *testing.T) {
	m := blobstore.NewMemory()
	files := openTestFS(t, m)
	ctx := context.Background()
	require.NoError(t, files.AddFile(ctx, "1000/a.dat", strings.NewReader("abc"), true))
	require.NoError(t, files.AddFile(ctx, "root.txt", strings.NewReader("r"), true))

	var out bytes.Buffer
	require.NoError(t, runLs(ctx, &out, files, "", false))
	assert.Equal(t, "1000/\nroot.txt\n", out.String())

	out.Reset()
	require.NoError(t, runLs(ctx, &out, files, "1000", true))
	assert.Contains(t, out.String(), "1000/a.dat")
	assert.Contains(t, out.String(), "http://127.0.0.1:10000/devstoreaccount1/media/1000/a.dat")
}

func TestRunRm(t *testing.T) {
	m := blobstore.NewMemory()
	m.Put("3/legacy.dat", []byte("x"))
	m.Put(blobfs.RedirectIndexName, nil)
	files := openTestFS(t, m)
	ctx := context.Background()
	require.NoError(t, files.AddFile(ctx, "1000/a.dat", strings.NewReader("a"), true))

	var out bytes.Buffer
	require.NoError(t, runRm(ctx, &out, files, "1000/a.dat", false))
	assert.False(t, files.FileExists(ctx, "1000/a.dat"))

	require.NoError(t, runRm(ctx, &out, files, "3/", true))
	assert.True(t, files.FileExists(ctx, "3/legacy.dat"))
	assert.Contains(t, out.String(), "3 is a legacy folder at or below watermark 3")
}

func TestRunRedirects(t *testing.T) {
	m := blobstore.NewMemory()
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runRedirects(ctx, &out, m, ""))
	assert.Contains(t, out.String(), "No redirect index")

	require.NoError(t, blobfs.SaveRedirectIndex(ctx, m, blobfs.ParseRedirectIndex("7/a.dat|8/a.dat\n7/b.dat|9/b.dat\n")))
	out.Reset()
	require.NoError(t, runRedirects(ctx, &out, m, ""))
	assert.Equal(t, "7/a.dat -> 8/a.dat\n7/b.dat -> 9/b.dat\n2 redirects\n", out.String())

	out.Reset()
	require.NoError(t, runRedirects(ctx, &out, m, `\7\b.dat`))
	assert.Equal(t, "9/b.dat\n", out.String())
}

func TestRunValidate(t *testing.T) {
	m := blobstore.NewMemory()
	ctx := context.Background()
	m.Put(blobfs.WatermarkName, []byte("7"))
	m.Put("8/a.dat", []byte("a"))
	require.NoError(t, blobfs.SaveRedirectIndex(ctx, m, blobfs.ParseRedirectIndex(
		"7/a.dat|8/a.dat\n7/b.dat|9/b.dat\n7/a.dat|10/a.dat\n")))

	var out bytes.Buffer
	problems, err := runValidate(ctx, &out, m, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, problems)
	assert.Contains(t, out.String(), "target 9/b.dat of 7/b.dat does not exist")
	assert.Contains(t, out.String(), "7/a.dat is redirected more than once")

	out.Reset()
	_, err = runValidate(ctx, &out, m, false, true)
	require.NoError(t, err)
	index, err := blobfs.LoadRedirectIndex(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 1, index.Len())

	out.Reset()
	problems, err = runValidate(ctx, &out, m, false, false)
	require.NoError(t, err)
	assert.Equal(t, 0, problems)
}

func TestRunValidateMissingWatermark(t *testing.T) {
	var out bytes.Buffer
	problems, err := runValidate(context.Background(), &out, blobstore.NewMemory(), false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, problems)
	assert.Contains(t, out.String(), "watermark")
}

func TestRunCount(t *testing.T) {
	m := blobstore.NewMemory()
	m.Put("1/a.dat", nil)
	m.Put("1/b.dat", nil)
	m.Put("2/c.dat", nil)
	m.Put("loose.txt", nil)

	var out bytes.Buffer
	require.NoError(t, runCount(context.Background(), &out, m, "", false))
	assert.Contains(t, out.String(), "Total blobs: 4 in 3 folders")
	assert.Contains(t, out.String(), "1            2\n")
}

func TestRunSeed(t *testing.T) {
	m := blobstore.NewMemory()
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runSeed(ctx, &out, m, 40, 5, false))

	files := 0
	for _, name := range m.Names() {
		folder, file, ok := strings.Cut(name, "/")
		require.True(t, ok, name)
		assert.Contains(t, []string{"1", "2", "3", "4", "5"}, folder)
		if !strings.Contains(file, "_thumb") {
			files++
		}
	}
	assert.Equal(t, 40, files)

	plan, err := blobfs.NewMigrator(m, fastMigration, zap.NewNop()).Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(m.Names()), plan.Moves())

	assert.Error(t, runSeed(ctx, &out, m, 1, 0, false))
}

func TestSeedFolder(t *testing.T) {
	for _, name := range []string{"a", "b", uuidLike} {
		f := seedFolder(name, 7)
		assert.GreaterOrEqual(t, f, 1)
		assert.LessOrEqual(t, f, 7)
		assert.Equal(t, f, seedFolder(name, 7))
	}
}

const uuidLike = "0b1c3f9e-4a51-4a8e-9d3c-6f1f1a2b3c4d"
