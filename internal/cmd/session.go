package cmd

import (
	"context"
	"fmt"

	"github.com/dendrascience/dendra-blobfs/blobfs"
	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/dendrascience/dendra-blobfs/blobstore/ossstore"
	"github.com/dendrascience/dendra-blobfs/config"
	"github.com/dendrascience/dendra-blobfs/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// session carries what every storage command needs: the configuration,
// a logger and the backend it names.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	backend blobstore.Backend
}

// openBackend builds the backend selected by cfg.
func openBackend(cfg *config.Config) (blobstore.Backend, error) {
	switch cfg.Backend.Type {
	case config.BackendOSS:
		return ossstore.New(ossstore.Config{
			Endpoint:        cfg.Backend.Endpoint,
			AccessKeyID:     cfg.Backend.AccessKeyID,
			AccessKeySecret: cfg.Backend.AccessKeySecret,
			Bucket:          cfg.Container,
		})
	case config.BackendDir:
		return blobstore.NewDir(cfg.Backend.Path), nil
	case config.BackendMemory:
		return blobstore.NewMemory(), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrBackendType, cfg.Backend.Type)
}

// newSession loads the file named by --config or BLOBFS_CONFIG.
func newSession(cmd *cobra.Command) (*session, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, backend: backend}, nil
}

// fileSystem opens the container. The folder migration runs here unless
// the configuration disables it.
func (s *session) fileSystem(ctx context.Context) (*blobfs.FileSystem, error) {
	return blobfs.New(ctx, s.backend, s.cfg.FileSystem(), blobfs.WithLogger(s.log))
}

func (s *session) close() {
	_ = s.log.Sync()
}
