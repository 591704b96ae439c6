package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	_ "bazil.org/fuse/fs/fstestutil"
	"github.com/dendrascience/dendra-blobfs/config"
	"github.com/dendrascience/dendra-blobfs/fusefs"
	"github.com/dendrascience/dendra-blobfs/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewMountCmd creates and returns the mount subcommand for the blobfs CLI.
// It serves the configured container at a mountpoint.
func NewMountCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "mount MOUNTPOINT",
		Short: "Mount a blob container",
		Long: `Mount the configured blob container at the specified mountpoint.

MOUNTPOINT is the directory where the filesystem will be mounted. The
folder migration runs before the mount is served unless it is disabled
in the config file.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runMount(cmd, args[0], metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics at this address, e.g. :9090")

	return cmd
}

// pathsOverlap reports whether one path is the other or lies inside it.
func pathsOverlap(path1, path2 string) bool {
	abs1, err1 := filepath.Abs(path1)
	abs2, err2 := filepath.Abs(path2)
	if err1 != nil || err2 != nil {
		abs1, abs2 = filepath.Clean(path1), filepath.Clean(path2)
	}
	if abs1 == abs2 {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(abs1, abs2+sep) || strings.HasPrefix(abs2, abs1+sep)
}

var errMountOverlap = errors.New("mountpoint overlaps the backend directory")

// checkMountpoint refuses a mountpoint inside, or containing, the
// directory a dir backend stores its blobs in.
func checkMountpoint(cfg *config.Config, mountpoint string) error {
	if cfg.Backend.Type != config.BackendDir {
		return nil
	}
	if pathsOverlap(cfg.Backend.Path, mountpoint) {
		return fmt.Errorf("%w: %s and %s", errMountOverlap, mountpoint, cfg.Backend.Path)
	}
	return nil
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
}

func runMount(cmd *cobra.Command, mountpoint, metricsAddr string) {
	fmt.Printf("blobfs %s starting...\n", version.GetFullVersion())

	s, err := newSession(cmd)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	defer s.close()

	if err := checkMountpoint(s.cfg, mountpoint); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	files, err := s.fileSystem(ctx)
	if err != nil {
		log.Fatalf("Failed to open container %s: %v", s.cfg.Container, err)
	}
	if report := files.Migration(); !report.Skipped && len(report.Relocated)+len(report.Failed) > 0 {
		fmt.Printf("Migrated %d blobs (%d failed), folders now end at %d\n",
			len(report.Relocated), len(report.Failed), report.Final)
	}

	if metricsAddr != "" {
		serveMetrics(metricsAddr, s.log)
	}

	c, err := fuse.Mount(
		mountpoint,
		fuse.FSName("blobfs"),
		fuse.Subtype("blobfs"),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	go func() {
		<-ctx.Done()
		log.Println("Received interrupt signal, shutting down...")
		if err := fuse.Unmount(mountpoint); err != nil {
			log.Printf("Unmount failed: %v", err)
		}
	}()

	log.Printf("blobfs %s mounted at %s (container: %s)", version.GetVersion(), mountpoint, s.cfg.Container)
	if err := fs.Serve(c, fusefs.New(files, s.log)); err != nil {
		log.Fatal(err)
	}
	log.Println("Shutdown complete")
}
