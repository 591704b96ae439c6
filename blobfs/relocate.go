package blobfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dendrascience/dendra-blobfs/blobstore"
	"go.uber.org/zap"
)

var errCopyPending = errors.New("copy pending")

// relocate copies e.Old to e.New, waits for the copy and deletes the
// original. On failure the partial destination is removed and the
// original is kept.
func (m *Migrator) relocate(ctx context.Context, e RedirectEntry) error {
	exists, err := m.backend.Exists(ctx, e.New)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", e.New, err)
	}
	if exists {
		return fmt.Errorf("%s: %w", e.New, ErrTargetExists)
	}

	if err := m.backend.StartCopy(ctx, e.Old, e.New); err != nil {
		m.discard(e.New)
		return fmt.Errorf("failed to start copy: %w", err)
	}
	if err := m.waitForCopy(ctx, e.New); err != nil {
		m.discard(e.New)
		return err
	}
	if err := m.backend.Delete(ctx, e.Old); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		m.discard(e.New)
		return fmt.Errorf("failed to delete %s: %w", e.Old, err)
	}
	return nil
}

// discard removes a partially relocated blob. It runs even when the
// caller's context is done.
func (m *Migrator) discard(name string) {
	err := m.backend.Delete(context.Background(), name)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		m.log.Error("failed to remove partial copy", zap.String("blob", name), zap.Error(err))
	}
}

// waitForCopy polls the copy status with exponential backoff until it
// leaves the pending state, CopyTimeout elapses or ctx is done.
func (m *Migrator) waitForCopy(ctx context.Context, dst string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.PollInitialInterval
	b.MaxInterval = m.cfg.PollMaxInterval
	b.MaxElapsedTime = m.cfg.CopyTimeout

	poll := func() error {
		status, err := m.backend.CopyStatus(ctx, dst)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch status {
		case blobstore.CopyPending:
			return errCopyPending
		case blobstore.CopySuccess:
			return nil
		}
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrCopyFailed, status))
	}
	notify := func(err error, wait time.Duration) {
		m.log.Debug("copy pending", zap.String("blob", dst), zap.Duration("retry_in", wait))
	}

	start := time.Now()
	err := backoff.RetryNotify(poll, backoff.WithContext(b, ctx), notify)
	copyWait.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errCopyPending):
		return fmt.Errorf("%s: %w", dst, ErrCopyTimeout)
	}
	return err
}
