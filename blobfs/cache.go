package blobfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dendrascience/dendra-blobfs/blobstore"
	"go.uber.org/zap"
)

// BlobHandle is a resolved reference to an existing blob.
type BlobHandle struct {
	Address    string
	Name       string
	Properties blobstore.Properties
}

type refEntry struct {
	handle     *BlobHandle // nil records a blob that was not found
	resolvedAt time.Time
}

// refCache memoizes blob lookups per storage address for the lifetime of a
// FileSystem. Absent blobs are remembered too; backend failures are not.
type refCache struct {
	backend  blobstore.Backend
	resolver Resolver
	log      *zap.Logger
	now      func() time.Time
	maxAge   time.Duration // zero keeps entries until invalidated
	entries  map[string]refEntry
}

func newRefCache(backend blobstore.Backend, resolver Resolver, log *zap.Logger, now func() time.Time, maxAge time.Duration) *refCache {
	return &refCache{
		backend:  backend,
		resolver: resolver,
		log:      log,
		now:      now,
		maxAge:   maxAge,
		entries:  make(map[string]refEntry),
	}
}

func (c *refCache) fresh(e refEntry) bool {
	return c.maxAge <= 0 || c.now().Sub(e.resolvedAt) < c.maxAge
}

// get returns the handle for address, or nil when the blob does not exist.
func (c *refCache) get(ctx context.Context, address string) (*BlobHandle, error) {
	if e, ok := c.entries[address]; ok && c.fresh(e) {
		cacheHits.Inc()
		return e.handle, nil
	}

	name := c.resolver.Relativize(address)
	backendProbes.Inc()
	props, err := c.backend.Stat(ctx, name)
	if errors.Is(err, blobstore.ErrNotFound) {
		c.log.Debug("blob not found", zap.String("blob", name))
		c.entries[address] = refEntry{resolvedAt: c.now()}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", name, err)
	}

	h := &BlobHandle{Address: address, Name: name, Properties: props}
	c.entries[address] = refEntry{handle: h, resolvedAt: c.now()}
	return h, nil
}

// forget drops the entries so the next get probes the backend again.
func (c *refCache) forget(addresses ...string) {
	for _, a := range addresses {
		delete(c.entries, a)
	}
}

// markAbsent records a blob this instance just deleted.
func (c *refCache) markAbsent(address string) {
	c.entries[address] = refEntry{resolvedAt: c.now()}
}

func (c *refCache) len() int {
	return len(c.entries)
}
