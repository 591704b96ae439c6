package blobfs

import "github.com/prometheus/client_golang/prometheus"

var (
	backendProbes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blobfs_backend_probes_total",
		Help: "Blob property lookups sent to the backend by the reference cache.",
	})
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blobfs_ref_cache_hits_total",
		Help: "Blob reference lookups answered from the cache, absent results included.",
	})
	redirectsFollowed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blobfs_redirects_followed_total",
		Help: "Operations served from a relocated path listed in the redirect index.",
	})
	relocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blobfs_migration_relocations_total",
		Help: "Blob relocations attempted by the folder renumbering migration.",
	}, []string{"result"})
	copyWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "blobfs_migration_copy_wait_seconds",
		Help:    "Time spent waiting for server-side copies to leave the pending state.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		backendProbes,
		cacheHits,
		redirectsFollowed,
		relocations,
		copyWait,
	)
}
