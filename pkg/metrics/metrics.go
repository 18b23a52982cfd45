package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheOperations counts cache lookups by outcome (hit|miss|error).
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_operations_total",
			Help: "Total number of cache lookups by outcome",
		},
		[]string{"resource", "outcome"},
	)

	// CacheInvalidations counts delete-on-write invalidations issued by the repository.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_invalidations_total",
			Help: "Total number of cache invalidations",
		},
		[]string{"resource"},
	)

	// UploadBytes accumulates bytes accepted from multipart uploads.
	UploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_upload_bytes_total",
			Help: "Total number of upload bytes accepted",
		},
	)

	// UploadRejections counts uploads refused during ingestion (too_large|unsupported_type|malformed).
	UploadRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_upload_rejections_total",
			Help: "Total number of rejected uploads",
		},
		[]string{"reason"},
	)

	// StorageFinalizeRetries counts retry attempts while confirming staged objects.
	StorageFinalizeRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_storage_finalize_retries_total",
			Help: "Total number of storage finalize retry attempts",
		},
	)

	// UnconfirmedAttachments tracks attachment rows still awaiting a storage confirmation.
	UnconfirmedAttachments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_unconfirmed_attachments",
			Help: "Number of attachments lacking a confirmed storage object",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
