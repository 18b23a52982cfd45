package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/storefront/internal/cache"
	"github.com/charlesng35/storefront/internal/services"
	"github.com/charlesng35/storefront/pkg/logger"
	"github.com/charlesng35/storefront/pkg/metrics"
)

const (
	defaultFinalizeSpec   = "@hourly"
	defaultCachePurgeSpec = "@hourly"
	defaultFinalizeAge    = 10 * time.Minute
	defaultSweepLimit     = 100
)

// Reconciler coordinates background repair tasks: confirming attachment rows
// whose object-store write completed but whose confirmation update was lost,
// and purging expired entries from the database cache fallback.
type Reconciler struct {
	catalog *services.CatalogService
	store   *cache.DatabaseStore
	cron    *cron.Cron
	log     *zap.Logger
	enabled bool

	finalizeSchedule   string
	cachePurgeSchedule string
	finalizeAge        time.Duration
	sweepLimit         int
}

// Option customises the Reconciler.
type Option func(*Reconciler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithFinalizeSchedule overrides the cron expression for the attachment sweep.
func WithFinalizeSchedule(spec string) Option {
	return func(r *Reconciler) {
		if spec != "" {
			r.finalizeSchedule = spec
		}
	}
}

// WithCachePurgeSchedule overrides the cron expression for cache purging.
func WithCachePurgeSchedule(spec string) Option {
	return func(r *Reconciler) {
		if spec != "" {
			r.cachePurgeSchedule = spec
		}
	}
}

// WithFinalizeAge adjusts how old an unconfirmed row must be before the sweep
// touches it. Younger rows may still be inside their request's finalize loop.
func WithFinalizeAge(age time.Duration) Option {
	return func(r *Reconciler) {
		if age > 0 {
			r.finalizeAge = age
		}
	}
}

// WithSweepLimit bounds how many rows a single sweep inspects.
func WithSweepLimit(limit int) Option {
	return func(r *Reconciler) {
		if limit > 0 {
			r.sweepLimit = limit
		}
	}
}

// NewReconciler constructs a Reconciler with sensible defaults. A nil
// dependency results in the corresponding job being skipped.
func NewReconciler(catalog *services.CatalogService, store *cache.DatabaseStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		catalog:            catalog,
		store:              store,
		finalizeSchedule:   defaultFinalizeSpec,
		cachePurgeSchedule: defaultCachePurgeSpec,
		finalizeAge:        defaultFinalizeAge,
		sweepLimit:         defaultSweepLimit,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cron == nil {
		r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	r.enabled = r.catalog != nil || r.store != nil

	return r
}

// Start registers the jobs with the cron scheduler and launches it if at least
// one job is enabled.
func (r *Reconciler) Start() error {
	if !r.enabled {
		return nil
	}

	if r.catalog != nil {
		if _, err := r.cron.AddFunc(r.finalizeSchedule, func() {
			if err := r.sweepAttachments(context.Background()); err != nil {
				r.log.Warn("attachment sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if r.store != nil {
		if _, err := r.cron.AddFunc(r.cachePurgeSchedule, func() {
			if err := r.purgeCache(context.Background()); err != nil {
				r.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	r.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (r *Reconciler) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes all configured jobs sequentially. Primarily used in tests
// and during graceful shutdown.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if r.catalog != nil {
		if err := r.sweepAttachments(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if r.store != nil {
		if err := r.purgeCache(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (r *Reconciler) sweepAttachments(ctx context.Context) error {
	confirmed, missing, err := r.catalog.ReconcileAttachments(ctx, r.finalizeAge, r.sweepLimit)
	if confirmed > 0 || missing > 0 {
		r.log.Info("attachment sweep finished",
			zap.Int("confirmed", confirmed),
			zap.Int("missing", missing))
	}

	if pending, countErr := r.catalog.UnconfirmedCount(ctx); countErr != nil {
		err = multierr.Append(err, countErr)
	} else {
		metrics.UnconfirmedAttachments.Set(float64(pending))
	}

	return err
}

func (r *Reconciler) purgeCache(ctx context.Context) error {
	purged, err := r.store.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		r.log.Info("cache entries purged", zap.Int64("count", purged))
	}
	return nil
}
