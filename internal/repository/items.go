package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/storefront/internal/cache"
	"github.com/charlesng35/storefront/internal/models"
	"github.com/charlesng35/storefront/pkg/logger"
	"github.com/charlesng35/storefront/pkg/metrics"
)

// ErrItemNotFound is returned when a catalog item does not exist.
var ErrItemNotFound = errors.New("repository: catalog item not found")

const itemResource = "item"

// Items provides catalog item persistence with cache-aside reads: lookups
// consult the cache first, populate it on miss, and writes invalidate by
// deleting the key. Cache backend failures never fail the request; the
// database remains the source of truth.
type Items struct {
	db    *gorm.DB
	cache cache.Store
	ttl   time.Duration
	log   *zap.Logger
}

// NewItems constructs the item repository. The cache store may be nil, in
// which case every read goes straight to the database.
func NewItems(db *gorm.DB, store cache.Store, ttl time.Duration) *Items {
	if db == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Items{
		db:    db,
		cache: store,
		ttl:   ttl,
		log:   logger.WithModule("repository"),
	}
}

// ListOptions filters and paginates catalog listings.
type ListOptions struct {
	Page            int
	PerPage         int
	CategoryID      string
	Search          string
	IncludeDisabled bool
}

// Get returns one item with its category and position-ordered attachments.
// The cached snapshot is served when present; misses read through and
// repopulate the cache with the configured TTL.
func (r *Items) Get(ctx context.Context, id string) (*models.CatalogItem, error) {
	if r == nil {
		return nil, errors.New("repository: items not initialised")
	}
	ctx = ensuredContext(ctx)

	key := cache.ResourceKey(itemResource, id)

	if r.cache != nil {
		payload, found, err := r.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.CacheOperations.WithLabelValues(itemResource, "error").Inc()
			r.log.Warn("cache read failed, falling back to database",
				zap.String("key", key), zap.Error(err))
		case found:
			var item models.CatalogItem
			if err := json.Unmarshal(payload, &item); err == nil {
				metrics.CacheOperations.WithLabelValues(itemResource, "hit").Inc()
				return &item, nil
			}
			// Unreadable snapshot: drop it and reload from the database.
			metrics.CacheOperations.WithLabelValues(itemResource, "error").Inc()
			_ = r.cache.Delete(ctx, key)
		default:
			metrics.CacheOperations.WithLabelValues(itemResource, "miss").Inc()
		}
	}

	item, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if payload, err := json.Marshal(item); err == nil {
			if err := r.cache.Set(ctx, key, payload, r.ttl); err != nil {
				metrics.CacheOperations.WithLabelValues(itemResource, "error").Inc()
				r.log.Warn("cache populate failed", zap.String("key", key), zap.Error(err))
			}
		}
	}

	return item, nil
}

func (r *Items) load(ctx context.Context, id string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("Attachments", func(db *gorm.DB) *gorm.DB {
			// Unconfirmed rows are invisible until the object store holds
			// their bytes; the reconciler flips them eventually.
			return db.Where("storage_confirmed = ?", true).
				Order("attachments.position ASC, attachments.created_at ASC")
		}).
		Take(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns a page of items plus the unpaginated total. Listings always
// read the database; only single-item snapshots are cached.
func (r *Items) List(ctx context.Context, opts ListOptions) ([]models.CatalogItem, int64, error) {
	if r == nil {
		return nil, 0, errors.New("repository: items not initialised")
	}
	ctx = ensuredContext(ctx)

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 || opts.PerPage > 100 {
		opts.PerPage = 20
	}

	query := r.db.WithContext(ctx).Model(&models.CatalogItem{})
	if !opts.IncludeDisabled {
		query = query.Where("disabled = ?", false)
	}
	if opts.CategoryID != "" {
		query = query.Where("category_id = ?", opts.CategoryID)
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(sku) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.CatalogItem
	err := query.
		Preload("Category").
		Preload("Attachments", func(db *gorm.DB) *gorm.DB {
			return db.Where("storage_confirmed = ?", true).
				Order("attachments.position ASC, attachments.created_at ASC")
		}).
		Order("created_at DESC").
		Offset((opts.Page - 1) * opts.PerPage).
		Limit(opts.PerPage).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// Create inserts a new item. Nothing is cached for a fresh identifier, so no
// invalidation is needed.
func (r *Items) Create(ctx context.Context, item *models.CatalogItem) error {
	if r == nil {
		return errors.New("repository: items not initialised")
	}
	return r.db.WithContext(ensuredContext(ctx)).Create(item).Error
}

// Save persists the given item and invalidates its cached snapshot.
func (r *Items) Save(ctx context.Context, item *models.CatalogItem) error {
	if r == nil {
		return errors.New("repository: items not initialised")
	}
	ctx = ensuredContext(ctx)

	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return err
	}

	r.Invalidate(ctx, item.ID)
	return nil
}

// Delete removes an item (attachments cascade) and invalidates the snapshot.
func (r *Items) Delete(ctx context.Context, id string) error {
	if r == nil {
		return errors.New("repository: items not initialised")
	}
	ctx = ensuredContext(ctx)

	res := r.db.WithContext(ctx).Delete(&models.CatalogItem{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrItemNotFound
	}

	r.Invalidate(ctx, id)
	return nil
}

// Invalidate removes the cached snapshot for an item. The cache is never
// written on the mutation path, only deleted; the next read repopulates it.
// Backend failures are logged and swallowed so a flaky cache cannot fail a
// committed write; the stale entry ages out via TTL.
func (r *Items) Invalidate(ctx context.Context, id string) {
	if r == nil || r.cache == nil || id == "" {
		return
	}

	key := cache.ResourceKey(itemResource, id)
	if err := r.cache.Delete(ensuredContext(ctx), key); err != nil {
		metrics.CacheOperations.WithLabelValues(itemResource, "error").Inc()
		r.log.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
		return
	}
	metrics.CacheInvalidations.WithLabelValues(itemResource).Inc()
}

// DB exposes the underlying handle for transactional orchestration.
func (r *Items) DB() *gorm.DB {
	if r == nil {
		return nil
	}
	return r.db
}

func ensuredContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
