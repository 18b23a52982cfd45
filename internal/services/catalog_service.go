package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/storefront/internal/ingest"
	"github.com/charlesng35/storefront/internal/models"
	"github.com/charlesng35/storefront/internal/repository"
	"github.com/charlesng35/storefront/internal/storage"
	"github.com/charlesng35/storefront/pkg/logger"
	"github.com/charlesng35/storefront/pkg/metrics"
)

var (
	// ErrItemNotFound indicates the requested catalog item does not exist.
	ErrItemNotFound = errors.New("catalog service: item not found")
	// ErrAttachmentNotFound indicates the attachment does not exist under the item.
	ErrAttachmentNotFound = errors.New("catalog service: attachment not found")
	// ErrCategoryNotFound indicates the referenced category does not exist.
	ErrCategoryNotFound = errors.New("catalog service: category not found")
	// ErrSKUConflict indicates another item already uses the SKU.
	ErrSKUConflict = errors.New("catalog service: sku already in use")
	// ErrNameRequired indicates a create or update left the item without a name.
	ErrNameRequired = errors.New("catalog service: item name is required")
	// ErrSKURequired indicates a create or update left the item without a SKU.
	ErrSKURequired = errors.New("catalog service: item sku is required")
	// ErrNegativePrice indicates a negative price was supplied.
	ErrNegativePrice = errors.New("catalog service: price must not be negative")
)

// FinalizePolicy bounds the storage finalize retry loop that runs after a
// catalog write commits.
type FinalizePolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func (p FinalizePolicy) withDefaults() FinalizePolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	return p
}

// CatalogService orchestrates catalog writes across the relational store, the
// object store and the cache. Attachment bytes are staged on disk before the
// transaction opens; rows commit with StorageConfirmed=false and are flipped
// only after the object store acknowledges the upload. A finalize failure
// never rolls back a committed write; the reconciler picks up the leftovers.
type CatalogService struct {
	db          *gorm.DB
	items       *repository.Items
	attachments *repository.Attachments
	store       storage.Store
	finalize    FinalizePolicy
	log         *zap.Logger
}

// NewCatalogService wires the orchestrator once its collaborators exist.
func NewCatalogService(db *gorm.DB, items *repository.Items, attachments *repository.Attachments, store storage.Store, policy FinalizePolicy) (*CatalogService, error) {
	if db == nil {
		return nil, errors.New("catalog service: db is required")
	}
	if items == nil {
		return nil, errors.New("catalog service: item repository is required")
	}
	if attachments == nil {
		return nil, errors.New("catalog service: attachment repository is required")
	}
	if store == nil {
		return nil, errors.New("catalog service: object store is required")
	}

	return &CatalogService{
		db:          db,
		items:       items,
		attachments: attachments,
		store:       store,
		finalize:    policy.withDefaults(),
		log:         logger.WithModule("catalog"),
	}, nil
}

// CreateItemInput captures the fields accepted when creating an item.
type CreateItemInput struct {
	Name        string
	Description string
	SKU         string
	Price       decimal.Decimal
	CategoryID  string
	Disabled    bool
	Metadata    map[string]any
	Uploads     []*ingest.StagedFile
}

// UpdateItemInput describes mutable item fields. Nil pointers leave the field
// unchanged; an empty CategoryID pointer clears the category.
type UpdateItemInput struct {
	Name              *string
	Description       *string
	SKU               *string
	Price             *decimal.Decimal
	CategoryID        *string
	Disabled          *bool
	Metadata          map[string]any
	RemoveAttachments []string
	Uploads           []*ingest.StagedFile
}

// ListItemsOptions filters catalog listings.
type ListItemsOptions struct {
	Page            int
	PerPage         int
	CategoryID      string
	Search          string
	IncludeDisabled bool
}

// CreateItem persists a new item together with any staged uploads. Attachment
// rows commit unconfirmed inside the item's transaction; the staged bytes are
// pushed to the object store only after commit.
func (s *CatalogService) CreateItem(ctx context.Context, input CreateItemInput) (*models.CatalogItem, error) {
	if s == nil {
		return nil, errors.New("catalog service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	staged := dedupeStaged(input.Uploads)

	item := &models.CatalogItem{
		Name:        input.Name,
		Description: input.Description,
		SKU:         input.SKU,
		Price:       input.Price,
		Disabled:    input.Disabled,
	}
	item.Normalise()

	if err := s.validateNewItem(ctx, item, input.CategoryID); err != nil {
		discardStaged(staged)
		return nil, err
	}
	if categoryID := strings.TrimSpace(input.CategoryID); categoryID != "" {
		item.CategoryID = &categoryID
	}
	if metadata, err := metadataJSON(input.Metadata); err != nil {
		discardStaged(staged)
		return nil, fmt.Errorf("catalog service: encode metadata: %w", err)
	} else if metadata != nil {
		item.Metadata = metadata
	}

	var rows []models.Attachment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		for i, file := range staged {
			rows = append(rows, models.Attachment{
				ItemID:      item.ID,
				FileName:    file.FileName,
				ContentType: file.ContentType,
				ByteSize:    file.ByteSize,
				Checksum:    file.Checksum,
				StorageKey:  storage.ObjectKey(item.ID, file.Checksum),
				Position:    i,
			})
		}
		if len(rows) > 0 {
			return tx.Create(&rows).Error
		}
		return nil
	})
	if err != nil {
		discardStaged(staged)
		return nil, s.mapWriteError(err, "create item")
	}

	s.finalizeUploads(ctx, rows, staged)
	s.items.Invalidate(ctx, item.ID)
	return s.GetItem(ctx, item.ID)
}

// GetItem returns one item through the cache-aside read path.
func (s *CatalogService) GetItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	if s == nil {
		return nil, errors.New("catalog service: service not initialised")
	}

	item, err := s.items.Get(ensuredContext(ctx), strings.TrimSpace(id))
	if errors.Is(err, repository.ErrItemNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog service: get item: %w", err)
	}
	return item, nil
}

// ListItems returns a filtered page of items plus the total row count.
func (s *CatalogService) ListItems(ctx context.Context, opts ListItemsOptions) ([]models.CatalogItem, int64, error) {
	if s == nil {
		return nil, 0, errors.New("catalog service: service not initialised")
	}

	items, total, err := s.items.List(ensuredContext(ctx), repository.ListOptions{
		Page:            opts.Page,
		PerPage:         opts.PerPage,
		CategoryID:      strings.TrimSpace(opts.CategoryID),
		Search:          opts.Search,
		IncludeDisabled: opts.IncludeDisabled,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("catalog service: list items: %w", err)
	}
	return items, total, nil
}

// UpdateItem applies field patches, removes attachments, and adds staged
// uploads under a single transaction. Blob deletes and upload finalization
// run after commit; neither can fail the committed write.
func (s *CatalogService) UpdateItem(ctx context.Context, id string, input UpdateItemInput) (*models.CatalogItem, error) {
	if s == nil {
		return nil, errors.New("catalog service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		discardStaged(input.Uploads)
		return nil, ErrItemNotFound
	}

	staged := dedupeStaged(input.Uploads)
	removeIDs := normaliseIDs(input.RemoveAttachments)

	var (
		item        models.CatalogItem
		newRows     []models.Attachment
		newFiles    []*ingest.StagedFile
		skipped     []*ingest.StagedFile
		removedKeys []string
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Preload("Attachments").Take(&item, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		if input.Name != nil {
			item.Name = *input.Name
		}
		if input.Description != nil {
			item.Description = *input.Description
		}
		if input.SKU != nil {
			item.SKU = *input.SKU
		}
		if input.Price != nil {
			item.Price = *input.Price
		}
		if input.Disabled != nil {
			item.Disabled = *input.Disabled
		}
		if input.CategoryID != nil {
			categoryID := strings.TrimSpace(*input.CategoryID)
			if categoryID == "" {
				item.CategoryID = nil
			} else {
				if err := categoryExists(tx, categoryID); err != nil {
					return err
				}
				item.CategoryID = &categoryID
			}
		}
		if input.Metadata != nil {
			metadata, err := metadataJSON(input.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			item.Metadata = metadata
		}

		item.Normalise()
		if item.Name == "" {
			return ErrNameRequired
		}
		if item.SKU == "" {
			return ErrSKURequired
		}
		if item.Price.IsNegative() {
			return ErrNegativePrice
		}

		surviving := make(map[string]models.Attachment, len(item.Attachments))
		for _, att := range item.Attachments {
			surviving[att.ID] = att
		}
		for _, attID := range removeIDs {
			att, ok := surviving[attID]
			if !ok {
				return ErrAttachmentNotFound
			}
			delete(surviving, attID)
			removedKeys = append(removedKeys, att.StorageKey)
			if err := tx.Delete(&models.Attachment{}, "id = ?", att.ID).Error; err != nil {
				return err
			}
		}

		nextPosition := 0
		keptChecksums := make(map[string]struct{}, len(surviving))
		for _, att := range surviving {
			keptChecksums[att.Checksum] = struct{}{}
			if att.Position >= nextPosition {
				nextPosition = att.Position + 1
			}
		}

		for _, file := range staged {
			if _, dup := keptChecksums[file.Checksum]; dup {
				skipped = append(skipped, file)
				continue
			}
			keptChecksums[file.Checksum] = struct{}{}
			newRows = append(newRows, models.Attachment{
				ItemID:      item.ID,
				FileName:    file.FileName,
				ContentType: file.ContentType,
				ByteSize:    file.ByteSize,
				Checksum:    file.Checksum,
				StorageKey:  storage.ObjectKey(item.ID, file.Checksum),
				Position:    nextPosition,
			})
			newFiles = append(newFiles, file)
			nextPosition++
		}

		if err := tx.Omit(clause.Associations).Save(&item).Error; err != nil {
			return err
		}
		if len(newRows) > 0 {
			return tx.Create(&newRows).Error
		}
		return nil
	})
	if err != nil {
		discardStaged(staged)
		return nil, s.mapWriteError(err, "update item")
	}

	discardStaged(skipped)
	s.deleteObjects(ctx, removedKeys, attachmentKeys(newRows))
	s.finalizeUploads(ctx, newRows, newFiles)
	s.items.Invalidate(ctx, id)
	return s.GetItem(ctx, id)
}

// DeleteItem removes the item and its attachment rows, then best-effort
// deletes the stored objects. Missing objects are not an error.
func (s *CatalogService) DeleteItem(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("catalog service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return ErrItemNotFound
	}

	var keys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.CatalogItem
		err := tx.Preload("Attachments").Take(&item, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		for _, att := range item.Attachments {
			keys = append(keys, att.StorageKey)
		}
		if err := tx.Delete(&models.Attachment{}, "item_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.CatalogItem{}, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return err
		}
		return fmt.Errorf("catalog service: delete item: %w", err)
	}

	s.deleteObjects(ctx, keys, nil)
	s.items.Invalidate(ctx, id)
	return nil
}

// OpenAttachment resolves the attachment row and opens its object for
// streaming. The caller owns the returned reader.
func (s *CatalogService) OpenAttachment(ctx context.Context, itemID, attachmentID string) (*models.Attachment, io.ReadCloser, error) {
	if s == nil {
		return nil, nil, errors.New("catalog service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	row, err := s.attachments.Get(ctx, strings.TrimSpace(itemID), strings.TrimSpace(attachmentID))
	if errors.Is(err, repository.ErrAttachmentNotFound) {
		return nil, nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("catalog service: resolve attachment: %w", err)
	}

	reader, err := s.store.Get(ctx, row.StorageKey)
	if storage.IsNotFound(err) {
		s.log.Warn("attachment row has no stored object",
			zap.String("attachment_id", row.ID), zap.String("key", row.StorageKey))
		return nil, nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("catalog service: open attachment object: %w", err)
	}
	return row, reader, nil
}

// ReconcileAttachments heals unconfirmed attachment rows. Rows whose object
// exists are confirmed; rows whose bytes never arrived are counted for
// operator review since the staged upload is gone.
func (s *CatalogService) ReconcileAttachments(ctx context.Context, olderThan time.Duration, limit int) (confirmed, missing int, err error) {
	if s == nil {
		return 0, 0, errors.New("catalog service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	rows, listErr := s.attachments.ListUnconfirmed(ctx, olderThan, limit)
	if listErr != nil {
		return 0, 0, fmt.Errorf("catalog service: list unconfirmed: %w", listErr)
	}

	var errs error
	for i := range rows {
		row := &rows[i]
		_, headErr := s.store.Head(ctx, row.StorageKey)
		switch {
		case headErr == nil:
			if confirmErr := s.attachments.Confirm(ctx, nil, row.ID); confirmErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("confirm %s: %w", row.ID, confirmErr))
				continue
			}
			confirmed++
		case storage.IsNotFound(headErr):
			missing++
			s.log.Warn("unconfirmed attachment has no stored object",
				zap.String("attachment_id", row.ID),
				zap.String("item_id", row.ItemID),
				zap.String("key", row.StorageKey))
		default:
			errs = multierr.Append(errs, fmt.Errorf("head %s: %w", row.StorageKey, headErr))
		}
	}
	return confirmed, missing, errs
}

// UnconfirmedCount reports how many attachments still await storage
// confirmation.
func (s *CatalogService) UnconfirmedCount(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errors.New("catalog service: service not initialised")
	}
	return s.attachments.CountUnconfirmed(ensuredContext(ctx))
}

func (s *CatalogService) validateNewItem(ctx context.Context, item *models.CatalogItem, categoryID string) error {
	if item.Name == "" {
		return ErrNameRequired
	}
	if item.SKU == "" {
		return ErrSKURequired
	}
	if item.Price.IsNegative() {
		return ErrNegativePrice
	}
	if categoryID = strings.TrimSpace(categoryID); categoryID != "" {
		return categoryExists(s.db.WithContext(ctx), categoryID)
	}
	return nil
}

func (s *CatalogService) mapWriteError(err error, op string) error {
	switch {
	case errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrAttachmentNotFound),
		errors.Is(err, ErrCategoryNotFound),
		errors.Is(err, ErrNameRequired),
		errors.Is(err, ErrSKURequired),
		errors.Is(err, ErrNegativePrice):
		return err
	case isUniqueConstraintError(err):
		return ErrSKUConflict
	default:
		return fmt.Errorf("catalog service: %s: %w", op, err)
	}
}

// finalizeUploads pushes staged bytes to the object store and confirms the
// matching rows. rows and files are index-aligned. Failures leave the row
// unconfirmed and are logged; the request outcome is already decided.
func (s *CatalogService) finalizeUploads(ctx context.Context, rows []models.Attachment, files []*ingest.StagedFile) {
	for i := range rows {
		if i >= len(files) {
			return
		}
		row := &rows[i]
		file := files[i]
		if err := s.finalizeUpload(ctx, row, file); err != nil {
			s.log.Error("attachment finalize failed, row left unconfirmed",
				zap.String("attachment_id", row.ID),
				zap.String("item_id", row.ItemID),
				zap.String("key", row.StorageKey),
				zap.Error(err))
		}
		_ = file.Discard()
	}
}

func (s *CatalogService) finalizeUpload(ctx context.Context, row *models.Attachment, file *ingest.StagedFile) error {
	delay := s.finalize.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= s.finalize.Attempts; attempt++ {
		if attempt > 1 {
			metrics.StorageFinalizeRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		reader, err := file.Open()
		if err != nil {
			// Spool file is gone; no retry can recover the bytes.
			return fmt.Errorf("open staged upload: %w", err)
		}
		err = s.store.Put(ctx, row.StorageKey, reader, row.ContentType)
		_ = reader.Close()
		if err == nil {
			if confirmErr := s.attachments.Confirm(ctx, nil, row.ID); confirmErr != nil {
				// Object is durable; the reconciler will flip the row.
				s.log.Warn("attachment stored but confirmation failed",
					zap.String("attachment_id", row.ID), zap.Error(confirmErr))
			}
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// deleteObjects best-effort removes stored objects, skipping any key that is
// being re-added in the same operation.
func (s *CatalogService) deleteObjects(ctx context.Context, keys []string, keep map[string]struct{}) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := keep[key]; ok {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.Warn("object delete failed, orphan left behind",
				zap.String("key", key), zap.Error(err))
		}
	}
}

func attachmentKeys(rows []models.Attachment) map[string]struct{} {
	if len(rows) == 0 {
		return nil
	}
	keys := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		keys[row.StorageKey] = struct{}{}
	}
	return keys
}

func categoryExists(db *gorm.DB, id string) error {
	var category models.Category
	err := db.Select("id").Take(&category, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCategoryNotFound
	}
	return err
}

func metadataJSON(metadata map[string]any) (datatypes.JSON, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func dedupeStaged(files []*ingest.StagedFile) []*ingest.StagedFile {
	if len(files) < 2 {
		return files
	}
	seen := make(map[string]struct{}, len(files))
	var kept []*ingest.StagedFile
	for _, file := range files {
		if file == nil {
			continue
		}
		if _, dup := seen[file.Checksum]; dup {
			_ = file.Discard()
			continue
		}
		seen[file.Checksum] = struct{}{}
		kept = append(kept, file)
	}
	return kept
}

func discardStaged(files []*ingest.StagedFile) {
	for _, file := range files {
		_ = file.Discard()
	}
}
