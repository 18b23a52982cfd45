package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/storefront/internal/models"
)

// ErrAttachmentNotFound is returned when an attachment row does not exist.
var ErrAttachmentNotFound = errors.New("repository: attachment not found")

// Attachments provides attachment persistence. Attachment rows are never
// cached on their own; they ride along inside the parent item snapshot.
type Attachments struct {
	db *gorm.DB
}

// NewAttachments constructs the attachment repository.
func NewAttachments(db *gorm.DB) *Attachments {
	if db == nil {
		return nil
	}
	return &Attachments{db: db}
}

// Get returns one attachment scoped to its parent item.
func (r *Attachments) Get(ctx context.Context, itemID, attachmentID string) (*models.Attachment, error) {
	if r == nil {
		return nil, errors.New("repository: attachments not initialised")
	}

	var attachment models.Attachment
	err := r.db.WithContext(ensuredContext(ctx)).
		Take(&attachment, "id = ? AND item_id = ?", attachmentID, itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attachment, nil
}

// Confirm marks an attachment as durably stored. Run inside the caller's
// transaction when the confirmation must be atomic with other writes.
func (r *Attachments) Confirm(ctx context.Context, tx *gorm.DB, attachmentID string) error {
	if r == nil {
		return errors.New("repository: attachments not initialised")
	}
	if tx == nil {
		tx = r.db
	}

	now := time.Now().UTC()
	res := tx.WithContext(ensuredContext(ctx)).
		Model(&models.Attachment{}).
		Where("id = ?", attachmentID).
		Updates(map[string]any{
			"storage_confirmed": true,
			"confirmed_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAttachmentNotFound
	}
	return nil
}

// ListUnconfirmed returns attachments whose object upload was never
// confirmed, oldest first. The age gate keeps the reconciler from racing an
// upload that is still in flight.
func (r *Attachments) ListUnconfirmed(ctx context.Context, olderThan time.Duration, limit int) ([]models.Attachment, error) {
	if r == nil {
		return nil, errors.New("repository: attachments not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	cutoff := time.Now().UTC().Add(-olderThan)

	var rows []models.Attachment
	err := r.db.WithContext(ensuredContext(ctx)).
		Where("storage_confirmed = ? AND created_at < ?", false, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountUnconfirmed reports how many attachments still await confirmation.
func (r *Attachments) CountUnconfirmed(ctx context.Context) (int64, error) {
	if r == nil {
		return 0, errors.New("repository: attachments not initialised")
	}

	var count int64
	err := r.db.WithContext(ensuredContext(ctx)).
		Model(&models.Attachment{}).
		Where("storage_confirmed = ?", false).
		Count(&count).Error
	return count, err
}

// Delete removes a single attachment row scoped to its parent item.
func (r *Attachments) Delete(ctx context.Context, tx *gorm.DB, itemID, attachmentID string) error {
	if r == nil {
		return errors.New("repository: attachments not initialised")
	}
	if tx == nil {
		tx = r.db
	}

	res := tx.WithContext(ensuredContext(ctx)).
		Delete(&models.Attachment{}, "id = ? AND item_id = ?", attachmentID, itemID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAttachmentNotFound
	}
	return nil
}
