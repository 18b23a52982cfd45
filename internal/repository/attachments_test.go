package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/storefront/internal/database/testutil"
	"github.com/charlesng35/storefront/internal/models"
)

func newTestAttachments(t *testing.T) (*Attachments, *Items, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	return NewAttachments(db), NewItems(db, nil, time.Minute), db
}

func TestAttachmentsGetScopedToItem(t *testing.T) {
	attachments, items, db := newTestAttachments(t)
	ctx := context.Background()

	owner := createItem(t, items, "Attachment Owner")
	other := createItem(t, items, "Other Item")
	att := addAttachment(t, db, owner.ID, 0, 100)

	got, err := attachments.Get(ctx, owner.ID, att.ID)
	require.NoError(t, err)
	require.Equal(t, att.Checksum, got.Checksum)

	_, err = attachments.Get(ctx, other.ID, att.ID)
	require.ErrorIs(t, err, ErrAttachmentNotFound)

	_, err = attachments.Get(ctx, owner.ID, uuid.NewString())
	require.ErrorIs(t, err, ErrAttachmentNotFound)
}

func TestAttachmentsConfirm(t *testing.T) {
	attachments, items, db := newTestAttachments(t)
	ctx := context.Background()

	owner := createItem(t, items, "Confirm Owner")
	att := addAttachment(t, db, owner.ID, 0, 101)
	require.False(t, att.StorageConfirmed)

	require.NoError(t, attachments.Confirm(ctx, nil, att.ID))

	var reloaded models.Attachment
	require.NoError(t, db.Take(&reloaded, "id = ?", att.ID).Error)
	require.True(t, reloaded.StorageConfirmed)
	require.NotNil(t, reloaded.ConfirmedAt)

	require.ErrorIs(t, attachments.Confirm(ctx, nil, uuid.NewString()), ErrAttachmentNotFound)
}

func TestAttachmentsListUnconfirmed(t *testing.T) {
	attachments, items, db := newTestAttachments(t)
	ctx := context.Background()

	owner := createItem(t, items, "Reconcile Owner")

	oldest := addAttachment(t, db, owner.ID, 0, 102)
	require.NoError(t, db.Model(&models.Attachment{}).Where("id = ?", oldest.ID).
		Update("created_at", time.Now().UTC().Add(-3*time.Hour)).Error)

	stale := addAttachment(t, db, owner.ID, 1, 103)
	require.NoError(t, db.Model(&models.Attachment{}).Where("id = ?", stale.ID).
		Update("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	confirmed := addAttachment(t, db, owner.ID, 2, 104)
	require.NoError(t, db.Model(&models.Attachment{}).Where("id = ?", confirmed.ID).
		Update("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)
	require.NoError(t, attachments.Confirm(ctx, nil, confirmed.ID))

	// Fresh upload, still inside the age gate.
	fresh := addAttachment(t, db, owner.ID, 3, 105)

	rows, err := attachments.ListUnconfirmed(ctx, time.Hour, 50)
	require.NoError(t, err)

	var ours []models.Attachment
	for _, row := range rows {
		if row.ItemID == owner.ID {
			ours = append(ours, row)
		}
	}
	require.Len(t, ours, 2)
	require.Equal(t, oldest.ID, ours[0].ID, "oldest unconfirmed row comes first")
	require.Equal(t, stale.ID, ours[1].ID)
	for _, row := range ours {
		require.NotEqual(t, confirmed.ID, row.ID)
		require.NotEqual(t, fresh.ID, row.ID)
	}
}

func TestAttachmentsCountUnconfirmed(t *testing.T) {
	attachments, items, db := newTestAttachments(t)
	ctx := context.Background()

	before, err := attachments.CountUnconfirmed(ctx)
	require.NoError(t, err)

	owner := createItem(t, items, "Count Owner")
	addAttachment(t, db, owner.ID, 0, 106)

	after, err := attachments.CountUnconfirmed(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, after)
}

func TestAttachmentsDeleteScoped(t *testing.T) {
	attachments, items, db := newTestAttachments(t)
	ctx := context.Background()

	owner := createItem(t, items, "Delete Owner")
	other := createItem(t, items, "Delete Bystander")
	att := addAttachment(t, db, owner.ID, 0, 107)

	require.ErrorIs(t, attachments.Delete(ctx, nil, other.ID, att.ID), ErrAttachmentNotFound)

	require.NoError(t, attachments.Delete(ctx, nil, owner.ID, att.ID))

	_, err := attachments.Get(ctx, owner.ID, att.ID)
	require.ErrorIs(t, err, ErrAttachmentNotFound)
}
