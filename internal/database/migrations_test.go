package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/storefront/internal/models"
)

func TestAutoMigrateCreatesCatalogTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.Category{},
		&models.CatalogItem{},
		&models.Attachment{},
		&models.CacheEntry{},
	}

	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
}

func TestAutoMigrateEnforcesAttachmentUniqueness(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	item := models.CatalogItem{Name: "Lamp", SKU: "LAMP-01"}
	require.NoError(t, db.Create(&item).Error)

	first := models.Attachment{
		ItemID:      item.ID,
		FileName:    "front.jpg",
		ContentType: "image/jpeg",
		ByteSize:    10,
		Checksum:    "aa11",
		StorageKey:  item.ID + "/aa11",
	}
	require.NoError(t, db.Create(&first).Error)

	duplicate := models.Attachment{
		ItemID:      item.ID,
		FileName:    "front-copy.jpg",
		ContentType: "image/jpeg",
		ByteSize:    10,
		Checksum:    "aa11",
		StorageKey:  item.ID + "/aa11",
	}
	require.Error(t, db.Create(&duplicate).Error, "expected (item_id, checksum) unique index to reject duplicate")
}

func TestAutoMigrateEnforcesUniqueSKU(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	require.NoError(t, db.Create(&models.CatalogItem{Name: "Desk", SKU: "DESK-01"}).Error)
	require.Error(t, db.Create(&models.CatalogItem{Name: "Desk Two", SKU: "DESK-01"}).Error)
}
