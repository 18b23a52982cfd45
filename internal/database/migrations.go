package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/storefront/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Category{},
		&models.CatalogItem{},
		&models.Attachment{},
		&models.CacheEntry{},
	)
}

// SeedData populates the default category tree for fresh installations.
func SeedData(db *gorm.DB) error {
	categories := []models.Category{
		{
			BaseModel:   models.BaseModel{ID: "general"},
			Name:        "General",
			Slug:        "general",
			Description: "Uncategorised catalog items",
		},
		{
			BaseModel:   models.BaseModel{ID: "furniture"},
			Name:        "Furniture",
			Slug:        "furniture",
			Description: "Desks, chairs and storage",
		},
		{
			BaseModel:   models.BaseModel{ID: "electronics"},
			Name:        "Electronics",
			Slug:        "electronics",
			Description: "Devices and accessories",
		},
	}

	for _, category := range categories {
		if err := db.Where(models.Category{BaseModel: models.BaseModel{ID: category.ID}}).
			Attrs(category).
			FirstOrCreate(&models.Category{}).Error; err != nil {
			return err
		}
	}

	return nil
}
