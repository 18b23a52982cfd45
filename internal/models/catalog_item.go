package models

import (
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CatalogItem represents a sellable product in the catalog.
type CatalogItem struct {
	BaseModel

	Name        string          `gorm:"type:varchar(160);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description,omitempty"`
	SKU         string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"sku"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	CategoryID  *string         `gorm:"type:uuid;index" json:"category_id,omitempty"`
	Category    *Category       `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Disabled    bool            `gorm:"not null;default:false" json:"disabled"`
	Metadata    datatypes.JSON  `gorm:"type:json" json:"metadata,omitempty"`

	// Attachments are preloaded in position order by the repository.
	Attachments []Attachment `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// Normalise trims whitespace and upper-cases the SKU.
func (i *CatalogItem) Normalise() {
	i.Name = strings.TrimSpace(i.Name)
	i.SKU = strings.ToUpper(strings.TrimSpace(i.SKU))
}
