package models

import "time"

// Attachment represents a binary file owned by a catalog item.
//
// The row is written inside the item's transaction with StorageConfirmed set
// to false; it flips to true only after the object store acknowledges the
// corresponding object. Rows that stay unconfirmed are picked up by the
// maintenance reconciler.
type Attachment struct {
	BaseModel

	ItemID      string `gorm:"type:uuid;not null;index;uniqueIndex:idx_attachments_item_checksum" json:"item_id"`
	FileName    string `gorm:"type:varchar(255);not null" json:"file_name"`
	ContentType string `gorm:"type:varchar(128);not null" json:"content_type"`
	ByteSize    int64  `gorm:"not null" json:"byte_size"`

	// Checksum is the lower-case SHA-256 hex digest of the file contents.
	Checksum   string `gorm:"type:char(64);not null;uniqueIndex:idx_attachments_item_checksum" json:"checksum"`
	StorageKey string `gorm:"type:varchar(512);not null" json:"-"`
	Position   int    `gorm:"not null;default:0" json:"position"`

	StorageConfirmed bool       `gorm:"not null;default:false" json:"storage_confirmed"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
}
