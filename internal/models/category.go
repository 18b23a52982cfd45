package models

import "strings"

// Category groups catalog items for browsing.
type Category struct {
	BaseModel

	Name        string `gorm:"type:varchar(120);not null;uniqueIndex" json:"name"`
	Slug        string `gorm:"type:varchar(140);not null;uniqueIndex" json:"slug"`
	Description string `gorm:"type:text" json:"description,omitempty"`
}

// Normalise derives a URL-safe slug from the name when one is not provided.
func (c *Category) Normalise() {
	c.Name = strings.TrimSpace(c.Name)
	if strings.TrimSpace(c.Slug) == "" {
		c.Slug = strings.ToLower(strings.ReplaceAll(c.Name, " ", "-"))
	} else {
		c.Slug = strings.ToLower(strings.TrimSpace(c.Slug))
	}
}
