package models

import "time"

// Article access levels. Premium articles are visible in full only to
// entitled members; everyone else gets the excerpt.
const (
	ArticleAccessPublic  = "public"
	ArticleAccessPremium = "premium"
	ArticleAccessVIP     = "vip"
)

type Article struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Slug      string    `gorm:"uniqueIndex;type:varchar(255);not null" json:"slug"`
	Body      string    `gorm:"type:longtext" json:"body,omitempty"`
	Excerpt   string    `gorm:"type:text" json:"excerpt"`
	Access    string    `gorm:"type:varchar(20);not null;default:'public';index" json:"access"`
	Published bool      `gorm:"default:false;index" json:"published"`
	ViewCount int64     `gorm:"default:0" json:"view_count"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
