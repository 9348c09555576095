package products

import "time"

// Product is a catalog entry served to the storefront.
type Product struct {
	ID          string    `gorm:"column:id;primaryKey;size:36"`
	Name        string    `gorm:"column:name;size:320;not null"`
	Description string    `gorm:"column:description;size:2048"`
	PriceCents  int64     `gorm:"column:price_cents;not null"`
	ImageURL    string    `gorm:"column:image_url;size:512"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing the catalog.
func (Product) TableName() string {
	return "products"
}
