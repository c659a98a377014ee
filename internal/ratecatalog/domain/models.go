// Package domain contains persistence models for versioned rate catalogs.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CatalogStatus represents rate catalog lifecycle states.
type CatalogStatus string

const (
	CatalogStatusDraft      CatalogStatus = "draft"
	CatalogStatusActive     CatalogStatus = "active"
	CatalogStatusSuperseded CatalogStatus = "superseded"
	CatalogStatusArchived   CatalogStatus = "archived"
)

// Category classifies a rate item by the kind of field work it prices.
type Category string

const (
	CategoryCivil          Category = "civil"
	CategoryElectrical     Category = "electrical"
	CategoryOverhead       Category = "overhead"
	CategoryUnderground    Category = "underground"
	CategoryTrafficControl Category = "traffic_control"
	CategoryVegetation     Category = "vegetation"
	CategoryEmergency      Category = "emergency"
	CategoryOther          Category = "other"
)

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategoryCivil, CategoryElectrical, CategoryOverhead, CategoryUnderground,
		CategoryTrafficControl, CategoryVegetation, CategoryEmergency, CategoryOther:
		return true
	}
	return false
}

// RateCatalog is one version of a price book for a (company, utility)
// pair. At most one catalog per pair is active at any instant; activating
// a new version supersedes the prior active one and links them both ways.
type RateCatalog struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	CompanyID      snowflake.ID  `json:"company_id" gorm:"not null;index:ix_rate_catalogs_scope"`
	UtilityID      snowflake.ID  `json:"utility_id" gorm:"not null;index:ix_rate_catalogs_scope"`
	Name           string        `json:"name" gorm:"type:text;not null"`
	Version        int           `json:"version" gorm:"not null;default:1"`
	Status         CatalogStatus `json:"status" gorm:"type:text;not null;default:'draft'"`
	EffectiveDate  time.Time     `json:"effective_date" gorm:"not null"`
	ExpirationDate *time.Time    `json:"expiration_date"`
	SupersedesID   *snowflake.ID `json:"supersedes_id" gorm:"index"`
	SupersededByID *snowflake.ID `json:"superseded_by_id"`
	CreatedBy      string        `json:"created_by" gorm:"type:text"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (RateCatalog) TableName() string { return "rate_catalogs" }

// RateItem is a single unit-priced contract line inside a catalog.
type RateItem struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	CatalogID         snowflake.ID `json:"catalog_id" gorm:"not null;index:ix_rate_items_catalog_code"`
	ItemCode          string       `json:"item_code" gorm:"type:text;not null;index:ix_rate_items_catalog_code"`
	Description       string       `json:"description" gorm:"type:text"`
	Category          Category     `json:"category" gorm:"type:text;not null;default:'other'"`
	Unit              string       `json:"unit" gorm:"type:text;not null"`
	UnitPriceCents    int64        `json:"unit_price_cents" gorm:"not null"`
	LaborRateCents    *int64       `json:"labor_rate_cents"`
	MaterialRateCents *int64       `json:"material_rate_cents"`
	RequiresPhoto     bool         `json:"requires_photo" gorm:"not null;default:true"`
	RequiresGPS       bool         `json:"requires_gps" gorm:"not null;default:true"`
	IsActive          bool         `json:"is_active" gorm:"not null;default:true"`
	EffectiveDate     *time.Time   `json:"effective_date"`
	ExpirationDate    *time.Time   `json:"expiration_date"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (RateItem) TableName() string { return "rate_items" }

// EffectiveAt reports whether the item prices work performed at t.
func (i RateItem) EffectiveAt(t time.Time) bool {
	if !i.IsActive {
		return false
	}
	if i.EffectiveDate != nil && t.Before(*i.EffectiveDate) {
		return false
	}
	if i.ExpirationDate != nil && t.After(*i.ExpirationDate) {
		return false
	}
	return true
}
