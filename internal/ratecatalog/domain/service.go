package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateCatalogRequest struct {
	CompanyID      snowflake.ID
	UtilityID      snowflake.ID
	Name           string
	EffectiveDate  time.Time
	ExpirationDate *time.Time
}

type AddItemRequest struct {
	CatalogID         snowflake.ID
	ItemCode          string
	Description       string
	Category          Category
	Unit              string
	UnitPriceCents    int64
	LaborRateCents    *int64
	MaterialRateCents *int64
	RequiresPhoto     bool
	RequiresGPS       bool
	EffectiveDate     *time.Time
	ExpirationDate    *time.Time
}

type ListItemsRequest struct {
	CatalogID  snowflake.ID
	Category   Category
	ActiveOnly bool
}

// Service resolves and manages versioned rate catalogs. ResolveActiveRate
// is the hot path: entry creation locks its price through it.
type Service interface {
	CreateCatalog(ctx context.Context, req CreateCatalogRequest) (RateCatalog, error)
	AddItem(ctx context.Context, req AddItemRequest) (RateItem, error)
	ActivateCatalog(ctx context.Context, catalogID snowflake.ID) (RateCatalog, error)
	ArchiveCatalog(ctx context.Context, catalogID snowflake.ID) error
	ResolveActiveRate(ctx context.Context, companyID, utilityID snowflake.ID, itemCode string) (RateItem, error)
	ListItems(ctx context.Context, req ListItemsRequest) ([]RateItem, error)
}

var (
	ErrRateNotFound     = errors.New("rate_not_found")
	ErrCatalogNotFound  = errors.New("catalog_not_found")
	ErrCatalogNotDraft  = errors.New("catalog_not_draft")
	ErrCatalogArchived  = errors.New("catalog_archived")
	ErrInvalidCompany   = errors.New("invalid_company")
	ErrInvalidUtility   = errors.New("invalid_utility")
	ErrInvalidItemCode  = errors.New("invalid_item_code")
	ErrInvalidUnit      = errors.New("invalid_unit")
	ErrInvalidUnitPrice = errors.New("invalid_unit_price")
	ErrInvalidCategory  = errors.New("invalid_category")
	ErrInvalidName      = errors.New("invalid_name")
)
