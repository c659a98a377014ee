package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fieldbill/fieldbill/internal/audit/domain"
	"github.com/fieldbill/fieldbill/internal/clock"
	ratedomain "github.com/fieldbill/fieldbill/internal/ratecatalog/domain"
	"github.com/fieldbill/fieldbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	catalogrepo repository.Repository[ratedomain.RateCatalog]
	itemrepo    repository.Repository[ratedomain.RateItem]
	auditSvc    auditdomain.Service
}

func NewService(p Params) ratedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ratecatalog.service"),
		genID: p.GenID,
		clock: p.Clock,

		catalogrepo: repository.ProvideStore[ratedomain.RateCatalog](p.DB),
		itemrepo:    repository.ProvideStore[ratedomain.RateItem](p.DB),
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) CreateCatalog(ctx context.Context, req ratedomain.CreateCatalogRequest) (ratedomain.RateCatalog, error) {
	if req.CompanyID == 0 {
		return ratedomain.RateCatalog{}, ratedomain.ErrInvalidCompany
	}
	if req.UtilityID == 0 {
		return ratedomain.RateCatalog{}, ratedomain.ErrInvalidUtility
	}
	if strings.TrimSpace(req.Name) == "" {
		return ratedomain.RateCatalog{}, ratedomain.ErrInvalidName
	}

	version, err := s.nextVersion(ctx, req.CompanyID, req.UtilityID)
	if err != nil {
		return ratedomain.RateCatalog{}, err
	}

	now := s.clock.Now()
	effective := req.EffectiveDate
	if effective.IsZero() {
		effective = now
	}
	catalog := ratedomain.RateCatalog{
		ID:             s.genID.Generate(),
		CompanyID:      req.CompanyID,
		UtilityID:      req.UtilityID,
		Name:           strings.TrimSpace(req.Name),
		Version:        version,
		Status:         ratedomain.CatalogStatusDraft,
		EffectiveDate:  effective,
		ExpirationDate: req.ExpirationDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.catalogrepo.Create(ctx, &catalog); err != nil {
		return ratedomain.RateCatalog{}, err
	}

	s.emitAudit(ctx, catalog, "rate_catalog.created", nil)
	return catalog, nil
}

func (s *Service) AddItem(ctx context.Context, req ratedomain.AddItemRequest) (ratedomain.RateItem, error) {
	code := strings.TrimSpace(req.ItemCode)
	if code == "" {
		return ratedomain.RateItem{}, ratedomain.ErrInvalidItemCode
	}
	if strings.TrimSpace(req.Unit) == "" {
		return ratedomain.RateItem{}, ratedomain.ErrInvalidUnit
	}
	if req.UnitPriceCents <= 0 {
		return ratedomain.RateItem{}, ratedomain.ErrInvalidUnitPrice
	}
	category := req.Category
	if category == "" {
		category = ratedomain.CategoryOther
	}
	if !category.Valid() {
		return ratedomain.RateItem{}, ratedomain.ErrInvalidCategory
	}

	catalog, err := s.loadCatalog(ctx, req.CatalogID)
	if err != nil {
		return ratedomain.RateItem{}, err
	}
	if catalog.Status == ratedomain.CatalogStatusArchived {
		return ratedomain.RateItem{}, ratedomain.ErrCatalogArchived
	}

	now := s.clock.Now()
	item := ratedomain.RateItem{
		ID:                s.genID.Generate(),
		CatalogID:         catalog.ID,
		ItemCode:          code,
		Description:       strings.TrimSpace(req.Description),
		Category:          category,
		Unit:              strings.ToUpper(strings.TrimSpace(req.Unit)),
		UnitPriceCents:    req.UnitPriceCents,
		LaborRateCents:    req.LaborRateCents,
		MaterialRateCents: req.MaterialRateCents,
		RequiresPhoto:     req.RequiresPhoto,
		RequiresGPS:       req.RequiresGPS,
		IsActive:          true,
		EffectiveDate:     req.EffectiveDate,
		ExpirationDate:    req.ExpirationDate,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.itemrepo.Create(ctx, &item); err != nil {
		return ratedomain.RateItem{}, err
	}
	return item, nil
}

// ActivateCatalog promotes a draft catalog to active and supersedes the
// prior active catalog of the same (company, utility), linking the two in
// both directions.
func (s *Service) ActivateCatalog(ctx context.Context, catalogID snowflake.ID) (ratedomain.RateCatalog, error) {
	var activated ratedomain.RateCatalog
	var supersededID *snowflake.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		catalog, err := s.loadCatalogForUpdate(ctx, tx, catalogID)
		if err != nil {
			return err
		}
		if catalog == nil {
			return ratedomain.ErrCatalogNotFound
		}
		if catalog.Status != ratedomain.CatalogStatusDraft {
			return ratedomain.ErrCatalogNotDraft
		}

		now := s.clock.Now()

		var prior ratedomain.RateCatalog
		res := tx.WithContext(ctx).Raw(
			`SELECT id, company_id, utility_id, status
			 FROM rate_catalogs
			 WHERE company_id = ? AND utility_id = ? AND status = ?
			 LIMIT 1`,
			catalog.CompanyID,
			catalog.UtilityID,
			ratedomain.CatalogStatusActive,
		).Scan(&prior)
		if res.Error != nil {
			return res.Error
		}

		if prior.ID != 0 {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE rate_catalogs
				 SET status = ?, superseded_by_id = ?, updated_at = ?
				 WHERE id = ?`,
				ratedomain.CatalogStatusSuperseded,
				catalog.ID,
				now,
				prior.ID,
			).Error; err != nil {
				return err
			}
			supersededID = &prior.ID
			catalog.SupersedesID = &prior.ID
		}

		if err := tx.WithContext(ctx).Exec(
			`UPDATE rate_catalogs
			 SET status = ?, supersedes_id = ?, updated_at = ?
			 WHERE id = ?`,
			ratedomain.CatalogStatusActive,
			catalog.SupersedesID,
			now,
			catalog.ID,
		).Error; err != nil {
			return err
		}

		catalog.Status = ratedomain.CatalogStatusActive
		catalog.UpdatedAt = now
		activated = *catalog
		return nil
	})
	if err != nil {
		return ratedomain.RateCatalog{}, err
	}

	metadata := map[string]any{"version": activated.Version}
	if supersededID != nil {
		metadata["supersedes_id"] = supersededID.String()
	}
	s.emitAudit(ctx, activated, "rate_catalog.activated", metadata)
	return activated, nil
}

func (s *Service) ArchiveCatalog(ctx context.Context, catalogID snowflake.ID) error {
	catalog, err := s.loadCatalog(ctx, catalogID)
	if err != nil {
		return err
	}
	if catalog.Status == ratedomain.CatalogStatusActive {
		// An active catalog must be superseded first so resolution never
		// loses its single active version.
		return ratedomain.ErrCatalogNotDraft
	}

	now := s.clock.Now()
	if err := s.catalogrepo.Update(ctx, catalog.ID.String(), map[string]any{
		"status":     ratedomain.CatalogStatusArchived,
		"updated_at": now,
	}); err != nil {
		return err
	}
	s.emitAudit(ctx, *catalog, "rate_catalog.archived", nil)
	return nil
}

// ResolveActiveRate returns the rate item priced for work recorded now.
// There is no price defaulting: a missing item is terminal for entry
// creation.
func (s *Service) ResolveActiveRate(ctx context.Context, companyID, utilityID snowflake.ID, itemCode string) (ratedomain.RateItem, error) {
	if companyID == 0 {
		return ratedomain.RateItem{}, ratedomain.ErrInvalidCompany
	}
	if utilityID == 0 {
		return ratedomain.RateItem{}, ratedomain.ErrInvalidUtility
	}
	code := strings.TrimSpace(itemCode)
	if code == "" {
		return ratedomain.RateItem{}, ratedomain.ErrInvalidItemCode
	}

	now := s.clock.Now()
	catalog, err := s.catalogrepo.FindOne(ctx, &ratedomain.RateCatalog{
		CompanyID: companyID,
		UtilityID: utilityID,
		Status:    ratedomain.CatalogStatusActive,
	})
	if err != nil {
		return ratedomain.RateItem{}, err
	}
	if catalog == nil {
		return ratedomain.RateItem{}, ratedomain.ErrRateNotFound
	}
	if now.Before(catalog.EffectiveDate) {
		return ratedomain.RateItem{}, ratedomain.ErrRateNotFound
	}
	if catalog.ExpirationDate != nil && now.After(*catalog.ExpirationDate) {
		return ratedomain.RateItem{}, ratedomain.ErrRateNotFound
	}

	items, err := s.itemrepo.Find(ctx, &ratedomain.RateItem{
		CatalogID: catalog.ID,
		ItemCode:  code,
	})
	if err != nil {
		return ratedomain.RateItem{}, err
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		if item.EffectiveAt(now) {
			return *item, nil
		}
	}
	return ratedomain.RateItem{}, ratedomain.ErrRateNotFound
}

func (s *Service) ListItems(ctx context.Context, req ratedomain.ListItemsRequest) ([]ratedomain.RateItem, error) {
	if req.CatalogID == 0 {
		return nil, ratedomain.ErrCatalogNotFound
	}

	filter := &ratedomain.RateItem{CatalogID: req.CatalogID}
	if req.Category != "" {
		filter.Category = req.Category
	}
	if req.ActiveOnly {
		filter.IsActive = true
	}

	rows, err := s.itemrepo.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]ratedomain.RateItem, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		items = append(items, *row)
	}
	return items, nil
}

func (s *Service) loadCatalog(ctx context.Context, id snowflake.ID) (*ratedomain.RateCatalog, error) {
	if id == 0 {
		return nil, ratedomain.ErrCatalogNotFound
	}
	catalog, err := s.catalogrepo.FindOne(ctx, &ratedomain.RateCatalog{ID: id})
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, ratedomain.ErrCatalogNotFound
	}
	return catalog, nil
}

func (s *Service) loadCatalogForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*ratedomain.RateCatalog, error) {
	var catalog ratedomain.RateCatalog
	err := tx.WithContext(ctx).Raw(
		`SELECT id, company_id, utility_id, name, version, status,
		        effective_date, expiration_date, supersedes_id, superseded_by_id,
		        created_at, updated_at
		 FROM rate_catalogs
		 WHERE id = ?`,
		id,
	).Scan(&catalog).Error
	if err != nil {
		return nil, err
	}
	if catalog.ID == 0 {
		return nil, nil
	}
	return &catalog, nil
}

func (s *Service) nextVersion(ctx context.Context, companyID, utilityID snowflake.ID) (int, error) {
	var next int
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(version), 0) + 1
		 FROM rate_catalogs
		 WHERE company_id = ? AND utility_id = ?`,
		companyID,
		utilityID,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Service) emitAudit(ctx context.Context, catalog ratedomain.RateCatalog, action string, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"utility_id": catalog.UtilityID.String(),
		"version":    catalog.Version,
		"status":     string(catalog.Status),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	_ = s.auditSvc.AuditLog(ctx, catalog.CompanyID, action, "rate_catalog", catalog.ID.String(), metadata)
}
