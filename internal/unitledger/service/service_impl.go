package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/actor"
	auditdomain "github.com/fieldbill/fieldbill/internal/audit/domain"
	"github.com/fieldbill/fieldbill/internal/clock"
	obsmetrics "github.com/fieldbill/fieldbill/internal/observability/metrics"
	ratedomain "github.com/fieldbill/fieldbill/internal/ratecatalog/domain"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"github.com/fieldbill/fieldbill/pkg/db/option"
	"github.com/fieldbill/fieldbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	RateSvc    ratedomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	rateSvc    ratedomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics

	entryrepo repository.Repository[ledgerdomain.Entry]
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("unitledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		rateSvc:    p.RateSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,

		entryrepo: repository.ProvideStore[ledgerdomain.Entry](p.DB),
	}
}

// CreateEntry validates the field record, locks the active rate onto it
// and auto-submits when evidence and an accurate GPS fix are present.
func (s *Service) CreateEntry(ctx context.Context, req ledgerdomain.CreateEntryRequest) (ledgerdomain.Entry, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return ledgerdomain.Entry{}, ledgerdomain.ErrMissingActor
	}

	if err := validateCreate(req); err != nil {
		return ledgerdomain.Entry{}, err
	}

	rate, err := s.rateSvc.ResolveActiveRate(ctx, req.CompanyID, req.UtilityID, req.ItemCode)
	if err != nil {
		// Terminal: an entry is never priced by default.
		return ledgerdomain.Entry{}, err
	}

	now := s.clock.Now()
	entry := ledgerdomain.Entry{
		ID:        s.genID.Generate(),
		CompanyID: req.CompanyID,
		JobID:     req.JobID,
		UtilityID: req.UtilityID,

		RateItemID:     rate.ID,
		ItemCode:       rate.ItemCode,
		Description:    rate.Description,
		Unit:           rate.Unit,
		UnitPriceCents: rate.UnitPriceCents,
		Category:       rate.Category,

		Quantity:    req.Quantity,
		TotalCents:  ledgerdomain.TotalFor(req.Quantity, rate.UnitPriceCents),
		WorkDate:    req.WorkDate,
		Location:    req.Location,
		PerformedBy: req.PerformedBy,

		Photos:            datatypes.NewJSONSlice(req.Photos),
		PhotoWaived:       req.PhotoWaived,
		PhotoWaivedReason: strings.TrimSpace(req.PhotoWaivedReason),

		Status:    ledgerdomain.StatusDraft,
		CreatedBy: who.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	autoSubmitted := false
	if entry.HasEvidence() && entry.Location.Accuracy > 0 &&
		entry.Location.Accuracy <= ledgerdomain.MaxAutoSubmitAccuracy {
		entry.Status = ledgerdomain.StatusSubmitted
		entry.SubmittedAt = &now
		autoSubmitted = true
	}

	if err := s.entryrepo.Create(ctx, &entry); err != nil {
		return ledgerdomain.Entry{}, err
	}

	s.obsMetrics.RecordUnitEntry(ctx, string(entry.Category), autoSubmitted)
	s.emitAudit(ctx, entry, "unit_entry.created", map[string]any{
		"auto_submitted": autoSubmitted,
		"item_code":      entry.ItemCode,
		"quantity":       entry.Quantity,
		"total_cents":    entry.TotalCents,
	})
	return entry, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (ledgerdomain.Entry, error) {
	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	return *entry, nil
}

func (s *Service) ListEntries(ctx context.Context, req ledgerdomain.ListEntriesRequest) ([]ledgerdomain.Entry, error) {
	if req.CompanyID == 0 {
		return nil, &ledgerdomain.ValidationError{Field: "companyId", Message: "required"}
	}

	filter := &ledgerdomain.Entry{CompanyID: req.CompanyID}
	if req.JobID != nil {
		filter.JobID = *req.JobID
	}
	if req.Status != nil {
		filter.Status = *req.Status
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"work_date": true, "created_at": true}, Field: "work_date", Desc: true}),
	}
	if req.WorkDateFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "work_date",
			Operator: option.GTE,
			Value:    *req.WorkDateFrom,
		}))
	}
	if req.WorkDateTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "work_date",
			Operator: option.LTE,
			Value:    *req.WorkDateTo,
		}))
	}
	if !req.IncludeDeleted {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "is_deleted",
			Operator: option.EQ,
			Value:    false,
		}))
	}

	rows, err := s.entryrepo.Find(ctx, filter, options...)
	if err != nil {
		return nil, err
	}
	return collect(rows), nil
}

// ListUnbilled returns entries eligible for claim aggregation: approved,
// unlinked, not soft-deleted.
func (s *Service) ListUnbilled(ctx context.Context, companyID snowflake.ID) ([]ledgerdomain.Entry, error) {
	if companyID == 0 {
		return nil, &ledgerdomain.ValidationError{Field: "companyId", Message: "required"}
	}

	var rows []*ledgerdomain.Entry
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND status = ? AND claim_id IS NULL AND is_deleted = ?",
			companyID, ledgerdomain.StatusApproved, false).
		Order("work_date asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return collect(rows), nil
}

// Submit moves a draft entry to submitted. Only the original entrant may
// submit.
func (s *Service) Submit(ctx context.Context, id snowflake.ID) (ledgerdomain.Entry, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return ledgerdomain.Entry{}, ledgerdomain.ErrMissingActor
	}

	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	if entry.CreatedBy != who.ID {
		return ledgerdomain.Entry{}, ledgerdomain.ErrActorNotEntrant
	}
	if err := entry.Transition(ledgerdomain.StatusSubmitted); err != nil {
		return ledgerdomain.Entry{}, err
	}

	now := s.clock.Now()
	entry.SubmittedAt = &now
	entry.UpdatedAt = now
	if err := s.save(ctx, entry); err != nil {
		return ledgerdomain.Entry{}, err
	}

	s.emitAudit(ctx, *entry, "unit_entry.submitted", nil)
	return *entry, nil
}

// Verify moves a submitted entry to verified, recording the verifier.
func (s *Service) Verify(ctx context.Context, id snowflake.ID, notes string) (ledgerdomain.Entry, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return ledgerdomain.Entry{}, ledgerdomain.ErrMissingActor
	}
	if !who.Role.CanVerify() {
		return ledgerdomain.Entry{}, ledgerdomain.ErrRoleForbidden
	}

	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	if err := entry.Transition(ledgerdomain.StatusVerified); err != nil {
		return ledgerdomain.Entry{}, err
	}

	now := s.clock.Now()
	entry.VerifiedBy = who.ID
	entry.VerifiedAt = &now
	entry.VerifyNotes = strings.TrimSpace(notes)
	entry.UpdatedAt = now
	if err := s.save(ctx, entry); err != nil {
		return ledgerdomain.Entry{}, err
	}

	s.emitAudit(ctx, *entry, "unit_entry.verified", nil)
	return *entry, nil
}

// Approve moves a verified entry to approved, making it billable.
func (s *Service) Approve(ctx context.Context, id snowflake.ID) (ledgerdomain.Entry, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return ledgerdomain.Entry{}, ledgerdomain.ErrMissingActor
	}
	if !who.Role.CanApprove() {
		return ledgerdomain.Entry{}, ledgerdomain.ErrRoleForbidden
	}

	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	if err := entry.Transition(ledgerdomain.StatusApproved); err != nil {
		return ledgerdomain.Entry{}, err
	}

	now := s.clock.Now()
	entry.ApprovedBy = who.ID
	entry.ApprovedAt = &now
	entry.UpdatedAt = now
	if err := s.save(ctx, entry); err != nil {
		return ledgerdomain.Entry{}, err
	}

	s.emitAudit(ctx, *entry, "unit_entry.approved", nil)
	return *entry, nil
}

func (s *Service) loadEntry(ctx context.Context, id snowflake.ID) (*ledgerdomain.Entry, error) {
	if id == 0 {
		return nil, ledgerdomain.ErrEntryNotFound
	}
	entry, err := s.entryrepo.FindOne(ctx, &ledgerdomain.Entry{ID: id})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ledgerdomain.ErrEntryNotFound
	}
	if entry.IsDeleted {
		return nil, ledgerdomain.ErrEntryDeleted
	}
	return entry, nil
}

func (s *Service) save(ctx context.Context, entry *ledgerdomain.Entry) error {
	return s.db.WithContext(ctx).Save(entry).Error
}

func (s *Service) emitAudit(ctx context.Context, entry ledgerdomain.Entry, action string, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"job_id": entry.JobID.String(),
		"status": string(entry.Status),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	_ = s.auditSvc.AuditLog(ctx, entry.CompanyID, action, "unit_entry", entry.ID.String(), metadata)
}

func validateCreate(req ledgerdomain.CreateEntryRequest) error {
	if req.CompanyID == 0 {
		return &ledgerdomain.ValidationError{Field: "companyId", Message: "required"}
	}
	if req.JobID == 0 {
		return &ledgerdomain.ValidationError{Field: "jobId", Message: "required"}
	}
	if req.UtilityID == 0 {
		return &ledgerdomain.ValidationError{Field: "utilityId", Message: "required"}
	}
	if strings.TrimSpace(req.ItemCode) == "" {
		return &ledgerdomain.ValidationError{Field: "itemCode", Message: "required"}
	}
	if req.Quantity <= 0 {
		return &ledgerdomain.ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}
	if req.WorkDate.IsZero() {
		return &ledgerdomain.ValidationError{Field: "workDate", Message: "required"}
	}
	if !req.Location.HasFix() {
		return &ledgerdomain.ValidationError{Field: "location", Message: "required"}
	}
	if !req.PerformedBy.Tier.Valid() {
		return &ledgerdomain.ValidationError{Field: "performedBy.tier", Message: "must be prime, sub or sub_of_sub"}
	}
	if req.PerformedBy.WorkCategory == "" {
		return &ledgerdomain.ValidationError{Field: "performedBy.workCategory", Message: "required"}
	}
	if len(req.Photos) == 0 {
		if !req.PhotoWaived {
			return &ledgerdomain.ValidationError{Field: "photos", Message: "at least one photo required unless waived"}
		}
		if strings.TrimSpace(req.PhotoWaivedReason) == "" {
			return &ledgerdomain.ValidationError{Field: "photoWaivedReason", Message: "required when photo is waived"}
		}
	}
	return nil
}

func collect(rows []*ledgerdomain.Entry) []ledgerdomain.Entry {
	entries := make([]ledgerdomain.Entry, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		entries = append(entries, *row)
	}
	return entries
}
