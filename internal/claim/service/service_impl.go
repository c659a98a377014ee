package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/actor"
	auditdomain "github.com/fieldbill/fieldbill/internal/audit/domain"
	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	"github.com/fieldbill/fieldbill/internal/clock"
	"github.com/fieldbill/fieldbill/internal/config"
	obsmetrics "github.com/fieldbill/fieldbill/internal/observability/metrics"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"github.com/fieldbill/fieldbill/pkg/db"
	"github.com/fieldbill/fieldbill/pkg/db/option"
	"github.com/fieldbill/fieldbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxClaimNumberAttempts bounds suffix regeneration on claim number
// collisions before the error is surfaced as transient.
const maxClaimNumberAttempts = 5

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics

	claimrepo repository.Repository[claimdomain.Claim]
}

func NewService(p Params) claimdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("claim.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,

		claimrepo: repository.ProvideStore[claimdomain.Claim](p.DB),
	}
}

// CreateClaim aggregates the requested approved units into a new claim.
// Eligibility is all-or-nothing: a partial match creates nothing and
// touches no unit.
func (s *Service) CreateClaim(ctx context.Context, req claimdomain.CreateClaimRequest) (claimdomain.Claim, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return claimdomain.Claim{}, claimdomain.ErrMissingActor
	}
	if !who.Role.CanApprove() {
		return claimdomain.Claim{}, claimdomain.ErrRoleForbidden
	}
	if req.CompanyID == 0 {
		return claimdomain.Claim{}, &claimdomain.ValidationError{Field: "companyId", Message: "required"}
	}

	unitIDs := dedupeIDs(req.UnitIDs)
	if len(unitIDs) == 0 {
		return claimdomain.Claim{}, &claimdomain.ValidationError{Field: "unitIds", Message: "at least one unit id required"}
	}

	claimType := req.ClaimType
	if claimType == "" {
		claimType = claimdomain.ClaimTypeProgress
	}
	if !claimType.Valid() {
		return claimdomain.Claim{}, &claimdomain.ValidationError{Field: "claimType", Message: "unknown claim type"}
	}
	if req.RetentionRate < 0 || req.RetentionRate >= 1 {
		return claimdomain.Claim{}, &claimdomain.ValidationError{Field: "retentionRate", Message: "must be in [0, 1)"}
	}
	if req.TaxRate < 0 || req.TaxRate >= 1 {
		return claimdomain.Claim{}, &claimdomain.ValidationError{Field: "taxRate", Message: "must be in [0, 1)"}
	}

	entries, err := s.fetchEligible(ctx, req.CompanyID, unitIDs)
	if err != nil {
		return claimdomain.Claim{}, err
	}
	if len(entries) != len(unitIDs) {
		return claimdomain.Claim{}, &claimdomain.IneligibleUnitsError{
			Requested: len(unitIDs),
			Eligible:  len(entries),
		}
	}

	now := s.clock.Now()
	claim := claimdomain.Claim{
		ID:        s.genID.Generate(),
		CompanyID: req.CompanyID,
		ClaimType: claimType,
		Status:    claimdomain.StatusDraft,

		RetentionRate: req.RetentionRate,
		TaxRate:       req.TaxRate,
		PeriodStart:   req.PeriodStart,
		PeriodEnd:     req.PeriodEnd,

		CreatedBy: who.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	jobSeen := map[snowflake.ID]bool{}
	for _, entry := range entries {
		claim.LineItems = append(claim.LineItems, claimdomain.SnapshotLineItem(entry))
		claim.SubtotalCents += entry.TotalCents
		if !jobSeen[entry.JobID] {
			jobSeen[entry.JobID] = true
			claim.JobIDs = append(claim.JobIDs, entry.JobID)
		}
	}
	claim.RetentionCents = claimdomain.RateAmount(claim.SubtotalCents, claim.RetentionRate)
	claim.TaxCents = claimdomain.RateAmount(claim.SubtotalCents, claim.TaxRate)
	claim.Recompute()
	claim.AppendChange("claim.created", who.ID, now, map[string]any{
		"unit_count":     len(entries),
		"subtotal_cents": claim.SubtotalCents,
	})

	plan := newAggregationPlan(s.db, s.log, claim.ID, unitIDs)
	err = plan.Commit(ctx, now, func(ctx context.Context) error {
		return s.insertWithNumber(ctx, &claim)
	})
	if err == claimdomain.ErrEntryLinkageIncomplete {
		// A concurrent aggregator won some of the units after our read.
		// The draft claim is abandoned; whatever was linked is released.
		plan.Abandon(ctx, s.clock.Now())
		return claimdomain.Claim{}, &claimdomain.IneligibleUnitsError{
			Requested: len(unitIDs),
			Eligible:  0,
		}
	}
	if err != nil {
		return claimdomain.Claim{}, err
	}

	s.obsMetrics.RecordClaimCreated(ctx, string(claim.ClaimType))
	s.emitAudit(ctx, claim, "claim.created", map[string]any{
		"claim_number":   claim.ClaimNumber,
		"unit_count":     len(entries),
		"subtotal_cents": claim.SubtotalCents,
	})
	return claim, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (claimdomain.Claim, error) {
	claim, err := s.loadClaim(ctx, id)
	if err != nil {
		return claimdomain.Claim{}, err
	}
	return *claim, nil
}

func (s *Service) ListClaims(ctx context.Context, req claimdomain.ListClaimsRequest) ([]claimdomain.Claim, error) {
	if req.CompanyID == 0 {
		return nil, &claimdomain.ValidationError{Field: "companyId", Message: "required"}
	}

	filter := &claimdomain.Claim{CompanyID: req.CompanyID}
	if req.Status != nil {
		filter.Status = *req.Status
	}
	if req.ClaimType != nil {
		filter.ClaimType = *req.ClaimType
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	}
	if req.CreatedFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GTE,
			Value:    *req.CreatedFrom,
		}))
	}
	if req.CreatedTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LTE,
			Value:    *req.CreatedTo,
		}))
	}

	rows, err := s.claimrepo.Find(ctx, filter, options...)
	if err != nil {
		return nil, err
	}
	claims := make([]claimdomain.Claim, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		claims = append(claims, *row)
	}
	return claims, nil
}

func (s *Service) SubmitClaim(ctx context.Context, id snowflake.ID) (claimdomain.Claim, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return claimdomain.Claim{}, claimdomain.ErrMissingActor
	}

	claim, err := s.loadClaim(ctx, id)
	if err != nil {
		return claimdomain.Claim{}, err
	}
	if err := claim.Transition(claimdomain.StatusSubmitted); err != nil {
		return claimdomain.Claim{}, err
	}

	now := s.clock.Now()
	claim.SubmittedBy = who.ID
	claim.SubmittedAt = &now
	claim.AppendChange("claim.submitted", who.ID, now, nil)
	if err := s.save(ctx, claim, now); err != nil {
		return claimdomain.Claim{}, err
	}

	s.emitAudit(ctx, *claim, "claim.submitted", nil)
	return *claim, nil
}

func (s *Service) ApproveClaim(ctx context.Context, id snowflake.ID) (claimdomain.Claim, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return claimdomain.Claim{}, claimdomain.ErrMissingActor
	}
	if !who.Role.CanApprove() {
		return claimdomain.Claim{}, claimdomain.ErrRoleForbidden
	}

	claim, err := s.loadClaim(ctx, id)
	if err != nil {
		return claimdomain.Claim{}, err
	}
	if err := claim.Transition(claimdomain.StatusApproved); err != nil {
		return claimdomain.Claim{}, err
	}

	now := s.clock.Now()
	claim.ApprovedBy = who.ID
	claim.ApprovedAt = &now
	claim.AppendChange("claim.approved", who.ID, now, nil)
	if err := s.save(ctx, claim, now); err != nil {
		return claimdomain.Claim{}, err
	}

	s.emitAudit(ctx, *claim, "claim.approved", nil)
	return *claim, nil
}

// DeleteClaim removes a draft claim and releases its units back to
// approved, mirroring the forward linkage exactly.
func (s *Service) DeleteClaim(ctx context.Context, id snowflake.ID) error {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return claimdomain.ErrMissingActor
	}
	if !who.Role.CanApprove() {
		return claimdomain.ErrRoleForbidden
	}

	claim, err := s.loadClaim(ctx, id)
	if err != nil {
		return err
	}
	if claim.Status != claimdomain.StatusDraft {
		return claimdomain.ErrClaimNotDraft
	}

	now := s.clock.Now()
	plan := newAggregationPlan(s.db, s.log, claim.ID, claim.EntryIDs())
	if err := plan.Release(ctx, now); err != nil {
		return err
	}
	if err := s.claimrepo.Delete(ctx, claim.ID.String()); err != nil {
		return err
	}

	s.emitAudit(ctx, *claim, "claim.deleted", map[string]any{
		"claim_number": claim.ClaimNumber,
	})
	return nil
}

// AddAdjustment appends one signed amount correction. Adjustments that
// would drive the claim total negative are rejected outright.
func (s *Service) AddAdjustment(ctx context.Context, id snowflake.ID, req claimdomain.AddAdjustmentRequest) (claimdomain.Claim, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return claimdomain.Claim{}, claimdomain.ErrMissingActor
	}
	if req.AmountCents == 0 {
		return claimdomain.Claim{}, &claimdomain.ValidationError{Field: "amount", Message: "must be non-zero"}
	}
	if req.Description == "" {
		return claimdomain.Claim{}, &claimdomain.ValidationError{Field: "description", Message: "required"}
	}

	claim, err := s.loadClaim(ctx, id)
	if err != nil {
		return claimdomain.Claim{}, err
	}
	if claim.Status == claimdomain.StatusPaid {
		return claimdomain.Claim{}, &claimdomain.TransitionError{
			ClaimID:   claim.ID,
			Current:   claim.Status,
			Requested: claim.Status,
		}
	}

	now := s.clock.Now()
	claim.Adjustments = append(claim.Adjustments, claimdomain.Adjustment{
		Description: req.Description,
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
		AddedBy:     who.ID,
		AddedAt:     now,
	})
	claim.Recompute()
	if claim.TotalCents < 0 {
		return claimdomain.Claim{}, claimdomain.ErrOverCredited
	}
	claim.AppendChange("claim.adjustment_added", who.ID, now, map[string]any{
		"amount_cents": req.AmountCents,
		"description":  req.Description,
	})
	if err := s.save(ctx, claim, now); err != nil {
		return claimdomain.Claim{}, err
	}

	s.emitAudit(ctx, *claim, "claim.adjustment_added", map[string]any{
		"amount_cents": req.AmountCents,
	})
	return *claim, nil
}

// insertWithNumber persists the claim under a freshly generated claim
// number, regenerating the random suffix on collision a bounded number
// of times.
func (s *Service) insertWithNumber(ctx context.Context, claim *claimdomain.Claim) error {
	year := s.clock.Now().Year()
	seq, err := s.nextClaimSeq(ctx, year)
	if err != nil {
		return err
	}
	claim.ClaimYear = year
	claim.ClaimSeq = seq

	for attempt := 0; attempt < maxClaimNumberAttempts; attempt++ {
		claim.ClaimNumber = formatClaimNumber(year, seq, rand.IntN(1000))
		err := s.claimrepo.Create(ctx, claim)
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		s.log.Warn("claim number collision, retrying",
			zap.String("claim_number", claim.ClaimNumber),
			zap.Int("attempt", attempt+1),
		)
	}
	return claimdomain.ErrClaimNumberExhausted
}

// formatClaimNumber renders CLM-{year}-{5-digit sequence}-{3-digit
// random suffix}. The suffix absorbs the read-then-write race between
// concurrent creations computing the same sequence.
func formatClaimNumber(year, seq, suffix int) string {
	return fmt.Sprintf("CLM-%d-%05d-%03d", year, seq, suffix)
}

func (s *Service) nextClaimSeq(ctx context.Context, year int) (int, error) {
	var next int
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(claim_seq), 0) + 1
		 FROM claims
		 WHERE claim_year = ?`,
		year,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Service) fetchEligible(ctx context.Context, companyID snowflake.ID, unitIDs []snowflake.ID) ([]ledgerdomain.Entry, error) {
	var rows []*ledgerdomain.Entry
	err := s.db.WithContext(ctx).
		Where("id IN ? AND company_id = ? AND status = ? AND claim_id IS NULL AND is_deleted = ?",
			unitIDs, companyID, ledgerdomain.StatusApproved, false).
		Order("work_date asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]ledgerdomain.Entry, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		entries = append(entries, *row)
	}
	return entries, nil
}

func (s *Service) loadClaim(ctx context.Context, id snowflake.ID) (*claimdomain.Claim, error) {
	if id == 0 {
		return nil, claimdomain.ErrClaimNotFound
	}
	claim, err := s.claimrepo.FindOne(ctx, &claimdomain.Claim{ID: id})
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, claimdomain.ErrClaimNotFound
	}
	return claim, nil
}

// save re-derives the financial invariant and persists the claim. Every
// claim mutation funnels through here so totals can never drift.
func (s *Service) save(ctx context.Context, claim *claimdomain.Claim, now time.Time) error {
	claim.Recompute()
	claim.UpdatedAt = now
	return s.db.WithContext(ctx).Save(claim).Error
}

func (s *Service) emitAudit(ctx context.Context, claim claimdomain.Claim, action string, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"claim_number": claim.ClaimNumber,
		"status":       string(claim.Status),
		"total_cents":  claim.TotalCents,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	_ = s.auditSvc.AuditLog(ctx, claim.CompanyID, action, "claim", claim.ID.String(), metadata)
}

func dedupeIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]bool, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
