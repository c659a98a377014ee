package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/actor"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
)

// Dispute flags an entry in review (submitted, verified or approved) and
// preserves its prior status for the resolver.
func (s *Service) Dispute(ctx context.Context, id snowflake.ID, req ledgerdomain.DisputeRequest) (ledgerdomain.Entry, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return ledgerdomain.Entry{}, ledgerdomain.ErrMissingActor
	}
	if strings.TrimSpace(req.Reason) == "" {
		return ledgerdomain.Entry{}, &ledgerdomain.ValidationError{Field: "reason", Message: "required"}
	}
	if strings.TrimSpace(req.Category) == "" {
		return ledgerdomain.Entry{}, &ledgerdomain.ValidationError{Field: "category", Message: "required"}
	}

	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return ledgerdomain.Entry{}, err
	}

	prior := entry.Status
	if err := entry.Transition(ledgerdomain.StatusDisputed); err != nil {
		return ledgerdomain.Entry{}, err
	}

	now := s.clock.Now()
	entry.IsDisputed = true
	entry.DisputeReason = strings.TrimSpace(req.Reason)
	entry.DisputeCategory = strings.TrimSpace(req.Category)
	entry.DisputedBy = who.ID
	entry.DisputedAt = &now
	entry.StatusBeforeDispute = prior
	entry.UpdatedAt = now
	if err := s.save(ctx, entry); err != nil {
		return ledgerdomain.Entry{}, err
	}

	s.emitAudit(ctx, *entry, "unit_entry.disputed", map[string]any{
		"reason":       entry.DisputeReason,
		"category":     entry.DisputeCategory,
		"prior_status": string(prior),
	})
	return *entry, nil
}

// ResolveDispute applies accept, adjust, void or resubmit to a disputed
// entry. All four clear the dispute flag and stamp the resolution.
func (s *Service) ResolveDispute(ctx context.Context, id snowflake.ID, req ledgerdomain.ResolveDisputeRequest) (ledgerdomain.Entry, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return ledgerdomain.Entry{}, ledgerdomain.ErrMissingActor
	}
	if !who.Role.CanResolveDispute() {
		return ledgerdomain.Entry{}, ledgerdomain.ErrRoleForbidden
	}

	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	if !entry.IsDisputed || entry.Status != ledgerdomain.StatusDisputed {
		return ledgerdomain.Entry{}, ledgerdomain.ErrNotDisputed
	}

	now := s.clock.Now()

	switch req.Action {
	case ledgerdomain.DisputeAccept:
		if err := entry.Transition(ledgerdomain.StatusApproved); err != nil {
			return ledgerdomain.Entry{}, err
		}

	case ledgerdomain.DisputeAdjust:
		if req.AdjustedQuantity == nil || *req.AdjustedQuantity <= 0 {
			return ledgerdomain.Entry{}, &ledgerdomain.ValidationError{Field: "adjustedQuantity", Message: "must be greater than zero"}
		}
		if *req.AdjustedQuantity == entry.Quantity {
			return ledgerdomain.Entry{}, ledgerdomain.ErrAdjustmentUnchanged
		}
		if err := entry.Transition(ledgerdomain.StatusApproved); err != nil {
			return ledgerdomain.Entry{}, err
		}
		before := entry.Quantity
		beforeTotal := entry.TotalCents
		entry.Quantity = *req.AdjustedQuantity
		entry.TotalCents = ledgerdomain.TotalFor(entry.Quantity, entry.UnitPriceCents)
		entry.Adjustments = append(entry.Adjustments, ledgerdomain.Adjustment{
			QuantityBefore:    before,
			QuantityAfter:     entry.Quantity,
			TotalCentsBefore:  beforeTotal,
			TotalCentsAfter:   entry.TotalCents,
			Reason:            strings.TrimSpace(req.Notes),
			AdjustedBy:        who.ID,
			AdjustedAt:        now,
			DisputeResolution: string(ledgerdomain.DisputeAdjust),
		})

	case ledgerdomain.DisputeVoid:
		if err := entry.Transition(ledgerdomain.StatusDraft); err != nil {
			return ledgerdomain.Entry{}, err
		}
		entry.IsDeleted = true
		entry.DeletedAt = &now
		entry.DeletedBy = who.ID

	case ledgerdomain.DisputeResubmit:
		if err := entry.Transition(ledgerdomain.StatusDraft); err != nil {
			return ledgerdomain.Entry{}, err
		}

	default:
		return ledgerdomain.Entry{}, &ledgerdomain.ValidationError{Field: "action", Message: "must be accept, adjust, void or resubmit"}
	}

	entry.IsDisputed = false
	entry.DisputeResolution = string(req.Action)
	entry.DisputeResolvedBy = who.ID
	entry.DisputeResolvedAt = &now
	entry.UpdatedAt = now
	if err := s.save(ctx, entry); err != nil {
		return ledgerdomain.Entry{}, err
	}

	s.obsMetrics.RecordDisputeResolved(ctx, string(req.Action))
	s.emitAudit(ctx, *entry, "unit_entry.dispute_resolved", map[string]any{
		"action": string(req.Action),
	})
	return *entry, nil
}
