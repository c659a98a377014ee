package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/actor"
	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"go.uber.org/zap"
)

// RecordPayment appends a received payment to the claim. When the
// balance due reaches zero the claim settles and its underlying unit
// entries are moved from invoiced to paid in one bulk update.
func (s *Service) RecordPayment(ctx context.Context, id snowflake.ID, req claimdomain.RecordPaymentRequest) (claimdomain.Claim, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return claimdomain.Claim{}, claimdomain.ErrMissingActor
	}
	if req.AmountCents <= 0 {
		return claimdomain.Claim{}, claimdomain.ErrInvalidPaymentAmount
	}

	claim, err := s.loadClaim(ctx, id)
	if err != nil {
		return claimdomain.Claim{}, err
	}
	switch claim.Status {
	case claimdomain.StatusApproved, claimdomain.StatusExported, claimdomain.StatusPartiallyPaid:
	default:
		return claimdomain.Claim{}, &claimdomain.TransitionError{
			ClaimID:   claim.ID,
			Current:   claim.Status,
			Requested: claimdomain.StatusPartiallyPaid,
		}
	}

	now := s.clock.Now()
	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}
	claim.Payments = append(claim.Payments, claimdomain.Payment{
		AmountCents:     req.AmountCents,
		PaymentDate:     paymentDate,
		PaymentMethod:   req.PaymentMethod,
		ReferenceNumber: req.ReferenceNumber,
		RecordedBy:      who.ID,
		RecordedAt:      now,
	})
	claim.Recompute()

	// Overpayment closes the claim like an exact payment does. The
	// excess stays visible on the balance as a negative remainder.
	paidInFull := claim.BalanceDueCents <= 0
	if paidInFull {
		if err := claim.Transition(claimdomain.StatusPaid); err != nil {
			return claimdomain.Claim{}, err
		}
		claim.PaidInFullAt = &now
	} else if claim.Status != claimdomain.StatusPartiallyPaid {
		if err := claim.Transition(claimdomain.StatusPartiallyPaid); err != nil {
			return claimdomain.Claim{}, err
		}
	}

	claim.AppendChange("claim.payment_recorded", who.ID, now, map[string]any{
		"amount_cents":      req.AmountCents,
		"payment_method":    req.PaymentMethod,
		"balance_due_cents": claim.BalanceDueCents,
	})
	if err := s.save(ctx, claim, now); err != nil {
		return claimdomain.Claim{}, err
	}

	if paidInFull {
		if err := s.settleEntries(ctx, claim.ID); err != nil {
			// The claim itself is settled; entry settlement is retried
			// out of band rather than unwinding the payment.
			s.log.Error("settling unit entries after final payment",
				zap.String("claim_id", claim.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.obsMetrics.RecordPayment(ctx, req.PaymentMethod, paidInFull)
	s.emitAudit(ctx, *claim, "claim.payment_recorded", map[string]any{
		"amount_cents": req.AmountCents,
		"paid_in_full": paidInFull,
	})
	return *claim, nil
}

// settleEntries flips every invoiced entry on the claim to paid.
func (s *Service) settleEntries(ctx context.Context, claimID snowflake.ID) error {
	result := s.db.WithContext(ctx).
		Model(&ledgerdomain.Entry{}).
		Where("claim_id = ? AND status = ?", claimID, ledgerdomain.StatusInvoiced).
		Updates(map[string]any{
			"status":     ledgerdomain.StatusPaid,
			"updated_at": s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	s.log.Info("unit entries settled",
		zap.String("claim_id", claimID.String()),
		zap.Int64("entries", result.RowsAffected),
	)
	return nil
}
