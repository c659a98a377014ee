package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AggregationPlan is the two-phase protocol that keeps unit↔claim
// linkage consistent without a multi-document transaction. The claim
// write is always the gating step: Commit persists the claim first and
// only then links the units, so a failure in between leaves the units
// approved and re-claimable. The reverse ordering would orphan units
// against a claim that does not exist and is never used.
type AggregationPlan struct {
	db       *gorm.DB
	log      *zap.Logger
	claimID  snowflake.ID
	entryIDs []snowflake.ID
}

func newAggregationPlan(db *gorm.DB, log *zap.Logger, claimID snowflake.ID, entryIDs []snowflake.ID) *AggregationPlan {
	return &AggregationPlan{
		db:       db,
		log:      log,
		claimID:  claimID,
		entryIDs: entryIDs,
	}
}

// Commit runs the persist step and, only on its success, links the
// units. persist carries its own retry policy (claim number collisions);
// linking never runs for a claim that was not written.
func (p *AggregationPlan) Commit(ctx context.Context, now time.Time, persist func(ctx context.Context) error) error {
	if err := persist(ctx); err != nil {
		return err
	}
	return p.link(ctx, now)
}

// link bulk-transitions the planned units to invoiced. The WHERE guard
// on status and claim_id is the actual point of exclusivity between
// concurrent aggregators: a unit grabbed by another claim no longer
// matches.
func (p *AggregationPlan) link(ctx context.Context, now time.Time) error {
	res := p.db.WithContext(ctx).Exec(
		`UPDATE unit_entries
		 SET status = ?, claim_id = ?, updated_at = ?
		 WHERE id IN ? AND status = ? AND claim_id IS NULL AND is_deleted = ?`,
		ledgerdomain.StatusInvoiced,
		p.claimID,
		now,
		p.entryIDs,
		ledgerdomain.StatusApproved,
		false,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(p.entryIDs)) {
		p.log.Warn("aggregation linked fewer units than planned",
			zap.Int64("linked", res.RowsAffected),
			zap.Int("planned", len(p.entryIDs)),
			zap.String("claim_id", p.claimID.String()),
		)
		return claimdomain.ErrEntryLinkageIncomplete
	}
	return nil
}

// Release mirrors the forward linkage exactly: the claim's units are
// reset to approved and unlinked. Used by draft-only claim deletion.
func (p *AggregationPlan) Release(ctx context.Context, now time.Time) error {
	return p.db.WithContext(ctx).Exec(
		`UPDATE unit_entries
		 SET status = ?, claim_id = NULL, updated_at = ?
		 WHERE claim_id = ? AND status = ?`,
		ledgerdomain.StatusApproved,
		now,
		p.claimID,
		ledgerdomain.StatusInvoiced,
	).Error
}

// Abandon undoes a partial link and removes the just-written claim. Only
// called when link reported a shortfall on a freshly created draft claim.
func (p *AggregationPlan) Abandon(ctx context.Context, now time.Time) {
	if err := p.Release(ctx, now); err != nil {
		p.log.Warn("abandon: unit release failed", zap.Error(err))
	}
	if err := p.db.WithContext(ctx).Exec(
		`DELETE FROM claims WHERE id = ? AND status = ?`,
		p.claimID,
		claimdomain.StatusDraft,
	).Error; err != nil {
		p.log.Warn("abandon: claim delete failed", zap.Error(err))
	}
}
