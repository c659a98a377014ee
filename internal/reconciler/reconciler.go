// Package reconciler runs the background sweeps that repair the gaps the
// non-transactional claim linkage can leave behind: entries still marked
// invoiced after their claim settled, and entries pointing at a claim
// that no longer exists.
package reconciler

import (
	"context"
	"errors"
	"time"

	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	"github.com/fieldbill/fieldbill/internal/clock"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("reconciler: missing dependency")

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config Config `optional:"true"`
}

type Reconciler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	clock clock.Clock
}

func New(p Params) (*Reconciler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Reconciler{
		db:    p.DB,
		log:   p.Log.Named("reconciler"),
		cfg:   p.Config.withDefaults(),
		clock: p.Clock,
	}, nil
}

func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconciler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, r.cfg.JobTimeout)
	defer cancel()

	var errs []error
	if err := r.SettleEntriesJob(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.OrphanSweepJob(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SettleEntriesJob retries the entry settlement that RecordPayment
// defers when its bulk update fails after the final payment: any entry
// still invoiced under a paid claim is flipped to paid.
func (r *Reconciler) SettleEntriesJob(ctx context.Context) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE unit_entries
		 SET status = ?, updated_at = ?
		 WHERE id IN (
		   SELECT id FROM unit_entries
		   WHERE status = ?
		     AND claim_id IN (SELECT id FROM claims WHERE status = ?)
		   LIMIT ?
		 )`,
		ledgerdomain.StatusPaid,
		r.clock.Now(),
		ledgerdomain.StatusInvoiced,
		claimdomain.StatusPaid,
		r.cfg.BatchSize,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("settled lagging unit entries",
			zap.Int64("entries", res.RowsAffected),
		)
	}
	return nil
}

// OrphanSweepJob releases entries whose claim vanished, which happens
// when an abandoned aggregation deletes its draft claim but the unit
// release half fails. Orphans go back to approved and re-claimable.
func (r *Reconciler) OrphanSweepJob(ctx context.Context) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE unit_entries
		 SET status = ?, claim_id = NULL, updated_at = ?
		 WHERE id IN (
		   SELECT id FROM unit_entries
		   WHERE claim_id IS NOT NULL
		     AND status = ?
		     AND claim_id NOT IN (SELECT id FROM claims)
		   LIMIT ?
		 )`,
		ledgerdomain.StatusApproved,
		r.clock.Now(),
		ledgerdomain.StatusInvoiced,
		r.cfg.BatchSize,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Warn("released orphaned unit entries",
			zap.Int64("entries", res.RowsAffected),
		)
	}
	return nil
}
