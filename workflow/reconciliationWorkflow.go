package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"gorm.io/gorm"
)

// ErrReconciliationIntegrity marks a partially written correction batch with
// no matching journal status flip. This is never auto-healed; it indicates a
// prior non-atomic write and needs an operator.
var ErrReconciliationIntegrity = errors.New("reconciliation batch partially written without status flip")

// ReconcileJournal applies an approved journal's counted quantities to the
// stock summaries as one all-or-nothing batch, then flips the journal to
// Reconciled. Idempotent by journal id: a retried call on a reconciled
// journal returns the existing batch instead of double-applying deltas.
func ReconcileJournal(ctx context.Context, journalId int, idempotencyKey string) ([]*models.ReconciliationTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	db := config.GetDB()
	now := time.Now().UTC()

	if err := AcquireJournalLock(db, businessId, journalId); err != nil {
		return nil, err
	}
	defer ReleaseJournalLock(db, businessId, journalId)

	journal, err := utils.FetchModel[models.CountJournal](ctx, businessId, journalId)
	if err != nil {
		return nil, err
	}

	switch journal.Status {
	case models.JournalStatusReconciled:
		return models.ListReconciliationTransactions(ctx, journalId)
	case models.JournalStatusApproved:
		// fall through
	default:
		return nil, models.ErrNotApproved
	}

	// An Approved journal must have no correction rows yet. Finding some
	// means an earlier write was non-atomic; surface it as a hard alert.
	var existing int64
	err = db.WithContext(ctx).Model(&models.ReconciliationTransaction{}).
		Where("business_id = ? AND journal_id = ?", businessId, journalId).
		Count(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		reportIntegrityFault(ctx, db, businessId, journalId, existing)
		return nil, ErrReconciliationIntegrity
	}

	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("reconcile:%d", journalId)
	} else {
		idempotencyKey = fmt.Sprintf("%d:%s", journalId, idempotencyKey)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := models.FetchJournalForUpdate(ctx, tx, businessId, journalId)
		if err != nil {
			return err
		}
		if locked.Status != models.JournalStatusApproved {
			if locked.Status == models.JournalStatusReconciled {
				return nil
			}
			return models.ErrNotApproved
		}

		skip, err := BeginIdempotency(tx, businessId, "reconcile_journal", idempotencyKey)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		var lines []models.JournalLine
		err = tx.WithContext(ctx).
			Preload("Item").
			Where("business_id = ? AND journal_id = ?", businessId, journalId).
			Find(&lines).Error
		if err != nil {
			return err
		}

		for _, line := range lines {
			if line.Status != models.LineStatusCounted || line.CountedQty == nil {
				continue
			}
			qtyBefore, err := models.GetStockQty(ctx, tx, businessId, line.ItemId, line.LocationId)
			if err != nil {
				return err
			}
			qtyAfter := *line.CountedQty
			delta := qtyAfter.Sub(qtyBefore)

			transaction := models.ReconciliationTransaction{
				BusinessId:   businessId,
				JournalId:    journalId,
				LineId:       line.ID,
				ItemId:       line.ItemId,
				LocationId:   line.LocationId,
				QtyBefore:    qtyBefore,
				QtyAfter:     qtyAfter,
				DeltaQty:     delta,
				DeltaValue:   delta.Mul(line.Item.CostPrice),
				ReconciledBy: userId,
				ReconciledAt: now,
			}
			if err := tx.Create(&transaction).Error; err != nil {
				return err
			}
			if err := models.UpsertStockQty(ctx, tx, businessId, line.ItemId, line.LocationId, qtyAfter, now); err != nil {
				return err
			}
		}

		err = tx.Model(&models.CountJournal{}).
			Where("business_id = ? AND id = ? AND status = ?", businessId, journalId, models.JournalStatusApproved).
			Updates(map[string]interface{}{
				"status":        models.JournalStatusReconciled,
				"reconciled_at": now,
			}).Error
		if err != nil {
			return err
		}

		if err := models.MarkPlanCompletedIfDone(ctx, tx, businessId, journal.PlanId); err != nil {
			return err
		}

		if err := models.PublishEvent(ctx, tx, businessId, journalId, models.EventJournalReconciled, map[string]interface{}{
			"reconciled_by": userId,
			"pass_number":   journal.PassNumber,
		}); err != nil {
			return err
		}
		return MarkIdempotencySucceeded(tx, businessId, "reconcile_journal", idempotencyKey)
	})
	if err != nil {
		return nil, err
	}
	return models.ListReconciliationTransactions(ctx, journalId)
}

// reportIntegrityFault logs and emits the hard alert outside the failed
// unit of work so it survives the caller's rollback.
func reportIntegrityFault(ctx context.Context, db *gorm.DB, businessId string, journalId int, batchSize int64) {
	logger := config.GetLogger()
	config.LogError(logger, "workflow", "ReconcileJournal", "integrity fault",
		fmt.Sprintf("journal_id=%d batch_size=%d", journalId, batchSize), ErrReconciliationIntegrity)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.PublishEvent(ctx, tx, businessId, journalId, models.EventIntegrityFault, map[string]interface{}{
			"batch_size": batchSize,
		})
	})
	if err != nil {
		config.LogError(logger, "workflow", "ReconcileJournal", "integrity fault event", fmt.Sprint(journalId), err)
	}
}
