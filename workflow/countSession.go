package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type NewCount struct {
	Qty      decimal.Decimal `json:"qty" binding:"required"`
	DeviceId string          `json:"device_id"`
	Note     string          `json:"note"`
	Serials  []string        `json:"serials"`
}

// RecordCount enters a counted quantity against a line. Re-recording within
// the same pass overwrites the line's latest value; every entry is appended
// to the count record history. The journal flips to InProgress on the first
// count of a pass.
func RecordCount(ctx context.Context, lineId int, input NewCount) (*models.JournalLine, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	if input.Qty.IsNegative() {
		return nil, models.ErrInvalidQuantity
	}

	var serialsJson []byte
	if len(input.Serials) > 0 {
		var err error
		serialsJson, err = json.Marshal(input.Serials)
		if err != nil {
			return nil, err
		}
	}

	db := config.GetDB()
	now := time.Now().UTC()
	var line *models.JournalLine

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		line, err = models.FetchLineWithJournal(ctx, tx, businessId, lineId)
		if err != nil {
			return err
		}

		journal := &line.Journal
		if journal.Status != models.JournalStatusAssigned && journal.Status != models.JournalStatusInProgress {
			return models.ErrInvalidTransition
		}
		if err := journal.OwnedBy(userId, now); err != nil {
			if errors.Is(err, models.ErrNotOwner) {
				return models.ErrLineNotOwnedByClaimant
			}
			return err
		}
		// Lines the reviewer accepted on an earlier pass are frozen; only the
		// current pass's lines may change.
		if line.PassNumber != journal.PassNumber && line.Status.Resolved() {
			return models.ErrInvalidTransition
		}

		if journal.Status == models.JournalStatusAssigned {
			result := tx.Model(&models.CountJournal{}).
				Where("business_id = ? AND id = ? AND status = ?", businessId, journal.ID, models.JournalStatusAssigned).
				Updates(map[string]interface{}{"status": models.JournalStatusInProgress})
			if result.Error != nil {
				return result.Error
			}
		}

		err = tx.Model(&models.JournalLine{}).
			Where("business_id = ? AND id = ?", businessId, lineId).
			Updates(map[string]interface{}{
				"status":      models.LineStatusCounted,
				"counted_qty": input.Qty,
				"counted_by":  userId,
				"counted_at":  now,
				"pass_number": journal.PassNumber,
				"skip_reason": "",
				"note":        input.Note,
				"serials":     serialsJson,
			}).Error
		if err != nil {
			return err
		}

		record := models.CountRecord{
			BusinessId: businessId,
			LineId:     lineId,
			JournalId:  journal.ID,
			PassNumber: journal.PassNumber,
			Qty:        input.Qty,
			CountedBy:  userId,
			CountedAt:  now,
			DeviceId:   input.DeviceId,
			Serials:    serialsJson,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, err
	}

	line.Status = models.LineStatusCounted
	line.CountedQty = &input.Qty
	line.CountedBy = userId
	line.CountedAt = &now
	line.Serials = serialsJson
	return line, nil
}

type NewSkip struct {
	Reason string `json:"reason" binding:"required"`
}

// SkipLine marks a line as deliberately not counted. A reason is mandatory;
// skipped lines classify as severity None but still surface in the approval
// view for the lead to sign off.
func SkipLine(ctx context.Context, lineId int, input NewSkip) (*models.JournalLine, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if input.Reason == "" {
		return nil, models.ErrSkipReasonRequired
	}

	db := config.GetDB()
	now := time.Now().UTC()
	var line *models.JournalLine

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		line, err = models.FetchLineWithJournal(ctx, tx, businessId, lineId)
		if err != nil {
			return err
		}

		journal := &line.Journal
		if journal.Status != models.JournalStatusAssigned && journal.Status != models.JournalStatusInProgress {
			return models.ErrInvalidTransition
		}
		if err := journal.OwnedBy(userId, now); err != nil {
			if errors.Is(err, models.ErrNotOwner) {
				return models.ErrLineNotOwnedByClaimant
			}
			return err
		}
		if line.PassNumber != journal.PassNumber && line.Status.Resolved() {
			return models.ErrInvalidTransition
		}

		// A pass may be resolved entirely by skips, so skipping starts the
		// pass the same way a count does.
		if journal.Status == models.JournalStatusAssigned {
			result := tx.Model(&models.CountJournal{}).
				Where("business_id = ? AND id = ? AND status = ?", businessId, journal.ID, models.JournalStatusAssigned).
				Updates(map[string]interface{}{"status": models.JournalStatusInProgress})
			if result.Error != nil {
				return result.Error
			}
		}

		return tx.Model(&models.JournalLine{}).
			Where("business_id = ? AND id = ?", businessId, lineId).
			Updates(map[string]interface{}{
				"status":      models.LineStatusSkipped,
				"counted_qty": nil,
				"counted_by":  userId,
				"counted_at":  now,
				"pass_number": journal.PassNumber,
				"skip_reason": input.Reason,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	line.Status = models.LineStatusSkipped
	line.CountedQty = nil
	line.SkipReason = input.Reason
	return line, nil
}

// SubmitJournal closes the counting pass: every line must be counted or
// skipped. Variance classification runs synchronously inside the same
// transaction, fully replacing the prior pass records, and the journal
// lands in Submitted carrying its worst severity and required approval
// tier. Safe to retry via the idempotency key.
func SubmitJournal(ctx context.Context, journalId int, idempotencyKey string) (*models.CountJournal, error) {
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

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		journal, err := models.FetchJournalForUpdate(ctx, tx, businessId, journalId)
		if err != nil {
			return err
		}

		// Keys are scoped per journal so one client key reused across
		// journals cannot swallow the second submit.
		if idempotencyKey == "" {
			idempotencyKey = fmt.Sprintf("%d:%d", journalId, journal.PassNumber)
		} else {
			idempotencyKey = fmt.Sprintf("%d:%s", journalId, idempotencyKey)
		}
		skip, err := BeginIdempotency(tx, businessId, "submit_journal", idempotencyKey)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		if journal.Status != models.JournalStatusAssigned && journal.Status != models.JournalStatusInProgress {
			return models.ErrInvalidTransition
		}
		if err := journal.OwnedBy(userId, now); err != nil {
			return err
		}

		unresolved, err := models.CountUnresolvedLines(ctx, tx, businessId, journalId)
		if err != nil {
			return err
		}
		if unresolved > 0 {
			return models.ErrIncompleteLines
		}

		worst, err := classifyAndStoreVariances(ctx, tx, businessId, journal)
		if err != nil {
			return err
		}

		requiredTier := models.RequiredTier(worst)
		status := models.JournalStatusSubmitted
		updates := map[string]interface{}{
			"status":         status,
			"submitted_at":   now,
			"submitted_by":   userId,
			"worst_severity": worst,
			"required_tier":  requiredTier,
		}
		// Optional shortcut for clean journals; off by default so a lead
		// still reviews zero-variance counts.
		if worst == models.VarianceSeverityNone && config.AutoApproveCleanJournals() {
			status = models.JournalStatusApproved
			updates["status"] = status
			updates["approved_at"] = now
		}
		err = tx.Model(&models.CountJournal{}).
			Where("business_id = ? AND id = ?", businessId, journalId).
			Updates(updates).Error
		if err != nil {
			return err
		}

		if err := models.PublishEvent(ctx, tx, businessId, journalId, models.EventJournalSubmitted, map[string]interface{}{
			"submitted_by":   userId,
			"pass_number":    journal.PassNumber,
			"worst_severity": worst,
			"required_tier":  requiredTier,
		}); err != nil {
			return err
		}
		if status == models.JournalStatusApproved {
			if err := models.PublishEvent(ctx, tx, businessId, journalId, models.EventJournalApproved, map[string]interface{}{
				"auto": true,
			}); err != nil {
				return err
			}
		}
		return MarkIdempotencySucceeded(tx, businessId, "submit_journal", idempotencyKey)
	})
	if err != nil {
		return nil, err
	}
	return models.GetCountJournal(ctx, journalId)
}

// classifyAndStoreVariances loads the journal's lines for the current pass,
// classifies them against the business thresholds and replaces the pass's
// variance records wholesale.
func classifyAndStoreVariances(ctx context.Context, tx *gorm.DB, businessId string, journal *models.CountJournal) (models.VarianceSeverity, error) {
	var lines []models.JournalLine
	err := tx.WithContext(ctx).
		Preload("Item").
		Where("business_id = ? AND journal_id = ?", businessId, journal.ID).
		Find(&lines).Error
	if err != nil {
		return models.VarianceSeverityNone, err
	}

	thresholds, err := models.GetVarianceThresholds(ctx, businessId)
	if err != nil {
		return models.VarianceSeverityNone, err
	}

	inputs := make([]VarianceInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, VarianceInput{
			LineId:      line.ID,
			ItemId:      line.ItemId,
			ExpectedQty: line.ExpectedQty,
			CountedQty:  utils.DereferencePtr(line.CountedQty),
			UnitCost:    line.Item.CostPrice,
			Skipped:     line.Status == models.LineStatusSkipped,
		})
	}

	results, worst := ClassifyJournal(inputs, thresholds)

	// Recomputation fully replaces the pass's prior records.
	err = tx.Where("business_id = ? AND journal_id = ? AND pass_number = ?", businessId, journal.ID, journal.PassNumber).
		Delete(&models.VarianceRecord{}).Error
	if err != nil {
		return models.VarianceSeverityNone, err
	}

	records := make([]models.VarianceRecord, 0, len(results))
	for _, result := range results {
		records = append(records, models.VarianceRecord{
			BusinessId:  businessId,
			JournalId:   journal.ID,
			LineId:      result.LineId,
			ItemId:      result.ItemId,
			PassNumber:  journal.PassNumber,
			ExpectedQty: result.ExpectedQty,
			CountedQty:  result.CountedQty,
			DeltaQty:    result.DeltaQty,
			DeltaPct:    result.DeltaPct,
			DeltaValue:  result.DeltaValue,
			Severity:    result.Severity,
		})
	}
	if len(records) > 0 {
		if err := tx.Create(&records).Error; err != nil {
			return models.VarianceSeverityNone, err
		}
	}
	return worst, nil
}
