package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"gorm.io/gorm"
)

// Approval model: the decision log is append-only, the journal transition
// is derived by folding it. A reviewer below the journal's required tier
// can still clear individual lines within their authority; the top-level
// Approve then only needs to cover whatever lines remain uncleared.

type NewDecision struct {
	Action  models.ApprovalAction `json:"action" binding:"required"`
	Reason  string                `json:"reason"`
	LineIds []int                 `json:"line_ids"`
}

// LineTiers maps a line id to the approval tier its variance severity
// demands. Lines with severity None need only the base lead sign-off.
func LineTiers(records []*models.VarianceRecord) map[int]models.ApprovalTier {
	tiers := make(map[int]models.ApprovalTier, len(records))
	for _, record := range records {
		tiers[record.LineId] = models.RequiredTier(record.Severity)
	}
	return tiers
}

// decisionCoverage is the slice of a logged decision the fold looks at.
type decisionCoverage struct {
	Tier    models.ApprovalTier
	LineIds []int
}

// FoldRequiredTier folds per-line Approve decisions of the current pass
// over the line tiers and returns the minimum tier a top-level Approve
// still needs: the maximum tier across lines not yet cleared by a decision
// of sufficient authority. Fully covered journals fall back to the lead
// tier, which every reviewer holds by definition of being a reviewer.
func FoldRequiredTier(lineTiers map[int]models.ApprovalTier, cleared []decisionCoverage) models.ApprovalTier {
	covered := make(map[int]bool, len(lineTiers))
	for _, decision := range cleared {
		for _, lineId := range decision.LineIds {
			tier, ok := lineTiers[lineId]
			if ok && decision.Tier >= tier {
				covered[lineId] = true
			}
		}
	}

	required := models.TierLead
	for lineId, tier := range lineTiers {
		if covered[lineId] {
			continue
		}
		if tier > required {
			required = tier
		}
	}
	return required
}

// DecideJournal appends one decision to the journal's log and applies the
// resulting transition, all under the journal's advisory lock so two
// reviewers folding concurrently cannot both win.
func DecideJournal(ctx context.Context, journalId int, input NewDecision) (*models.CountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	if _, err := models.ParseApprovalAction(string(input.Action)); err != nil {
		return nil, err
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
		if journal.Status != models.JournalStatusSubmitted && journal.Status != models.JournalStatusUnderReview {
			return models.ErrInvalidTransition
		}

		deciderTier, err := resolveDeciderTier(ctx, businessId, userId)
		if err != nil {
			return err
		}
		if deciderTier < models.TierLead {
			return models.ErrInsufficientAuthority
		}
		// Separation of duties: the counter who submitted the pass never
		// reviews it.
		if userId == journal.SubmittedBy {
			return models.ErrInsufficientAuthority
		}

		lineTiers, cleared, err := loadFoldState(ctx, tx, businessId, journal)
		if err != nil {
			return err
		}

		switch input.Action {
		case models.ApprovalActionApprove:
			err = applyApprove(ctx, tx, businessId, journal, userId, deciderTier, input, lineTiers, cleared, now)
		case models.ApprovalActionReject:
			err = applyReject(ctx, tx, businessId, journal, userId, deciderTier, input, lineTiers, now)
		case models.ApprovalActionEscalate:
			err = applyEscalate(ctx, tx, businessId, journal, userId, deciderTier, input, now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return models.GetCountJournal(ctx, journalId)
}

func resolveDeciderTier(ctx context.Context, businessId string, userId int) (models.ApprovalTier, error) {
	if tier, ok := utils.GetRoleTierFromContext(ctx); ok {
		return models.ApprovalTier(tier), nil
	}
	user, err := utils.FetchModel[models.User](ctx, businessId, userId)
	if err != nil {
		return models.TierOperator, err
	}
	return models.GetRoleTier(ctx, businessId, user.RoleId)
}

func loadFoldState(ctx context.Context, tx *gorm.DB, businessId string, journal *models.CountJournal) (map[int]models.ApprovalTier, []decisionCoverage, error) {
	var records []*models.VarianceRecord
	err := tx.WithContext(ctx).
		Where("business_id = ? AND journal_id = ? AND pass_number = ?", businessId, journal.ID, journal.PassNumber).
		Find(&records).Error
	if err != nil {
		return nil, nil, err
	}

	var decisions []models.ApprovalDecision
	err = tx.WithContext(ctx).
		Where("business_id = ? AND journal_id = ? AND pass_number = ? AND action = ?",
			businessId, journal.ID, journal.PassNumber, models.ApprovalActionApprove).
		Order("id").
		Find(&decisions).Error
	if err != nil {
		return nil, nil, err
	}

	cleared := make([]decisionCoverage, 0, len(decisions))
	for _, decision := range decisions {
		if len(decision.LineIds) == 0 {
			continue
		}
		var lineIds []int
		if err := json.Unmarshal(decision.LineIds, &lineIds); err != nil {
			return nil, nil, err
		}
		cleared = append(cleared, decisionCoverage{Tier: decision.DeciderTier, LineIds: lineIds})
	}
	return LineTiers(records), cleared, nil
}

func appendDecision(ctx context.Context, tx *gorm.DB, businessId string, journal *models.CountJournal, userId int, tier models.ApprovalTier, input NewDecision, now time.Time) error {
	decision := models.ApprovalDecision{
		BusinessId:  businessId,
		JournalId:   journal.ID,
		PassNumber:  journal.PassNumber,
		Action:      input.Action,
		DecidedBy:   userId,
		DeciderTier: tier,
		Reason:      input.Reason,
		DecidedAt:   now,
	}
	if len(input.LineIds) > 0 {
		lineIdsBytes, err := json.Marshal(input.LineIds)
		if err != nil {
			return err
		}
		decision.LineIds = lineIdsBytes
	}
	return tx.Create(&decision).Error
}

func applyApprove(ctx context.Context, tx *gorm.DB, businessId string, journal *models.CountJournal, userId int, tier models.ApprovalTier, input NewDecision, lineTiers map[int]models.ApprovalTier, cleared []decisionCoverage, now time.Time) error {
	if len(input.LineIds) > 0 {
		// Per-line clearance: every named line must be within the
		// reviewer's authority.
		for _, lineId := range input.LineIds {
			lineTier, ok := lineTiers[lineId]
			if !ok {
				return errors.New("line not part of this journal's pass")
			}
			if tier < lineTier {
				return models.ErrInsufficientAuthority
			}
		}
		if err := appendDecision(ctx, tx, businessId, journal, userId, tier, input, now); err != nil {
			return err
		}
		// Per-line decisions park the journal in UnderReview until a
		// top-level Approve folds the log.
		if journal.Status == models.JournalStatusSubmitted {
			return tx.Model(&models.CountJournal{}).
				Where("business_id = ? AND id = ?", businessId, journal.ID).
				Updates(map[string]interface{}{"status": models.JournalStatusUnderReview}).Error
		}
		return nil
	}

	required := FoldRequiredTier(lineTiers, cleared)
	if tier < required {
		return models.ErrInsufficientAuthority
	}

	if err := appendDecision(ctx, tx, businessId, journal, userId, tier, input, now); err != nil {
		return err
	}
	err := tx.Model(&models.CountJournal{}).
		Where("business_id = ? AND id = ?", businessId, journal.ID).
		Updates(map[string]interface{}{
			"status":      models.JournalStatusApproved,
			"approved_at": now,
			"approved_by": userId,
		}).Error
	if err != nil {
		return err
	}
	return models.PublishEvent(ctx, tx, businessId, journal.ID, models.EventJournalApproved, map[string]interface{}{
		"approved_by": userId,
		"tier":        tier,
		"pass_number": journal.PassNumber,
	})
}

func applyReject(ctx context.Context, tx *gorm.DB, businessId string, journal *models.CountJournal, userId int, tier models.ApprovalTier, input NewDecision, lineTiers map[int]models.ApprovalTier, now time.Time) error {
	targets := input.LineIds
	if len(targets) == 0 {
		// Whole-journal reject needs top-level authority.
		if tier < journal.RequiredTier {
			return models.ErrInsufficientAuthority
		}
		for lineId := range lineTiers {
			targets = append(targets, lineId)
		}
	} else {
		for _, lineId := range targets {
			lineTier, ok := lineTiers[lineId]
			if !ok {
				return errors.New("line not part of this journal's pass")
			}
			if tier < lineTier {
				return models.ErrInsufficientAuthority
			}
		}
	}

	if err := appendDecision(ctx, tx, businessId, journal, userId, tier, input, now); err != nil {
		return err
	}

	// Only the rejected lines reset; counts on the rest carry into the new
	// pass untouched.
	nextPass := journal.PassNumber + 1
	err := tx.Model(&models.JournalLine{}).
		Where("business_id = ? AND journal_id = ? AND id IN ?", businessId, journal.ID, targets).
		Updates(map[string]interface{}{
			"status":      models.LineStatusRecountRequested,
			"pass_number": nextPass,
		}).Error
	if err != nil {
		return err
	}

	err = tx.Model(&models.CountJournal{}).
		Where("business_id = ? AND id = ?", businessId, journal.ID).
		Updates(map[string]interface{}{
			"status":           models.JournalStatusRejected,
			"pass_number":      nextPass,
			"claimed_by":       0,
			"claimed_at":       nil,
			"lease_expires_at": nil,
			"submitted_at":     nil,
			"submitted_by":     0,
		}).Error
	if err != nil {
		return err
	}
	return models.PublishEvent(ctx, tx, businessId, journal.ID, models.EventJournalRejected, map[string]interface{}{
		"rejected_by": userId,
		"line_ids":    targets,
		"next_pass":   nextPass,
	})
}

// applyEscalate is pure routing: a log entry plus an event for whoever
// watches the queue. The journal status never moves.
func applyEscalate(ctx context.Context, tx *gorm.DB, businessId string, journal *models.CountJournal, userId int, tier models.ApprovalTier, input NewDecision, now time.Time) error {
	if err := appendDecision(ctx, tx, businessId, journal, userId, tier, input, now); err != nil {
		return err
	}
	return models.PublishEvent(ctx, tx, businessId, journal.ID, models.EventJournalEscalated, map[string]interface{}{
		"escalated_by": userId,
		"tier":         tier,
		"reason":       input.Reason,
	})
}
