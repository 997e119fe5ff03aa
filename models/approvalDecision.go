package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
)

// ApprovalDecision is one entry in a journal's append-only decision log.
// Decisions are never updated or deleted; the workflow folds the log to
// derive the journal's review outcome.
type ApprovalDecision struct {
	ID          int            `gorm:"primary_key" json:"id"`
	BusinessId  string         `gorm:"size:64;index;not null" json:"business_id"`
	JournalId   int            `gorm:"index;not null" json:"journal_id"`
	PassNumber  int            `gorm:"not null;default:1" json:"pass_number"`
	Action      ApprovalAction `gorm:"type:enum('Approve','Reject','Escalate');not null" json:"action"`
	DecidedBy   int            `gorm:"not null" json:"decided_by"`
	DeciderTier ApprovalTier   `gorm:"not null" json:"decider_tier"`
	Reason      string         `gorm:"size:500" json:"reason"`

	// Reject may target specific lines; empty means the whole journal.
	LineIds []byte `gorm:"type:blob" json:"line_ids"`

	DecidedAt time.Time `gorm:"not null" json:"decided_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (obj ApprovalDecision) GetId() int {
	return obj.ID
}

// ListDecisions returns the full decision log of a journal in insertion
// order.
func ListDecisions(ctx context.Context, journalId int) ([]*ApprovalDecision, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var decisions []*ApprovalDecision
	err := db.WithContext(ctx).
		Where("business_id = ? AND journal_id = ?", businessId, journalId).
		Order("id").
		Find(&decisions).Error
	return decisions, err
}
