package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CountJournal is one unit of counting work: a single location within a
// released plan. Journals move Pending -> Assigned -> InProgress ->
// Submitted -> UnderReview -> Approved -> Reconciled, with Rejected looping
// back into the pool for a fresh count pass.
type CountJournal struct {
	ID            int           `gorm:"primary_key" json:"id"`
	BusinessId    string        `gorm:"size:64;index;not null" json:"business_id" binding:"required"`
	PlanId        int           `gorm:"index;not null" json:"plan_id"`
	Plan          CountPlan     `gorm:"foreignKey:PlanId" json:"plan"`
	JournalNumber string        `gorm:"size:50;not null;index" json:"journal_number"`
	SequenceNo    int64         `gorm:"index" json:"sequence_no"`
	WarehouseId   int           `gorm:"index;not null" json:"warehouse_id"`
	LocationId    int           `gorm:"index;not null" json:"location_id"`
	Location      Location      `gorm:"foreignKey:LocationId" json:"location"`
	Status        JournalStatus `gorm:"type:enum('Pending','Assigned','InProgress','Submitted','UnderReview','Approved','Rejected','Reconciled');not null;default:Pending;index" json:"status"`

	// Claim lease. ClaimedBy is zero while the journal sits in the pool.
	ClaimedBy      int        `gorm:"index;default:0" json:"claimed_by"`
	ClaimedAt      *time.Time `json:"claimed_at"`
	LeaseExpiresAt *time.Time `gorm:"index" json:"lease_expires_at"`

	// PassNumber starts at 1 and increments on every reject-and-recount.
	PassNumber int `gorm:"not null;default:1" json:"pass_number"`

	// Blind count: expected quantities are hidden from the counter UI until
	// submission.
	IsBlind *bool `gorm:"not null;default:true" json:"is_blind"`

	SubmittedAt *time.Time `json:"submitted_at"`
	SubmittedBy int        `gorm:"default:0" json:"submitted_by"`

	WorstSeverity VarianceSeverity `gorm:"type:enum('None','Minor','Major','Critical');default:None" json:"worst_severity"`
	RequiredTier  ApprovalTier     `gorm:"default:1" json:"required_tier"`

	ApprovedAt   *time.Time `json:"approved_at"`
	ApprovedBy   int        `gorm:"default:0" json:"approved_by"`
	ReconciledAt *time.Time `json:"reconciled_at"`

	Lines     []JournalLine      `gorm:"foreignKey:JournalId" json:"lines"`
	Decisions []ApprovalDecision `gorm:"foreignKey:JournalId" json:"decisions"`
	Documents []*Document        `gorm:"polymorphic:Reference" json:"documents"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (obj CountJournal) GetId() int {
	return obj.ID
}

func (obj CountJournal) GetCursor() string {
	return obj.CreatedAt.String()
}

// LeaseExpired reports whether a claimed journal's lease has lapsed at the
// given instant. Journals without a lease never expire.
func (journal *CountJournal) LeaseExpired(now time.Time) bool {
	return journal.LeaseExpiresAt != nil && now.After(*journal.LeaseExpiresAt)
}

// OwnedBy reports whether the journal is currently claimed by the given user
// with a live lease.
func (journal *CountJournal) OwnedBy(userId int, now time.Time) error {
	if journal.ClaimedBy != userId {
		return ErrNotOwner
	}
	if journal.LeaseExpired(now) {
		return ErrLeaseExpired
	}
	return nil
}

func GetCountJournal(ctx context.Context, id int) (*CountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[CountJournal](ctx, businessId, id, "Location", "Lines", "Lines.Item", "Decisions", "Documents")
}

// FetchJournalForUpdate loads a journal with row lock inside the caller's
// transaction.
func FetchJournalForUpdate(ctx context.Context, tx *gorm.DB, businessId string, id int) (*CountJournal, error) {
	var journal CountJournal
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, id).
		First(&journal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &journal, nil
}

// ListJournalsByStatus lists journals for a business filtered by status,
// optionally narrowed to a plan.
func ListJournalsByStatus(ctx context.Context, status JournalStatus, planId int) ([]*CountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Preload("Location").
		Where("business_id = ? AND status = ?", businessId, status)
	if planId > 0 {
		dbCtx = dbCtx.Where("plan_id = ?", planId)
	}
	var journals []*CountJournal
	err := dbCtx.Order("sequence_no").Find(&journals).Error
	return journals, err
}

// ListJournalsClaimedBy lists the active journals a counter currently holds.
func ListJournalsClaimedBy(ctx context.Context, userId int) ([]*CountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var journals []*CountJournal
	err := db.WithContext(ctx).
		Preload("Location").
		Where("business_id = ? AND claimed_by = ? AND status IN ?", businessId, userId,
			[]JournalStatus{JournalStatusAssigned, JournalStatusInProgress}).
		Order("claimed_at").
		Find(&journals).Error
	return journals, err
}
