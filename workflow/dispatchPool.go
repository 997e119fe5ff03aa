package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

// Dispatch pool: journals in Pending (or Rejected, for a recount pass) are
// up for grabs. Claim must pick exactly one winner when two counters race,
// so the state flip is a single compare-and-set UPDATE; the Redis lock in
// front of it only shrinks the race window, the database decides.

type ClaimResult struct {
	Journal *models.CountJournal `json:"journal"`
	LeaseAt time.Time            `json:"lease_expires_at"`
}

func loadCounterProfile(ctx context.Context, businessId string, userId int) (CounterProfile, error) {
	user, err := utils.FetchModel[models.User](ctx, businessId, userId, "Role")
	if err != nil {
		return CounterProfile{}, err
	}
	return ProfileFromUser(user), nil
}

// ClaimJournal atomically assigns a pool journal to the calling counter and
// starts the lease clock. Exactly one of two concurrent claimants wins; the
// loser gets ErrAlreadyClaimed.
func ClaimJournal(ctx context.Context, journalId int) (*ClaimResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	db := config.GetDB()

	journal, err := utils.FetchModel[models.CountJournal](ctx, businessId, journalId, "Location")
	if err != nil {
		return nil, err
	}

	plan, err := utils.FetchModel[models.CountPlan](ctx, businessId, journal.PlanId)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanStatusReleased {
		return nil, models.ErrNotEligible
	}

	profile, err := loadCounterProfile(ctx, businessId, userId)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !EligibleToCount(profile, journal.Location.Zone, now) {
		return nil, models.ErrNotEligible
	}

	// Best-effort serialization; losing the Redis lock is not fatal because
	// the UPDATE below is the authority.
	if locker := config.GetRedisLock(); locker != nil {
		lockKey := fmt.Sprintf("claim:%s:%d", businessId, journalId)
		lock, lockErr := locker.Obtain(ctx, lockKey, 3*time.Second, nil)
		if lockErr == nil {
			defer lock.Release(ctx)
		} else if !errors.Is(lockErr, redislock.ErrNotObtained) {
			config.LogError(config.GetLogger(), "workflow", "ClaimJournal", "redislock", lockKey, lockErr)
		}
	}

	leaseExpiresAt := now.Add(config.ClaimLeaseDuration())

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Claimable states plus Assigned-with-expired-lease, which the CAS
		// requeues and reassigns in one shot.
		result := tx.Model(&models.CountJournal{}).
			Where("business_id = ? AND id = ?", businessId, journalId).
			Where("(status IN ? OR (status IN ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?))",
				[]models.JournalStatus{models.JournalStatusPending, models.JournalStatusRejected},
				[]models.JournalStatus{models.JournalStatusAssigned, models.JournalStatusInProgress}, now).
			Updates(map[string]interface{}{
				"status":           models.JournalStatusAssigned,
				"claimed_by":       userId,
				"claimed_at":       now,
				"lease_expires_at": leaseExpiresAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrAlreadyClaimed
		}
		return models.PublishEvent(ctx, tx, businessId, journalId, models.EventJournalClaimed, map[string]interface{}{
			"claimed_by":       userId,
			"lease_expires_at": leaseExpiresAt,
		})
	})
	if err != nil {
		return nil, err
	}

	journal.Status = models.JournalStatusAssigned
	journal.ClaimedBy = userId
	journal.ClaimedAt = &now
	journal.LeaseExpiresAt = &leaseExpiresAt
	return &ClaimResult{Journal: journal, LeaseAt: leaseExpiresAt}, nil
}

// ReleaseJournal hands a claimed journal back to the pool. Counts recorded
// so far are kept; the next claimant continues the same pass.
func ReleaseJournal(ctx context.Context, journalId int) (*models.CountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CountJournal{}).
			Where("business_id = ? AND id = ? AND claimed_by = ? AND status IN ?",
				businessId, journalId, userId,
				[]models.JournalStatus{models.JournalStatusAssigned, models.JournalStatusInProgress}).
			Updates(map[string]interface{}{
				"status":           models.JournalStatusPending,
				"claimed_by":       0,
				"claimed_at":       nil,
				"lease_expires_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrNotOwner
		}
		return models.PublishEvent(ctx, tx, businessId, journalId, models.EventJournalReleased, map[string]interface{}{
			"released_by": userId,
		})
	})
	if err != nil {
		return nil, err
	}
	return models.GetCountJournal(ctx, journalId)
}

// RenewLease extends the caller's lease on a claimed journal.
func RenewLease(ctx context.Context, journalId int) (*time.Time, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	now := time.Now().UTC()
	leaseExpiresAt := now.Add(config.ClaimLeaseDuration())

	db := config.GetDB()
	result := db.WithContext(ctx).Model(&models.CountJournal{}).
		Where("business_id = ? AND id = ? AND claimed_by = ? AND status IN ? AND (lease_expires_at IS NULL OR lease_expires_at > ?)",
			businessId, journalId, userId,
			[]models.JournalStatus{models.JournalStatusAssigned, models.JournalStatusInProgress}, now).
		Updates(map[string]interface{}{"lease_expires_at": leaseExpiresAt})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrNotOwner
	}
	return &leaseExpiresAt, nil
}

// ReassignJournal forcibly moves a pool or claimed journal to another
// counter. Lead or above only; the target must pass the same eligibility
// predicate a self-claim would. The current claimant, if any, loses the
// journal even with a live lease.
func ReassignJournal(ctx context.Context, journalId int, toUserId int) (*models.CountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	actorId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	actorTier, ok := utils.GetRoleTierFromContext(ctx)
	if !ok || models.ApprovalTier(actorTier) < models.TierLead {
		return nil, models.ErrInsufficientAuthority
	}

	journal, err := utils.FetchModel[models.CountJournal](ctx, businessId, journalId, "Location")
	if err != nil {
		return nil, err
	}

	profile, err := loadCounterProfile(ctx, businessId, toUserId)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !EligibleToCount(profile, journal.Location.Zone, now) {
		return nil, models.ErrNotEligible
	}

	leaseExpiresAt := now.Add(config.ClaimLeaseDuration())

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CountJournal{}).
			Where("business_id = ? AND id = ? AND status IN ?", businessId, journalId,
				[]models.JournalStatus{models.JournalStatusPending, models.JournalStatusRejected,
					models.JournalStatusAssigned, models.JournalStatusInProgress}).
			Updates(map[string]interface{}{
				"status":           models.JournalStatusAssigned,
				"claimed_by":       toUserId,
				"claimed_at":       now,
				"lease_expires_at": leaseExpiresAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrInvalidTransition
		}
		return models.PublishEvent(ctx, tx, businessId, journalId, models.EventJournalReassigned, map[string]interface{}{
			"reassigned_by":    actorId,
			"claimed_by":       toUserId,
			"lease_expires_at": leaseExpiresAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return models.GetCountJournal(ctx, journalId)
}

// EligibleFilters narrows ListEligibleJournals.
type EligibleFilters struct {
	PlanId      int    `form:"plan_id"`
	WarehouseId int    `form:"warehouse_id"`
	Zone        string `form:"zone"`
}

// ListEligibleJournals returns pool journals the calling counter may claim,
// applying the same predicate that claim enforces.
func ListEligibleJournals(ctx context.Context, filters EligibleFilters) ([]*models.CountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	profile, err := loadCounterProfile(ctx, businessId, userId)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	db := config.GetDB()
	releasedPlans := db.Model(&models.CountPlan{}).Select("id").
		Where("business_id = ? AND status = ?", businessId, models.PlanStatusReleased)
	dbCtx := db.WithContext(ctx).
		Preload("Location").
		Where("business_id = ?", businessId).
		Where("plan_id IN (?)", releasedPlans).
		Where("(status IN ? OR (status IN ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?))",
			[]models.JournalStatus{models.JournalStatusPending, models.JournalStatusRejected},
			[]models.JournalStatus{models.JournalStatusAssigned, models.JournalStatusInProgress}, now)
	if filters.PlanId > 0 {
		dbCtx = dbCtx.Where("plan_id = ?", filters.PlanId)
	}
	if filters.WarehouseId > 0 {
		dbCtx = dbCtx.Where("warehouse_id = ?", filters.WarehouseId)
	}

	var journals []*models.CountJournal
	if err := dbCtx.Order("sequence_no").Find(&journals).Error; err != nil {
		return nil, err
	}

	eligible := make([]*models.CountJournal, 0, len(journals))
	for _, journal := range journals {
		if filters.Zone != "" && journal.Location.Zone != filters.Zone {
			continue
		}
		if EligibleToCount(profile, journal.Location.Zone, now) {
			eligible = append(eligible, journal)
		}
	}
	return eligible, nil
}
