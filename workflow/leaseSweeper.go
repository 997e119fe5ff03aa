package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LeaseSweeper requeues journals whose claim lease lapsed without a submit.
// Expiry is already detected lazily on claim and list, so the sweeper is an
// optimization that keeps the pool view fresh, not a correctness
// requirement.
type LeaseSweeper struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	PollInterval time.Duration
	BatchSize    int
}

func NewLeaseSweeper(db *gorm.DB, logger *logrus.Logger) *LeaseSweeper {
	return &LeaseSweeper{
		DB:           db,
		Logger:       logger,
		PollInterval: time.Minute,
		BatchSize:    100,
	}
}

func (s *LeaseSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := s.SweepOnce(ctx)
		if err != nil && s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{"field": "LeaseSweeper"}).Error("sweep failed: " + err.Error())
		}
		if n > 0 && s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{"field": "LeaseSweeper", "requeued": n}).Info("requeued expired claims")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}
}

// SweepOnce returns assigned journals with lapsed leases to the pool and
// emits a lease-expired event per journal.
func (s *LeaseSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	var requeued int

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []models.CountJournal
		err := tx.
			Where("status IN ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?",
				[]models.JournalStatus{models.JournalStatusAssigned, models.JournalStatusInProgress}, now).
			Limit(s.BatchSize).
			Find(&expired).Error
		if err != nil {
			return err
		}

		for _, journal := range expired {
			result := tx.Model(&models.CountJournal{}).
				Where("id = ? AND claimed_by = ? AND lease_expires_at < ?", journal.ID, journal.ClaimedBy, now).
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
				continue
			}
			requeued++
			if err := models.PublishEvent(ctx, tx, journal.BusinessId, journal.ID, models.EventLeaseExpired, map[string]interface{}{
				"evicted_user": journal.ClaimedBy,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return requeued, err
}

// PlanDueSweeper closes released plans whose due window lapsed. Journals
// already submitted keep moving through approval; the plan just stops
// accepting new claims once Completed.
type PlanDueSweeper struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	PollInterval time.Duration
}

func NewPlanDueSweeper(db *gorm.DB, logger *logrus.Logger) *PlanDueSweeper {
	return &PlanDueSweeper{
		DB:           db,
		Logger:       logger,
		PollInterval: 5 * time.Minute,
	}
}

func (s *PlanDueSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := s.SweepOnce(ctx)
		if err != nil && s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{"field": "PlanDueSweeper"}).Error("sweep failed: " + err.Error())
		}
		if n > 0 && s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{"field": "PlanDueSweeper", "closed": n}).Info("closed lapsed plans")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}
}

// SweepOnce completes released plans past their due date.
func (s *PlanDueSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	var closed int

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lapsed []models.CountPlan
		err := tx.
			Where("status = ? AND due_date IS NOT NULL AND due_date < ?", models.PlanStatusReleased, now).
			Find(&lapsed).Error
		if err != nil {
			return err
		}

		for _, plan := range lapsed {
			result := tx.Model(&models.CountPlan{}).
				Where("id = ? AND status = ?", plan.ID, models.PlanStatusReleased).
				Updates(map[string]interface{}{"status": models.PlanStatusCompleted})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			closed++
			if err := models.PublishEvent(ctx, tx, plan.BusinessId, 0, models.EventPlanClosed, map[string]interface{}{
				"plan_id":  plan.ID,
				"due_date": plan.DueDate,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return closed, err
}

// StartBackgroundWorkers launches the outbox dispatcher, the plan due
// sweeper and, when enabled, the lease sweeper. Returns immediately;
// workers stop when ctx is cancelled.
func StartBackgroundWorkers(ctx context.Context) {
	db := config.GetDB()
	logger := config.GetLogger()

	dispatcher := NewOutboxDispatcher(db, logger)
	go dispatcher.Run(ctx)

	planSweeper := NewPlanDueSweeper(db, logger)
	go planSweeper.Run(ctx)

	if config.LeaseSweepEnabled() {
		sweeper := NewLeaseSweeper(db, logger)
		go sweeper.Run(ctx)
	}
}
