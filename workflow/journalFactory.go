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

// ReleaseCountPlan flips a draft plan to Released and cuts its journals:
// one journal per distinct location in scope, one line per item with the
// expected quantity snapshotted from the stock summary at this instant.
// Locations in scope with no stock still get a journal with zero-expected
// lines omitted; an empty location yields no journal.
func ReleaseCountPlan(ctx context.Context, planId int) (*models.CountPlan, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	plan, err := utils.FetchModel[models.CountPlan](ctx, businessId, planId)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanStatusDraft {
		return nil, models.ErrInvalidTransition
	}

	stockRows, err := resolvePlanScope(ctx, businessId, plan)
	if err != nil {
		return nil, err
	}
	if len(stockRows) == 0 {
		return nil, errors.New("plan scope matches no stock")
	}

	byLocation := groupByLocation(stockRows)

	db := config.GetDB()
	now := time.Now().UTC()

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CountPlan{}).
			Where("business_id = ? AND id = ? AND status = ?", businessId, planId, models.PlanStatusDraft).
			Updates(map[string]interface{}{
				"status":      models.PlanStatusReleased,
				"released_at": now,
				"released_by": userId,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrInvalidTransition
		}

		for _, locationRows := range byLocation {
			seq, err := utils.GetSequence[models.CountJournal](ctx, businessId)
			if err != nil {
				return err
			}
			journal := models.CountJournal{
				BusinessId:    businessId,
				PlanId:        planId,
				JournalNumber: fmt.Sprintf("CJ-%06d", seq),
				SequenceNo:    seq,
				WarehouseId:   plan.WarehouseId,
				LocationId:    locationRows[0].LocationId,
				Status:        models.JournalStatusPending,
				PassNumber:    1,
				IsBlind:       utils.NewTrue(),
			}
			if err := tx.Create(&journal).Error; err != nil {
				return err
			}

			lines := make([]models.JournalLine, 0, len(locationRows))
			for _, row := range locationRows {
				lines = append(lines, models.JournalLine{
					BusinessId:  businessId,
					JournalId:   journal.ID,
					ItemId:      row.ItemId,
					LocationId:  row.LocationId,
					ExpectedQty: row.Qty,
					Status:      models.LineStatusUncounted,
					PassNumber:  1,
				})
			}
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}

			if err := models.PublishEvent(ctx, tx, businessId, journal.ID, models.EventJournalCreated, map[string]interface{}{
				"plan_id":     planId,
				"location_id": journal.LocationId,
				"line_count":  len(lines),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return models.GetCountPlan(ctx, planId)
}

func resolvePlanScope(ctx context.Context, businessId string, plan *models.CountPlan) ([]*models.StockSummary, error) {
	selector, err := plan.DecodeSelector()
	if err != nil {
		return nil, err
	}
	switch plan.SelectionMode {
	case models.PlanSelectionModeLocation:
		return models.ListStockByLocations(ctx, businessId, selector.LocationIds)
	case models.PlanSelectionModeItem:
		return models.ListStockByItems(ctx, businessId, plan.WarehouseId, selector.ItemIds)
	case models.PlanSelectionModeABC:
		return models.ListStockByABCClass(ctx, businessId, plan.WarehouseId, selector.AbcClasses)
	}
	return nil, errors.New("invalid selection mode")
}

func groupByLocation(rows []*models.StockSummary) [][]*models.StockSummary {
	index := make(map[int]int)
	var groups [][]*models.StockSummary
	for _, row := range rows {
		i, ok := index[row.LocationId]
		if !ok {
			i = len(groups)
			index[row.LocationId] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}
	return groups
}
