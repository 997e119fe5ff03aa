package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/shopspring/decimal"
)

// ReconciliationTransaction records one stock correction applied by
// reconciling an approved journal. The unique index on
// (business_id, journal_id, line_id) is the idempotency backstop: a retried
// reconcile cannot double-apply a line.
type ReconciliationTransaction struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"size:64;not null;index:uniq_recon,unique" json:"business_id"`
	JournalId    int             `gorm:"not null;index:uniq_recon,unique" json:"journal_id"`
	LineId       int             `gorm:"not null;index:uniq_recon,unique" json:"line_id"`
	ItemId       int             `gorm:"index;not null" json:"item_id"`
	LocationId   int             `gorm:"index;not null" json:"location_id"`
	QtyBefore    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_before"`
	QtyAfter     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_after"`
	DeltaQty     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"delta_qty"`
	DeltaValue   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"delta_value"`
	ReconciledBy int             `gorm:"not null" json:"reconciled_by"`
	ReconciledAt time.Time       `gorm:"not null" json:"reconciled_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// ListReconciliationTransactions returns the corrections applied for a
// journal.
func ListReconciliationTransactions(ctx context.Context, journalId int) ([]*ReconciliationTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var transactions []*ReconciliationTransaction
	err := db.WithContext(ctx).
		Where("business_id = ? AND journal_id = ?", businessId, journalId).
		Order("line_id").
		Find(&transactions).Error
	return transactions, err
}
