package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// JournalLine is one item to count within a journal. ExpectedQty is a
// snapshot taken at plan release and never refreshed, so the variance always
// compares against what the system believed when the journal was cut.
type JournalLine struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"size:64;index;not null" json:"business_id"`
	JournalId   int             `gorm:"index;not null" json:"journal_id"`
	Journal     CountJournal    `gorm:"foreignKey:JournalId" json:"journal"`
	ItemId      int             `gorm:"index;not null" json:"item_id"`
	Item        Item            `gorm:"foreignKey:ItemId" json:"item"`
	LocationId  int             `gorm:"index;not null" json:"location_id"`
	ExpectedQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"expected_qty"`

	Status     LineStatus       `gorm:"type:enum('Uncounted','Counted','Skipped','RecountRequested');not null;default:Uncounted;index" json:"status"`
	CountedQty *decimal.Decimal `gorm:"type:decimal(20,4)" json:"counted_qty"`
	CountedBy  int              `gorm:"default:0" json:"counted_by"`
	CountedAt  *time.Time       `json:"counted_at"`
	PassNumber int              `gorm:"not null;default:1" json:"pass_number"`
	SkipReason string           `gorm:"size:255" json:"skip_reason"`
	Note       string           `gorm:"size:500" json:"note"`
	Serials    []byte           `gorm:"type:blob" json:"serials"`

	Records []CountRecord `gorm:"foreignKey:LineId" json:"records"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (obj JournalLine) GetId() int {
	return obj.ID
}

// CountRecord is the append-only history of every count entered against a
// line, across passes. The line itself carries only the latest value.
type CountRecord struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"size:64;index;not null" json:"business_id"`
	LineId     int             `gorm:"index;not null" json:"line_id"`
	JournalId  int             `gorm:"index;not null" json:"journal_id"`
	PassNumber int             `gorm:"not null;default:1" json:"pass_number"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	CountedBy  int             `gorm:"not null" json:"counted_by"`
	CountedAt  time.Time       `gorm:"not null" json:"counted_at"`
	DeviceId   string          `gorm:"size:100" json:"device_id"`
	Serials    []byte          `gorm:"type:blob" json:"serials"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// DecodeSerials returns the serial numbers captured with the latest count.
func (line *JournalLine) DecodeSerials() ([]string, error) {
	if len(line.Serials) == 0 {
		return nil, nil
	}
	var serials []string
	if err := json.Unmarshal(line.Serials, &serials); err != nil {
		return nil, err
	}
	return serials, nil
}

// FetchLineWithJournal loads a line together with its parent journal inside
// the caller's transaction.
func FetchLineWithJournal(ctx context.Context, tx *gorm.DB, businessId string, lineId int) (*JournalLine, error) {
	var line JournalLine
	err := tx.WithContext(ctx).
		Preload("Journal").
		Where("business_id = ? AND id = ?", businessId, lineId).
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("journal line not found")
		}
		return nil, err
	}
	return &line, nil
}

// CountUnresolvedLines returns how many lines still block submission for the
// journal's current pass.
func CountUnresolvedLines(ctx context.Context, tx *gorm.DB, businessId string, journalId int) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&JournalLine{}).
		Where("business_id = ? AND journal_id = ? AND status IN ?", businessId, journalId,
			[]LineStatus{LineStatusUncounted, LineStatusRecountRequested}).
		Count(&count).Error
	return count, err
}
