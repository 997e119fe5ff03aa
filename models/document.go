package models

import (
	"context"

	"gorm.io/gorm"
)

// Document is an evidence attachment (photo of a shelf, damage evidence)
// linked polymorphically to a journal or a line. Only the object reference
// is stored; bytes live in GCS.
type Document struct {
	ID            int    `gorm:"primary_key" json:"id"`
	BusinessId    string `gorm:"size:64;index" json:"business_id"`
	DocumentUrl   string `json:"document_url"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   int    `json:"reference_id"`
}

type NewDocument struct {
	DocumentUrl string `json:"document_url" binding:"required"`
}

func (input NewDocument) MapInput(referenceType string, referenceId int) *Document {
	return &Document{
		DocumentUrl:   input.DocumentUrl,
		ReferenceType: referenceType,
		ReferenceID:   referenceId,
	}
}

func (d *Document) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(&d).Error
}

func (d *Document) Delete(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Delete(&d).Error
}
