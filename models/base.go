package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PublishEvent writes an outbox row inside the caller's DB transaction but
// does NOT publish to Pub/Sub. Publishing happens asynchronously in the
// outbox dispatcher after commit, so a rolled-back transaction never leaks
// an event.
func PublishEvent(ctx context.Context, tx *gorm.DB, businessId string, journalId int, eventType string, payload interface{}) error {
	var payloadInByte []byte
	var err error
	if payload != nil {
		payloadInByte, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	record := EventRecord{
		BusinessId:    businessId,
		JournalId:     journalId,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		Payload:       payloadInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
