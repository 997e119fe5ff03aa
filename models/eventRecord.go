package models

import (
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
)

// Outbox publish statuses for EventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// EventRecord is the transactional outbox row for journal lifecycle events.
// Rows are written inside the same DB transaction as the state change and
// published to Pub/Sub later by the outbox dispatcher.
type EventRecord struct {
	ID            int       `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId    string    `gorm:"size:64;not null;index" json:"business_id"`
	JournalId     int       `gorm:"index;not null" json:"journal_id"`
	EventType     string    `gorm:"size:50;not null;index" json:"event_type"`
	OccurredAt    time.Time `gorm:"index;not null" json:"occurred_at"`
	Payload       []byte    `gorm:"type:blob" json:"payload"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToEventMessage(record EventRecord) config.EventMessage {
	return config.EventMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		OccurredAt:    record.OccurredAt,
		JournalId:     record.JournalId,
		EventType:     record.EventType,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
