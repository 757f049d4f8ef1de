package models

import "time"

// Event kinds emitted by the bus.
const (
	EventRegistered  = "registered"
	EventSent        = "sent"
	EventConflict    = "conflict"
	EventEvicted     = "evicted"
	EventDelegated   = "delegated"
	EventDegraded    = "degraded"
	EventPolled      = "polled"
	EventAcked       = "acked"
	EventTaskCreated = "task_created"
	EventTaskStatus  = "task_status"
	EventStateSaved  = "state_saved"
	EventStateLoaded = "state_loaded"
)

// Event is one row of the activity journal.
type Event struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind        string    `gorm:"size:32;index" json:"kind"`
	Agent       string    `gorm:"size:64;index" json:"agent,omitempty"`
	Counterpart string    `gorm:"size:64" json:"counterpart,omitempty"`
	MessageID   string    `gorm:"size:64" json:"message_id,omitempty"`
	TaskID      string    `gorm:"size:32;index" json:"task_id,omitempty"`
	Priority    string    `gorm:"size:8" json:"priority,omitempty"`
	Detail      string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
