package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
	StatusDelegated  TaskStatus = "DELEGATED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusDelegated}

// Valid reports whether s is a defined status.
func (s TaskStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s is COMPLETED or FAILED.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseTaskStatus accepts a status name in any case ("in_progress", "DONE" is rejected).
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("models: unknown task status %q", s)
	}
	return st, nil
}

// UnmarshalJSON rejects names outside the enumeration.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("models: task status must be a string: %w", err)
	}
	st, err := ParseTaskStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
