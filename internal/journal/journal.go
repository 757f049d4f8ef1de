// Package journal stores bus events in a SQL table so recent activity can
// be listed after the fact. It is an audit trail only; bus state is restored
// from JSON snapshots, never from the journal.
package journal

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/agentbus/internal/models"
	"gorm.io/gorm"
)

const (
	DefaultRecentLimit = 50
	batchSize          = 100
)

// Journal appends events through GORM. It satisfies bus.EventSink.
type Journal struct {
	db     *gorm.DB
	logger *log.Logger
}

// New returns a Journal writing to db. The events table must already exist
// (see db.AutoMigrate).
func New(db *gorm.DB, logger *log.Logger) *Journal {
	if logger == nil {
		logger = log.Default()
	}
	return &Journal{db: db, logger: logger}
}

// Record inserts events. Failures are logged and dropped so a journal outage
// never blocks message delivery.
func (j *Journal) Record(events []models.Event) {
	if err := j.Append(events); err != nil {
		j.logger.Printf("journal: %v", err)
	}
}

// Append inserts events and reports any failure.
func (j *Journal) Append(events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]models.Event, len(events))
	copy(rows, events)
	for i := range rows {
		rows[i].ID = 0
	}
	if err := j.db.CreateInBatches(&rows, batchSize).Error; err != nil {
		return fmt.Errorf("append %d event(s): %w", len(rows), err)
	}
	return nil
}

// Filter narrows Query. Empty fields match everything.
type Filter struct {
	Agent   string
	Kind    string
	TaskID  string
	Since   time.Time
	AfterID uint
	Limit   int // <= 0 means DefaultRecentLimit
}

// Recent returns the latest events, newest first.
func (j *Journal) Recent(limit int) ([]models.Event, error) {
	return j.Query(Filter{Limit: limit})
}

// Query returns matching events, newest first. Agent matches either side of
// an event.
func (j *Journal) Query(f Filter) ([]models.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	q := j.db.Model(&models.Event{})
	if f.Agent != "" {
		q = q.Where("agent = ? OR counterpart = ?", f.Agent, f.Agent)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.TaskID != "" {
		q = q.Where("task_id = ?", f.TaskID)
	}
	if f.AfterID > 0 {
		q = q.Where("id > ?", f.AfterID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}

	var events []models.Event
	if err := q.Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events per kind.
func (j *Journal) Count() (map[string]int64, error) {
	type row struct {
		Kind  string
		Count int64
	}
	var rows []row
	if err := j.db.Model(&models.Event{}).
		Select("kind, count(*) as count").
		Group("kind").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: count: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Kind] = r.Count
	}
	return out, nil
}

// Prune deletes events older than before and returns how many were removed.
func (j *Journal) Prune(before time.Time) (int64, error) {
	res := j.db.Where("created_at < ?", before).Delete(&models.Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("journal: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}
