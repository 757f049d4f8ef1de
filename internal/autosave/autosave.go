// Package autosave writes periodic bus snapshots on a cron schedule.
package autosave

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus descriptors such as
// "@hourly" or "@every 30s".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Saver is implemented by *bus.Bus.
type Saver interface {
	SaveState(path string) error
}

// Status reports the outcome of the most recent save.
type Status struct {
	Saves    int
	Failures int
	LastSave time.Time
	LastErr  error
	Next     time.Time
}

// Scheduler runs SaveState on a schedule.
type Scheduler struct {
	saver  Saver
	path   string
	logger *log.Logger
	cron   *cron.Cron
	entry  cron.EntryID

	mu     sync.Mutex
	status Status
}

// New parses schedule and prepares a scheduler that saves to path.
func New(saver Saver, path, schedule string, logger *log.Logger) (*Scheduler, error) {
	if saver == nil {
		return nil, fmt.Errorf("autosave: saver is required")
	}
	if path == "" {
		return nil, fmt.Errorf("autosave: path is required")
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("autosave: schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Scheduler{
		saver:  saver,
		path:   path,
		logger: logger,
		cron:   cron.New(cron.WithParser(cronParser)),
	}
	s.entry = s.cron.Schedule(sched, cron.FuncJob(func() {
		if err := s.SaveNow(); err != nil {
			s.logger.Printf("autosave: %v", err)
		}
	}))
	return s, nil
}

// Start runs the schedule until ctx is cancelled. The returned channel is
// closed once the scheduler has stopped and any running save has finished.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	s.cron.Start()
	s.logger.Printf("autosave: saving %s, next at %s", s.path, s.Next().Format(time.RFC3339))
	go func() {
		defer close(done)
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return done
}

// SaveNow writes a snapshot immediately and records the outcome.
func (s *Scheduler) SaveNow() error {
	err := s.saver.SaveState(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status.Failures++
		s.status.LastErr = err
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	s.status.Saves++
	s.status.LastSave = time.Now()
	s.status.LastErr = nil
	return nil
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Status returns the save counters and the next scheduled run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.Next = s.Next()
	return st
}
