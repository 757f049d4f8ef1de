package journal

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule is used when retention is set without a schedule.
const DefaultPruneSchedule = "@hourly"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Pruner deletes journal events older than a retention window on a cron
// schedule.
type Pruner struct {
	journal *Journal
	keep    time.Duration
	now     func() time.Time
	logger  *log.Logger
	cron    *cron.Cron
}

// NewPruner prepares a pruner that keeps the last keep worth of events.
// An empty schedule means DefaultPruneSchedule.
func NewPruner(j *Journal, keep time.Duration, schedule string, logger *log.Logger) (*Pruner, error) {
	if j == nil {
		return nil, fmt.Errorf("journal: pruner needs a journal")
	}
	if keep <= 0 {
		return nil, fmt.Errorf("journal: retention must be positive, got %s", keep)
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("journal: prune schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = log.Default()
	}

	p := &Pruner{
		journal: j,
		keep:    keep,
		now:     time.Now,
		logger:  logger,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
	p.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := p.PruneNow(); err != nil {
			p.logger.Printf("journal: %v", err)
		}
	}))
	return p, nil
}

// PruneNow deletes events older than the retention window.
func (p *Pruner) PruneNow() (int64, error) {
	cutoff := p.now().Add(-p.keep)
	n, err := p.journal.Prune(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Printf("journal: pruned %d event(s) before %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Start prunes once, then runs the schedule until ctx is cancelled. The
// returned channel is closed after the scheduler has stopped.
func (p *Pruner) Start(ctx context.Context) <-chan struct{} {
	if _, err := p.PruneNow(); err != nil {
		p.logger.Printf("journal: %v", err)
	}
	done := make(chan struct{})
	p.cron.Start()
	go func() {
		defer close(done)
		<-ctx.Done()
		<-p.cron.Stop().Done()
	}()
	return done
}
