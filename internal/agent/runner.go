// Package agent is the in-process agent runtime: a polling loop per agent
// that drains its mailbox through a command router and works through the
// PENDING tasks assigned to it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/models"
)

const (
	DefaultPollInterval = time.Second
	DefaultErrorBackoff = 5 * time.Second
	DefaultPollLimit    = 10
	DefaultRequestTTL   = time.Minute
)

// Bus is the part of *bus.Bus a runner needs.
type Bus interface {
	Register(name string, capabilities []string, metadata map[string]any) error
	Send(req bus.SendRequest) (bus.SendResult, error)
	Poll(agent string, opts bus.PollOptions) ([]models.Message, error)
	QueryTasks(f bus.TaskFilter) []models.Task
	UpdateTaskStatus(taskID string, status models.TaskStatus) error
}

// Options configures a Runner.
type Options struct {
	Name         string
	Capabilities []string
	Metadata     map[string]any
	PollInterval time.Duration
	ErrorBackoff time.Duration
	PollLimit    int
	Router       *Router     // nil means DefaultRouter()
	TaskHandler  TaskHandler // nil means DefaultTaskHandler
	RequestTTL   time.Duration
	Logger       *log.Logger
}

// Stats counts the work a runner has done.
type Stats struct {
	Messages    int64
	Tasks       int64
	FailedTasks int64
}

// Runner drives one agent.
type Runner struct {
	bus       Bus
	opts      Options
	logger    *log.Logger
	requester *Requester

	messages    atomic.Int64
	tasks       atomic.Int64
	failedTasks atomic.Int64
}

// NewRunner validates opts and fills defaults. The agent is registered when
// Run starts, not here.
func NewRunner(b Bus, opts Options) (*Runner, error) {
	if b == nil {
		return nil, fmt.Errorf("agent: bus is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.PollLimit <= 0 {
		opts.PollLimit = DefaultPollLimit
	}
	if opts.Router == nil {
		opts.Router = DefaultRouter()
	}
	if opts.TaskHandler == nil {
		opts.TaskHandler = DefaultTaskHandler
	}
	if opts.RequestTTL <= 0 {
		opts.RequestTTL = DefaultRequestTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	r := &Runner{bus: b, opts: opts, logger: opts.Logger}
	r.requester = newRequester(r, opts.RequestTTL)
	return r, nil
}

// Name returns the agent name.
func (r *Runner) Name() string { return r.opts.Name }

// Requester returns the runner's correlated request helper.
func (r *Runner) Requester() *Requester { return r.requester }

// Stats returns a snapshot of the runner's counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Messages:    r.messages.Load(),
		Tasks:       r.tasks.Load(),
		FailedTasks: r.failedTasks.Load(),
	}
}

// Register adds the agent to the bus. Run calls it before looping.
func (r *Runner) Register() error {
	if err := r.bus.Register(r.opts.Name, r.opts.Capabilities, r.opts.Metadata); err != nil {
		return fmt.Errorf("agent %s: register: %w", r.opts.Name, err)
	}
	return nil
}

// Run registers the agent and loops until ctx is cancelled. A cycle that
// fails is logged and followed by the longer error backoff.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Register(); err != nil {
		return err
	}
	r.logger.Printf("agent %s: started (poll every %s)", r.opts.Name, r.opts.PollInterval)
	defer r.logger.Printf("agent %s: stopped", r.opts.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		wait := r.opts.PollInterval
		if err := r.Step(ctx); err != nil {
			r.logger.Printf("agent %s: cycle error: %v", r.opts.Name, err)
			wait = r.opts.ErrorBackoff
		}
		sleepWithContext(ctx, wait)
	}
}

// Step runs one cycle: drain up to PollLimit unread messages through the
// router, then work every PENDING task assigned to this agent. Handler
// failures do not stop the cycle; they are joined into the returned error.
func (r *Runner) Step(ctx context.Context) error {
	msgs, err := r.bus.Poll(r.opts.Name, bus.PollOptions{UnreadOnly: true, Limit: r.opts.PollLimit})
	if err != nil {
		return fmt.Errorf("agent %s: poll: %w", r.opts.Name, err)
	}

	var errs []error
	for _, msg := range msgs {
		r.messages.Add(1)
		if r.requester.resolve(msg) {
			continue
		}
		if err := r.opts.Router.Dispatch(ctx, r, msg); err != nil {
			errs = append(errs, fmt.Errorf("message %s from %s: %w", msg.ID, msg.Sender, err))
		}
	}

	tasks := r.bus.QueryTasks(bus.TaskFilter{AssignedTo: r.opts.Name, Status: models.StatusPending})
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if err := r.work(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("agent %s: %w", r.opts.Name, errors.Join(errs...))
	}
	return nil
}

func (r *Runner) work(ctx context.Context, task models.Task) error {
	if err := r.bus.UpdateTaskStatus(task.ID, models.StatusInProgress); err != nil {
		return fmt.Errorf("task %s: start: %w", task.ID, err)
	}
	task.Status = models.StatusInProgress
	r.tasks.Add(1)

	if herr := r.opts.TaskHandler(ctx, r, task); herr != nil {
		r.failedTasks.Add(1)
		r.logger.Printf("agent %s: task %s failed: %v", r.opts.Name, task.ID, herr)
		if err := r.bus.UpdateTaskStatus(task.ID, models.StatusFailed); err != nil {
			return fmt.Errorf("task %s: %w (marking failed: %v)", task.ID, herr, err)
		}
		return fmt.Errorf("task %s: %w", task.ID, herr)
	}
	if err := r.bus.UpdateTaskStatus(task.ID, models.StatusCompleted); err != nil {
		return fmt.Errorf("task %s: complete: %w", task.ID, err)
	}
	r.logger.Printf("agent %s: task %s completed", r.opts.Name, task.ID)
	return nil
}

// Send enqueues a message from this agent.
func (r *Runner) Send(to, content string, p models.Priority, meta map[string]any) (bus.SendResult, error) {
	return r.bus.Send(bus.SendRequest{
		Sender:    r.opts.Name,
		Recipient: to,
		Content:   content,
		Priority:  p,
		Metadata:  meta,
	})
}

// Reply answers msg at its priority. The reply carries in_reply_to and
// echoes any correlation id so a waiting Requester can match it.
func (r *Runner) Reply(msg models.Message, content string) error {
	meta := WithCommand(map[string]any{models.MetaInReplyTo: msg.ID}, CommandReply)
	if id := msg.MetaString(models.MetaCorrelationID); id != "" {
		meta[models.MetaCorrelationID] = id
	}
	if _, err := r.Send(msg.Sender, content, msg.Priority, meta); err != nil {
		return fmt.Errorf("reply to %s: %w", msg.Sender, err)
	}
	return nil
}

// sleepWithContext sleeps for duration d, returning early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
