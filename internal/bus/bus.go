// Package bus is the inter-agent communication core: agent registry,
// priority mailboxes with conflict resolution and delegation, the task
// ledger, and whole-state JSON snapshots.
//
// All state lives in one Bus value guarded by a single mutex. Every exported
// method takes the lock for its full duration, so operations are totally
// ordered and never observe a partial update.
package bus

import (
	"log"
	"sync"
	"time"

	"github.com/zulandar/agentbus/internal/models"
)

const (
	// DefaultLoadThreshold is the round-robin load above which a message is delegated.
	DefaultLoadThreshold = 5
	// DefaultAckEchoLength is how much of the original content an ack echoes.
	DefaultAckEchoLength = 50
	// DefaultQueryLimit caps Poll and QueryTasks when no limit is given.
	DefaultQueryLimit = 50
)

// EventSink receives bus events after the lock has been released.
type EventSink interface {
	Record(events []models.Event)
}

type multiSink []EventSink

func (m multiSink) Record(events []models.Event) {
	for _, s := range m {
		s.Record(events)
	}
}

// MultiSink fans events out to every non-nil sink in order. It returns nil
// when no sink is given.
func MultiSink(sinks ...EventSink) EventSink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	}
	return m
}

// Options configures a Bus. The zero value is usable.
type Options struct {
	Strategy          Strategy
	LoadThreshold     int
	AckEchoLength     int
	StrictTransitions bool // forward-only task state machine
	IgnoreUnknownTask bool // UpdateTaskStatus on a missing id is a no-op
	Sink              EventSink
	Logger            *log.Logger
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyPriority
	}
	if o.LoadThreshold <= 0 {
		o.LoadThreshold = DefaultLoadThreshold
	}
	if o.AckEchoLength <= 0 {
		o.AckEchoLength = DefaultAckEchoLength
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Bus owns the registry, the mailboxes and the task ledger.
type Bus struct {
	opts     Options
	resolver resolver
	logger   *log.Logger

	saveMu sync.Mutex // serializes SaveState end to end

	mu        sync.Mutex
	agents    map[string]*models.Agent
	agentSeq  []string // registration order
	mailboxes map[string][]*models.Message
	tasks     map[string]*models.Task
	taskSeq   []string // creation order
	events    []models.Event
}

// New returns an empty Bus. An unknown strategy falls back to priority-based.
func New(opts Options) *Bus {
	opts = opts.withDefaults()
	r, ok := resolvers[opts.Strategy]
	if !ok {
		opts.Logger.Printf("bus: unknown conflict strategy %q, using %s", opts.Strategy, StrategyPriority)
		opts.Strategy = StrategyPriority
		r = resolvers[StrategyPriority]
	}
	b := &Bus{
		opts:     opts,
		resolver: r,
		logger:   opts.Logger,
	}
	b.resetLocked()
	return b
}

// Strategy returns the conflict strategy selected at construction.
func (b *Bus) Strategy() Strategy {
	return b.opts.Strategy
}

// Reset discards all agents, messages and tasks.
func (b *Bus) Reset() {
	b.withLock(func() error {
		b.resetLocked()
		return nil
	})
}

func (b *Bus) resetLocked() {
	b.agents = make(map[string]*models.Agent)
	b.agentSeq = nil
	b.mailboxes = make(map[string][]*models.Message)
	b.tasks = make(map[string]*models.Task)
	b.taskSeq = nil
}

// withLock runs fn under the bus mutex and hands any events fn produced to
// the sink once the mutex is released. The mutex is released even if fn panics.
func (b *Bus) withLock(fn func() error) error {
	var (
		err    error
		events []models.Event
	)
	func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		defer func() {
			events, b.events = b.events, nil
		}()
		err = fn()
	}()
	if b.opts.Sink != nil && len(events) > 0 {
		b.opts.Sink.Record(events)
	}
	return err
}

// emit queues an event; must be called with the mutex held.
func (b *Bus) emit(ev models.Event) {
	ev.CreatedAt = b.now()
	b.events = append(b.events, ev)
}

func (b *Bus) now() time.Time {
	return b.opts.Now()
}
