// Package notify forwards selected bus events to a chat channel (Slack or
// Discord). A Notifier is a bus.EventSink: Record only queues, and a
// background pump posts alerts so the bus never waits on the network.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/zulandar/agentbus/internal/models"
)

// DefaultQueueSize bounds the alerts waiting to be posted.
const DefaultQueueSize = 100

// Channel posts alerts to one chat destination.
type Channel interface {
	Name() string
	Post(ctx context.Context, alert Alert) error
}

// Options configures a Notifier.
type Options struct {
	Kinds     []string // alert kinds to forward; see Kind
	QueueSize int
	Logger    *log.Logger
}

// Notifier filters bus events and posts them to a Channel.
type Notifier struct {
	channel Channel
	kinds   map[string]bool
	queue   chan Alert
	logger  *log.Logger

	mu      sync.Mutex
	posted  int
	dropped int
	failed  int
}

// New creates a Notifier for ch. At least one kind is required.
func New(ch Channel, opts Options) (*Notifier, error) {
	if ch == nil {
		return nil, fmt.Errorf("notify: channel is required")
	}
	if len(opts.Kinds) == 0 {
		return nil, fmt.Errorf("notify: at least one kind is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	kinds := make(map[string]bool, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kinds[k] = true
	}
	return &Notifier{
		channel: ch,
		kinds:   kinds,
		queue:   make(chan Alert, opts.QueueSize),
		logger:  opts.Logger,
	}, nil
}

// Record queues an alert for every event whose kind is selected. When the
// queue is full the alert is dropped and counted.
func (n *Notifier) Record(events []models.Event) {
	for _, ev := range events {
		if !n.kinds[Kind(ev)] {
			continue
		}
		alert := Format(ev)
		select {
		case n.queue <- alert:
		default:
			n.mu.Lock()
			n.dropped++
			n.mu.Unlock()
			n.logger.Printf("notify: queue full, dropped %q", alert.Title)
		}
	}
}

// Start posts queued alerts until ctx is cancelled. The returned channel is
// closed when the pump has exited. Alerts still queued at shutdown are
// discarded.
func (n *Notifier) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case alert := <-n.queue:
				n.post(ctx, alert)
			}
		}
	}()
	return done
}

func (n *Notifier) post(ctx context.Context, alert Alert) {
	err := n.channel.Post(ctx, alert)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.failed++
		n.logger.Printf("notify: %s: %v", n.channel.Name(), err)
		return
	}
	n.posted++
}

// Stats returns how many alerts were posted, dropped and failed.
func (n *Notifier) Stats() (posted, dropped, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.posted, n.dropped, n.failed
}
