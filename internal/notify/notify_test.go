package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/models"
)

// recordingChannel captures posted alerts.
type recordingChannel struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
	block  chan struct{}
}

func (c *recordingChannel) Name() string { return "test" }

func (c *recordingChannel) Post(ctx context.Context, alert Alert) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return c.err
}

func (c *recordingChannel) titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.alerts))
	for i, a := range c.alerts {
		out[i] = a.Title
	}
	return out
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{Kinds: []string{"delegated"}}); err == nil {
		t.Error("expected error for nil channel")
	}
	if _, err := New(&recordingChannel{}, Options{}); err == nil {
		t.Error("expected error for empty kinds")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		ev   models.Event
		want string
	}{
		{models.Event{Kind: models.EventDelegated}, "delegated"},
		{models.Event{Kind: models.EventTaskStatus, Detail: "IN_PROGRESS -> FAILED"}, "task_failed"},
		{models.Event{Kind: models.EventTaskStatus, Detail: "IN_PROGRESS -> COMPLETED"}, "task_completed"},
		{models.Event{Kind: models.EventTaskStatus, Detail: "PENDING -> IN_PROGRESS"}, "task_status"},
	}
	for _, tt := range tests {
		if got := Kind(tt.ev); got != tt.want {
			t.Errorf("Kind(%+v) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	a := Format(models.Event{
		Kind:        models.EventDelegated,
		Agent:       "dev",
		Counterpart: "ops",
		MessageID:   "m-1",
		TaskID:      "task-abcde",
		Priority:    "HIGH",
	})
	if a.Title != "Message delegated from ops to dev" {
		t.Errorf("Title = %q", a.Title)
	}
	if a.Color != ColorInfo {
		t.Errorf("Color = %q, want %q", a.Color, ColorInfo)
	}
	if len(a.Fields) != 4 || a.Fields[0].Value != "dev" || a.Fields[3].Name != "Message" {
		t.Errorf("Fields = %+v", a.Fields)
	}

	failed := Format(models.Event{Kind: models.EventTaskStatus, TaskID: "task-abcde", Detail: "IN_PROGRESS -> FAILED"})
	if failed.Title != "Task task-abcde failed" || failed.Color != ColorError {
		t.Errorf("failed alert = %+v", failed)
	}
	degraded := Format(models.Event{Kind: models.EventDegraded, Agent: "solo"})
	if degraded.Severity != "error" {
		t.Errorf("degraded severity = %q, want error", degraded.Severity)
	}
}

func TestNotifier_FiltersAndPosts(t *testing.T) {
	ch := &recordingChannel{}
	n, err := New(ch, Options{Kinds: []string{"delegated", "task_failed"}, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := n.Start(ctx)

	n.Record([]models.Event{
		{Kind: models.EventSent, Agent: "a"},
		{Kind: models.EventDelegated, Agent: "b", Counterpart: "c"},
		{Kind: models.EventTaskStatus, TaskID: "task-aaaaa", Detail: "PENDING -> COMPLETED"},
		{Kind: models.EventTaskStatus, TaskID: "task-bbbbb", Detail: "IN_PROGRESS -> FAILED"},
	})

	waitFor(t, func() bool { return len(ch.titles()) == 2 })
	cancel()
	<-done

	got := ch.titles()
	if got[0] != "Message delegated from c to b" || got[1] != "Task task-bbbbb failed" {
		t.Errorf("posted = %v", got)
	}
	if posted, dropped, failed := n.Stats(); posted != 2 || dropped != 0 || failed != 0 {
		t.Errorf("Stats = %d/%d/%d, want 2/0/0", posted, dropped, failed)
	}
}

func TestNotifier_DropsWhenQueueFull(t *testing.T) {
	ch := &recordingChannel{}
	n, err := New(ch, Options{Kinds: []string{"degraded"}, QueueSize: 2, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	ev := models.Event{Kind: models.EventDegraded, Agent: "solo"}
	n.Record([]models.Event{ev, ev, ev, ev})

	if _, dropped, _ := n.Stats(); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
}

func TestNotifier_CountsFailures(t *testing.T) {
	ch := &recordingChannel{err: errors.New("boom")}
	n, err := New(ch, Options{Kinds: []string{"degraded"}, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Record([]models.Event{{Kind: models.EventDegraded, Agent: "solo"}})
	waitFor(t, func() bool {
		_, _, failed := n.Stats()
		return failed == 1
	})
}

func TestNotifier_RecordDoesNotBlockBus(t *testing.T) {
	ch := &recordingChannel{block: make(chan struct{})}
	n, err := New(ch, Options{Kinds: []string{"degraded"}, QueueSize: 1, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := n.Start(ctx)

	b := bus.New(bus.Options{
		Strategy:      bus.StrategyRoundRobin,
		LoadThreshold: 1,
		Sink:          n,
		Logger:        quietLogger(),
	})
	if err := b.Register("solo", nil, nil); err != nil {
		t.Fatal(err)
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 6; i++ {
			_, err := b.Send(bus.SendRequest{
				Sender: "solo", Recipient: "solo", Content: "work",
				TaskID: "task-" + strings.Repeat(string(rune('a'+i)), 5),
			})
			if err != nil {
				t.Error(err)
			}
		}
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("sends blocked on a stalled notification channel")
	}

	close(ch.block)
	cancel()
	<-done
}
