package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zulandar/agentbus/internal/models"
)

// ErrNoHandler is returned by Dispatch when neither a command handler nor a
// fallback is registered.
var ErrNoHandler = errors.New("no handler for command")

// HandlerFunc processes one received message on behalf of a runner.
type HandlerFunc func(ctx context.Context, r *Runner, msg models.Message) error

// TaskHandler processes one PENDING task picked up by a runner. Returning an
// error marks the task FAILED; returning nil marks it COMPLETED.
type TaskHandler func(ctx context.Context, r *Runner, task models.Task) error

// Router maps commands to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[Command]HandlerFunc
	fallback HandlerFunc
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Command]HandlerFunc)}
}

// Handle registers h for cmd, replacing any previous handler.
func (rt *Router) Handle(cmd Command, h HandlerFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.handlers[cmd] = h
}

// Fallback registers the handler used for commands with no explicit handler.
func (rt *Router) Fallback(h HandlerFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.fallback = h
}

// Dispatch runs the handler for msg's command.
func (rt *Router) Dispatch(ctx context.Context, r *Runner, msg models.Message) error {
	cmd := CommandOf(msg)
	rt.mu.RLock()
	h, ok := rt.handlers[cmd]
	if !ok {
		h = rt.fallback
	}
	rt.mu.RUnlock()

	if h == nil {
		return fmt.Errorf("agent: dispatch %s: %w %q", msg.ID, ErrNoHandler, cmd)
	}
	return h(ctx, r, msg)
}

// DefaultRouter wires the built-in behaviour: ping answers pong, status
// reports counters, acks and replies are consumed silently, and anything
// else is answered with an acknowledgment to the sender.
func DefaultRouter() *Router {
	rt := NewRouter()
	rt.Handle(CommandPing, func(ctx context.Context, r *Runner, msg models.Message) error {
		return r.Reply(msg, "pong")
	})
	rt.Handle(CommandStatus, func(ctx context.Context, r *Runner, msg models.Message) error {
		s := r.Stats()
		return r.Reply(msg, fmt.Sprintf("%s: %d message(s), %d task(s) processed, %d failed", r.Name(), s.Messages, s.Tasks, s.FailedTasks))
	})
	rt.Handle(CommandAck, ignore)
	rt.Handle(CommandReply, ignore)
	rt.Fallback(DefaultHandler)
	return rt
}

// DefaultHandler answers a message by acknowledging it to the sender.
func DefaultHandler(ctx context.Context, r *Runner, msg models.Message) error {
	return r.Reply(msg, fmt.Sprintf("%s received your message: %s", r.Name(), msg.Content))
}

// DefaultTaskHandler tells the task's creator that work has started.
func DefaultTaskHandler(ctx context.Context, r *Runner, task models.Task) error {
	_, err := r.Send(task.CreatedBy,
		fmt.Sprintf("Working on task %s: %s", task.ID, task.Description),
		task.Priority,
		map[string]any{models.MetaTaskID: task.ID},
	)
	return err
}

func ignore(context.Context, *Runner, models.Message) error { return nil }
