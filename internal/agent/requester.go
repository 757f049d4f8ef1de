package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/zulandar/agentbus/internal/models"
)

// ErrRequestTimeout is returned when no correlated reply arrives in time.
var ErrRequestTimeout = errors.New("request timed out")

// Requester sends a message and waits for the reply that echoes its
// correlation id. Replies are delivered by the owning Runner's poll loop, so
// the runner must be running for a request to complete.
type Requester struct {
	runner  *Runner
	pending *cache.Cache // correlation id -> chan models.Message
}

func newRequester(r *Runner, ttl time.Duration) *Requester {
	return &Requester{
		runner:  r,
		pending: cache.New(ttl, 2*ttl),
	}
}

// Request sends content to the named agent tagged as a request and blocks
// until the reply arrives, timeout elapses or ctx is done.
func (q *Requester) Request(ctx context.Context, to, content string, p models.Priority, timeout time.Duration) (models.Message, error) {
	id := uuid.NewString()
	ch := make(chan models.Message, 1)
	q.pending.Set(id, ch, cache.DefaultExpiration)
	defer q.pending.Delete(id)

	meta := WithCommand(map[string]any{models.MetaCorrelationID: id}, CommandRequest)
	if _, err := q.runner.Send(to, content, p, meta); err != nil {
		return models.Message{}, fmt.Errorf("agent %s: request to %s: %w", q.runner.Name(), to, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return models.Message{}, fmt.Errorf("agent %s: request to %s: %w after %s", q.runner.Name(), to, ErrRequestTimeout, timeout)
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// Pending returns the number of requests still waiting for a reply.
func (q *Requester) Pending() int {
	return q.pending.ItemCount()
}

// resolve hands a reply to its waiting request. It reports whether msg was
// claimed; replies nobody waits for any more fall through to the router.
func (q *Requester) resolve(msg models.Message) bool {
	if CommandOf(msg) != CommandReply {
		return false
	}
	id := msg.MetaString(models.MetaCorrelationID)
	if id == "" {
		return false
	}
	v, ok := q.pending.Get(id)
	if !ok {
		return false
	}
	q.pending.Delete(id)
	select {
	case v.(chan models.Message) <- msg:
	default:
	}
	return true
}
