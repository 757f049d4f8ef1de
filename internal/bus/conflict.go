package bus

import (
	"fmt"

	"github.com/zulandar/agentbus/internal/models"
)

// Strategy selects how a mailbox conflict is resolved.
type Strategy string

const (
	StrategyPriority   Strategy = "priority_based"
	StrategyTimestamp  Strategy = "timestamp_based"
	StrategyRoundRobin Strategy = "round_robin"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if _, ok := resolvers[st]; !ok {
		return "", fmt.Errorf("bus: %w: unknown conflict strategy %q", ErrInvalidInput, s)
	}
	return st, nil
}

// resolution reports what a resolver did to the mailbox and the message.
type resolution struct {
	evicted   int
	delegated bool
	degraded  bool
}

// resolver runs with the mutex held, before msg is inserted.
type resolver func(b *Bus, msg *models.Message) resolution

var resolvers = map[Strategy]resolver{
	StrategyPriority:   resolveByPriority,
	StrategyTimestamp:  resolveByTimestamp,
	StrategyRoundRobin: resolveByRoundRobin,
}

// hasConflictLocked reports whether the recipient already holds a message of
// the same priority bound to a different task.
func (b *Bus) hasConflictLocked(msg *models.Message) bool {
	if msg.TaskID == "" {
		return false
	}
	for _, pending := range b.mailboxes[msg.Recipient] {
		if pending.Priority == msg.Priority && pending.TaskID != "" && pending.TaskID != msg.TaskID {
			return true
		}
	}
	return false
}

// resolveByPriority keeps only pending messages that strictly outrank msg.
// Everything of equal or lower priority for the recipient is evicted, not
// just the entry in conflict.
func resolveByPriority(b *Bus, msg *models.Message) resolution {
	n := b.evictLocked(msg, func(pending *models.Message) bool {
		return pending.Priority > msg.Priority
	})
	b.logger.Printf("bus: conflict resolved by priority for %s (%d evicted)", msg.Recipient, n)
	return resolution{evicted: n}
}

// resolveByTimestamp keeps only pending messages strictly newer than msg.
func resolveByTimestamp(b *Bus, msg *models.Message) resolution {
	n := b.evictLocked(msg, func(pending *models.Message) bool {
		return pending.Timestamp.After(msg.Timestamp)
	})
	b.logger.Printf("bus: conflict resolved by timestamp for %s (%d evicted)", msg.Recipient, n)
	return resolution{evicted: n}
}

// resolveByRoundRobin counts the conflict against the recipient and, past the
// load threshold, delegates msg and resets the original recipient's load.
func resolveByRoundRobin(b *Bus, msg *models.Message) resolution {
	var res resolution
	original := msg.Recipient
	load, err := b.incrementLoadLocked(original)
	if err != nil {
		return res
	}
	if load > b.opts.LoadThreshold {
		if b.delegateLocked(msg) {
			res.delegated = true
		} else {
			res.degraded = true
		}
		b.agents[original].Load = 0
	}
	b.logger.Printf("bus: conflict resolved by round robin for %s (load %d)", original, load)
	return res
}

// evictLocked drops every pending message for msg.Recipient that keep rejects.
func (b *Bus) evictLocked(msg *models.Message, keep func(*models.Message) bool) int {
	box := b.mailboxes[msg.Recipient]
	kept := box[:0]
	evicted := 0
	for _, pending := range box {
		if keep(pending) {
			kept = append(kept, pending)
			continue
		}
		evicted++
		b.emit(models.Event{
			Kind:        models.EventEvicted,
			Agent:       pending.Recipient,
			Counterpart: pending.Sender,
			MessageID:   pending.ID,
			TaskID:      pending.TaskID,
			Priority:    pending.Priority.String(),
			Detail:      fmt.Sprintf("evicted in favour of %s", msg.ID),
		})
	}
	for i := len(kept); i < len(box); i++ {
		box[i] = nil
	}
	b.mailboxes[msg.Recipient] = kept
	return evicted
}
