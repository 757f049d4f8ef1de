package bus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/zulandar/agentbus/internal/models"
)

// SendRequest describes a message to enqueue.
type SendRequest struct {
	Sender      string
	Recipient   string
	Content     string
	Priority    models.Priority // zero means MEDIUM
	Metadata    map[string]any
	TaskID      string
	RequiresAck bool
	CreateTask  bool // open a task for the recipient and bind the message to it
}

// SendResult reports where a message ended up.
type SendResult struct {
	MessageID string `json:"message_id"`
	TaskID    string `json:"task_id,omitempty"`
	Recipient string `json:"recipient"` // final recipient after any delegation
	Conflict  bool   `json:"conflict"`
	Evicted   int    `json:"evicted"`
	Delegated bool   `json:"delegated"`
	Degraded  bool   `json:"degraded"`
}

// PollOptions filters a Poll.
type PollOptions struct {
	UnreadOnly bool
	Limit      int // <= 0 means DefaultQueryLimit
}

// Send validates both parties, resolves any mailbox conflict and enqueues
// the message in (priority desc, timestamp asc) order.
func (b *Bus) Send(req SendRequest) (SendResult, error) {
	if req.Priority == 0 {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return SendResult{}, fmt.Errorf("bus: send: %w: priority %d", ErrInvalidInput, int(req.Priority))
	}

	var res SendResult
	err := b.withLock(func() error {
		msg := b.newMessage(req.Sender, req.Recipient, req.Content, req.Priority, req.Metadata)
		msg.TaskID = req.TaskID
		msg.RequiresAcknowledgment = req.RequiresAck

		var task *models.Task
		if req.CreateTask {
			t, err := b.newTaskLocked(CreateTaskRequest{
				Description: req.Content,
				AssignedTo:  req.Recipient,
				CreatedBy:   req.Sender,
				Priority:    req.Priority,
				Metadata:    req.Metadata,
			})
			if err != nil {
				return fmt.Errorf("bus: send: %w", err)
			}
			task = t
			msg.TaskID = t.ID
			msg.Metadata[models.MetaTaskID] = t.ID
		}

		var err error
		res, err = b.sendLocked(msg)
		if err != nil {
			return err
		}
		if task != nil {
			task.Messages = append(task.Messages, msg.Clone())
		}
		return nil
	})
	return res, err
}

// Poll removes up to opts.Limit messages from the agent's mailbox and
// returns them most urgent first. Messages that asked for acknowledgment get
// a LOW priority ack sent back to their sender through the normal send path.
func (b *Bus) Poll(agent string, opts PollOptions) ([]models.Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var out []models.Message
	err := b.withLock(func() error {
		if _, err := b.agentLocked(agent); err != nil {
			return fmt.Errorf("bus: poll: %w", err)
		}
		b.touchLocked(agent)

		box := b.mailboxes[agent]
		kept := make([]*models.Message, 0, len(box))
		var drained []*models.Message
		for _, m := range box {
			if len(drained) < limit && !(opts.UnreadOnly && m.Read) {
				drained = append(drained, m)
				continue
			}
			kept = append(kept, m)
		}
		b.mailboxes[agent] = kept

		out = make([]models.Message, 0, len(drained))
		for _, m := range drained {
			out = append(out, m.Clone())
		}
		if len(drained) > 0 {
			b.emit(models.Event{Kind: models.EventPolled, Agent: agent, Detail: fmt.Sprintf("%d message(s)", len(drained))})
		}

		for _, m := range drained {
			if m.RequiresAcknowledgment {
				if err := b.ackLocked(m); err != nil {
					b.logger.Printf("bus: ack for %s failed: %v", m.ID, err)
				}
			}
		}
		return nil
	})
	return out, err
}

// MarkRead flags a pending message as read without removing it.
func (b *Bus) MarkRead(messageID string) error {
	return b.withLock(func() error {
		for _, box := range b.mailboxes {
			for _, m := range box {
				if m.ID == messageID {
					m.Read = true
					return nil
				}
			}
		}
		return fmt.Errorf("bus: mark read: %w: %s", ErrUnknownMessage, messageID)
	})
}

// Pending returns a copy of the agent's mailbox without draining it.
func (b *Bus) Pending(agent string) ([]models.Message, error) {
	var out []models.Message
	err := b.withLock(func() error {
		if _, err := b.agentLocked(agent); err != nil {
			return fmt.Errorf("bus: pending: %w", err)
		}
		for _, m := range b.mailboxes[agent] {
			out = append(out, m.Clone())
		}
		return nil
	})
	return out, err
}

func (b *Bus) newMessage(sender, recipient, content string, p models.Priority, meta map[string]any) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Priority:  p,
		Timestamp: b.now(),
		Metadata:  copyMeta(meta),
	}
}

// sendLocked is the single enqueue path used by Send, CreateTask and acks.
func (b *Bus) sendLocked(msg *models.Message) (SendResult, error) {
	if _, err := b.agentLocked(msg.Sender); err != nil {
		return SendResult{}, fmt.Errorf("bus: send: sender: %w", err)
	}
	if _, err := b.agentLocked(msg.Recipient); err != nil {
		return SendResult{}, fmt.Errorf("bus: send: recipient: %w", err)
	}
	b.touchLocked(msg.Sender)

	res := SendResult{MessageID: msg.ID, TaskID: msg.TaskID}
	if b.hasConflictLocked(msg) {
		res.Conflict = true
		b.emit(models.Event{
			Kind:        models.EventConflict,
			Agent:       msg.Recipient,
			Counterpart: msg.Sender,
			MessageID:   msg.ID,
			TaskID:      msg.TaskID,
			Priority:    msg.Priority.String(),
			Detail:      string(b.opts.Strategy),
		})
		r := b.resolver(b, msg)
		res.Evicted = r.evicted
		res.Delegated = r.delegated
		res.Degraded = r.degraded
	}

	b.insertLocked(msg)
	res.Recipient = msg.Recipient

	b.emit(models.Event{
		Kind:        models.EventSent,
		Agent:       msg.Sender,
		Counterpart: msg.Recipient,
		MessageID:   msg.ID,
		TaskID:      msg.TaskID,
		Priority:    msg.Priority.String(),
	})
	return res, nil
}

// insertLocked appends msg to its recipient's mailbox and restores ordering.
// The sort is stable so equal (priority, timestamp) pairs keep send order.
func (b *Bus) insertLocked(msg *models.Message) {
	box := append(b.mailboxes[msg.Recipient], msg)
	sort.SliceStable(box, func(i, j int) bool {
		if box[i].Priority != box[j].Priority {
			return box[i].Priority > box[j].Priority
		}
		return box[i].Timestamp.Before(box[j].Timestamp)
	})
	b.mailboxes[msg.Recipient] = box
}

// ackLocked sends the acknowledgment for a drained message back to its sender.
func (b *Bus) ackLocked(orig *models.Message) error {
	ack := b.newMessage(orig.Recipient, orig.Sender,
		"Message received: "+truncate(orig.Content, b.opts.AckEchoLength)+"...",
		models.PriorityLow,
		map[string]any{models.MetaAckFor: orig.ID},
	)
	if _, err := b.sendLocked(ack); err != nil {
		return err
	}
	if t, ok := b.tasks[orig.TaskID]; ok {
		for i := range t.Messages {
			if t.Messages[i].ID == orig.ID {
				t.Messages[i].AcknowledgmentReceived = true
			}
		}
	}
	b.emit(models.Event{
		Kind:        models.EventAcked,
		Agent:       orig.Recipient,
		Counterpart: orig.Sender,
		MessageID:   orig.ID,
		TaskID:      orig.TaskID,
	})
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
