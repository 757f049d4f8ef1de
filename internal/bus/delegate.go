package bus

import (
	"github.com/zulandar/agentbus/internal/models"
)

// delegateLocked reroutes msg to the least-loaded agent other than its
// current recipient. The receiving agent's delegation history records its
// own name. With no alternate the message keeps its recipient and false is
// returned; delegation never fails the send.
func (b *Bus) delegateLocked(msg *models.Message) bool {
	from := msg.Recipient
	to, ok := b.leastLoadedOtherThanLocked(from)
	if !ok {
		b.logger.Printf("bus: %v for %s, delivering directly", ErrDeliveryDegraded, from)
		b.emit(models.Event{
			Kind:        models.EventDegraded,
			Agent:       from,
			Counterpart: msg.Sender,
			MessageID:   msg.ID,
			TaskID:      msg.TaskID,
			Priority:    msg.Priority.String(),
			Detail:      ErrDeliveryDegraded.Error(),
		})
		return false
	}

	msg.Recipient = to
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata[models.MetaDelegatedFrom] = from

	receiver := b.agents[to]
	receiver.DelegationHistory = append(receiver.DelegationHistory, to)

	b.logger.Printf("bus: message %s delegated from %s to %s", msg.ID, from, to)
	b.emit(models.Event{
		Kind:        models.EventDelegated,
		Agent:       to,
		Counterpart: from,
		MessageID:   msg.ID,
		TaskID:      msg.TaskID,
		Priority:    msg.Priority.String(),
	})
	return true
}
