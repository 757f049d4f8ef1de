package models

import "time"

// Metadata keys with meaning to the bus and the agent runtime.
const (
	MetaTaskID        = "task_id"
	MetaAckFor        = "ack_for"
	MetaDelegatedFrom = "delegated_from"
	MetaCommand       = "command"
	MetaCorrelationID = "correlation_id"
	MetaInReplyTo     = "in_reply_to"
)

// Message is a unit of communication from one agent to another.
type Message struct {
	ID                     string         `json:"id"`
	Sender                 string         `json:"sender"`
	Recipient              string         `json:"recipient"`
	Content                string         `json:"content"`
	Priority               Priority       `json:"priority"`
	Timestamp              time.Time      `json:"timestamp"`
	Metadata               map[string]any `json:"metadata"`
	TaskID                 string         `json:"task_id,omitempty"`
	RequiresAcknowledgment bool           `json:"requires_acknowledgment"`
	AcknowledgmentReceived bool           `json:"acknowledgment_received"`
	Read                   bool           `json:"read"`
}

// Clone returns a copy whose metadata map is not shared with m.
func (m Message) Clone() Message {
	m.Metadata = cloneMap(m.Metadata)
	return m
}

// MetaString returns metadata[key] when it holds a string.
func (m Message) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
