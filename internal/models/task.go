package models

import "time"

// Task is a unit of work assigned to an agent, with its message history.
type Task struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	AssignedTo   string         `json:"assigned_to"`
	CreatedBy    string         `json:"created_by"`
	Priority     Priority       `json:"priority"`
	Status       TaskStatus     `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	Deadline     *time.Time     `json:"deadline"`
	Dependencies []string       `json:"dependencies"`
	Metadata     map[string]any `json:"metadata"`
	Messages     []Message      `json:"messages"`
}

// Clone deep-copies the task so callers cannot mutate ledger state.
func (t Task) Clone() Task {
	t.Metadata = cloneMap(t.Metadata)
	t.Dependencies = append([]string{}, t.Dependencies...)
	if t.Deadline != nil {
		d := *t.Deadline
		t.Deadline = &d
	}
	msgs := make([]Message, len(t.Messages))
	for i, m := range t.Messages {
		msgs[i] = m.Clone()
	}
	t.Messages = msgs
	return t
}
