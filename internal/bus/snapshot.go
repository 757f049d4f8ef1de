package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zulandar/agentbus/internal/models"
)

// snapshot is the on-disk JSON document: agents and tasks keyed by
// name/id, pending messages as one flat array. AgentOrder records
// registration order; files without it fall back to RegisteredAt.
type snapshot struct {
	Agents     map[string]models.Agent `json:"agents"`
	Tasks      map[string]models.Task  `json:"tasks"`
	Messages   []models.Message        `json:"messages"`
	AgentOrder []string                `json:"agent_order,omitempty"`
}

// requiredSections must all be present in a snapshot file.
var requiredSections = []string{"agents", "tasks", "messages"}

// SaveState writes the full state to path as one JSON document. The copy is
// taken under the lock; encoding and the atomic write happen after it is
// released. Saves are serialized so an older copy never replaces a newer
// one on disk. A failed save leaves memory untouched.
func (b *Bus) SaveState(path string) error {
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	var snap snapshot
	b.withLock(func() error {
		snap = b.snapshotLocked()
		b.emit(models.Event{Kind: models.EventStateSaved, Detail: path})
		return nil
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("bus: save state: %w: encode: %v", ErrPersistence, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("bus: save state: %w: %v", ErrPersistence, err)
	}
	return nil
}

// LoadState replaces all in-memory state with the snapshot at path. On any
// error the current state is kept and an ErrPersistence is returned.
func (b *Bus) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("bus: load state: %w: %v", ErrPersistence, err)
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("bus: load state %s: %w: %v", path, ErrPersistence, err)
	}
	for _, key := range requiredSections {
		if raw, ok := sections[key]; !ok || string(raw) == "null" {
			return fmt.Errorf("bus: load state %s: %w: missing %s section", path, ErrPersistence, key)
		}
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("bus: load state %s: %w: %v", path, ErrPersistence, err)
	}
	if err := snap.validate(); err != nil {
		return fmt.Errorf("bus: load state %s: %w: %v", path, ErrPersistence, err)
	}

	return b.withLock(func() error {
		b.restoreLocked(snap)
		b.logger.Printf("bus: state loaded from %s (%d agents, %d tasks, %d pending)",
			path, len(snap.Agents), len(snap.Tasks), len(snap.Messages))
		b.emit(models.Event{Kind: models.EventStateLoaded, Detail: path})
		return nil
	})
}

// Open returns a Bus restored from path. A missing file yields an empty bus.
// A corrupt file also yields an empty bus, together with the load error so
// the caller can log it.
func Open(path string, opts Options) (*Bus, error) {
	b := New(opts)
	if path == "" {
		return b, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err := b.LoadState(path); err != nil {
		b.logger.Printf("bus: %v; starting with empty state", err)
		b.Reset()
		return b, err
	}
	return b, nil
}

func (b *Bus) snapshotLocked() snapshot {
	snap := snapshot{
		Agents:   make(map[string]models.Agent, len(b.agents)),
		Tasks:    make(map[string]models.Task, len(b.tasks)),
		Messages:   []models.Message{},
		AgentOrder: append([]string{}, b.agentSeq...),
	}
	for name, a := range b.agents {
		snap.Agents[name] = a.Clone()
	}
	for id, t := range b.tasks {
		snap.Tasks[id] = t.Clone()
	}
	for _, name := range b.agentSeq {
		for _, m := range b.mailboxes[name] {
			snap.Messages = append(snap.Messages, m.Clone())
		}
	}
	return snap
}

func (b *Bus) restoreLocked(snap snapshot) {
	b.resetLocked()

	agents := make([]models.Agent, 0, len(snap.Agents))
	for name, a := range snap.Agents {
		a.Name = name
		agents = append(agents, a)
	}
	rank := make(map[string]int, len(snap.AgentOrder))
	for i, name := range snap.AgentOrder {
		rank[name] = i
	}
	sort.SliceStable(agents, func(i, j int) bool {
		if len(rank) > 0 {
			return rank[agents[i].Name] < rank[agents[j].Name]
		}
		if !agents[i].RegisteredAt.Equal(agents[j].RegisteredAt) {
			return agents[i].RegisteredAt.Before(agents[j].RegisteredAt)
		}
		return agents[i].Name < agents[j].Name
	})
	for _, a := range agents {
		a := a.Clone()
		b.agents[a.Name] = &a
		b.agentSeq = append(b.agentSeq, a.Name)
	}

	tasks := make([]models.Task, 0, len(snap.Tasks))
	for id, t := range snap.Tasks {
		t.ID = id
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	for _, t := range tasks {
		t := t.Clone()
		b.tasks[t.ID] = &t
		b.taskSeq = append(b.taskSeq, t.ID)
	}

	for _, m := range snap.Messages {
		m := m.Clone()
		b.insertLocked(&m)
	}
}

// validate rejects snapshots that would break registry or mailbox invariants.
func (s snapshot) validate() error {
	if s.Agents == nil || s.Tasks == nil || s.Messages == nil {
		return fmt.Errorf("missing section")
	}
	if len(s.AgentOrder) > 0 {
		if len(s.AgentOrder) != len(s.Agents) {
			return fmt.Errorf("agent_order lists %d agents, snapshot has %d", len(s.AgentOrder), len(s.Agents))
		}
		listed := make(map[string]bool, len(s.AgentOrder))
		for i, name := range s.AgentOrder {
			if _, ok := s.Agents[name]; !ok || listed[name] {
				return fmt.Errorf("agent_order[%d]: unexpected agent %q", i, name)
			}
			listed[name] = true
		}
	}
	seen := make(map[string]bool, len(s.Messages))
	for i, m := range s.Messages {
		if m.ID == "" {
			return fmt.Errorf("messages[%d]: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("messages[%d]: duplicate id %s", i, m.ID)
		}
		seen[m.ID] = true
		if _, ok := s.Agents[m.Sender]; !ok {
			return fmt.Errorf("messages[%d]: unknown sender %q", i, m.Sender)
		}
		if _, ok := s.Agents[m.Recipient]; !ok {
			return fmt.Errorf("messages[%d]: unknown recipient %q", i, m.Recipient)
		}
		if !m.Priority.Valid() {
			return fmt.Errorf("messages[%d]: priority is required", i)
		}
	}
	for id, t := range s.Tasks {
		if t.ID != id {
			return fmt.Errorf("tasks[%s]: id %q does not match its key", id, t.ID)
		}
		for i, m := range t.Messages {
			if !m.Priority.Valid() {
				return fmt.Errorf("tasks[%s].messages[%d]: priority is required", id, i)
			}
		}
		if !t.Status.Valid() {
			return fmt.Errorf("tasks[%s]: status is required", id)
		}
		if !t.Priority.Valid() {
			return fmt.Errorf("tasks[%s]: priority is required", id)
		}
	}
	return nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place so a crash never leaves a half-written snapshot.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
