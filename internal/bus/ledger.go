package bus

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zulandar/agentbus/internal/models"
)

// CreateTaskRequest holds parameters for a new task.
type CreateTaskRequest struct {
	Description  string
	AssignedTo   string
	CreatedBy    string
	Priority     models.Priority // zero means MEDIUM
	Deadline     *time.Time
	Dependencies []string
	Metadata     map[string]any
}

// TaskFilter narrows QueryTasks. Empty fields match everything.
type TaskFilter struct {
	AssignedTo string
	Status     models.TaskStatus
	Limit      int // <= 0 means DefaultQueryLimit
}

// ValidTransitions is the forward-only state machine applied when
// Options.StrictTransitions is set.
var ValidTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.StatusPending:    {models.StatusInProgress, models.StatusDelegated, models.StatusFailed},
	models.StatusDelegated:  {models.StatusPending, models.StatusInProgress, models.StatusFailed},
	models.StatusInProgress: {models.StatusCompleted, models.StatusFailed, models.StatusDelegated},
	models.StatusCompleted:  {},
	models.StatusFailed:     {},
}

const maxIDAttempts = 16

// CreateTask opens a PENDING task and notifies the assignee with a
// "New task assigned" message, which becomes the first entry of the task's
// message history.
func (b *Bus) CreateTask(req CreateTaskRequest) (models.Task, error) {
	var out models.Task
	err := b.withLock(func() error {
		t, err := b.newTaskLocked(req)
		if err != nil {
			return fmt.Errorf("bus: create task: %w", err)
		}

		notice := b.newMessage(t.CreatedBy, t.AssignedTo,
			"New task assigned: "+t.Description,
			t.Priority,
			map[string]any{models.MetaTaskID: t.ID},
		)
		notice.TaskID = t.ID
		if _, err := b.sendLocked(notice); err != nil {
			return fmt.Errorf("bus: create task: %w", err)
		}
		t.Messages = append(t.Messages, notice.Clone())
		out = t.Clone()
		return nil
	})
	return out, err
}

// newTaskLocked validates both parties and stores a PENDING task.
func (b *Bus) newTaskLocked(req CreateTaskRequest) (*models.Task, error) {
	if req.Description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if _, err := b.agentLocked(req.AssignedTo); err != nil {
		return nil, fmt.Errorf("assignee: %w", err)
	}
	if _, err := b.agentLocked(req.CreatedBy); err != nil {
		return nil, fmt.Errorf("creator: %w", err)
	}
	if req.Priority == 0 {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %d", ErrInvalidInput, int(req.Priority))
	}

	id, err := b.generateTaskIDLocked()
	if err != nil {
		return nil, err
	}

	t := &models.Task{
		ID:           id,
		Description:  req.Description,
		AssignedTo:   req.AssignedTo,
		CreatedBy:    req.CreatedBy,
		Priority:     req.Priority,
		Status:       models.StatusPending,
		CreatedAt:    b.now(),
		Dependencies: append([]string{}, req.Dependencies...),
		Metadata:     copyMeta(req.Metadata),
		Messages:     []models.Message{},
	}
	if req.Deadline != nil {
		d := *req.Deadline
		t.Deadline = &d
	}

	b.tasks[id] = t
	b.taskSeq = append(b.taskSeq, id)
	b.touchLocked(req.CreatedBy)
	b.logger.Printf("bus: task %s created for %s", id, t.AssignedTo)
	b.emit(models.Event{
		Kind:        models.EventTaskCreated,
		Agent:       t.AssignedTo,
		Counterpart: t.CreatedBy,
		TaskID:      id,
		Priority:    t.Priority.String(),
		Detail:      t.Description,
	})
	return t, nil
}

// UpdateTaskStatus overwrites a task's status. Without strict transitions
// any status may follow any other.
func (b *Bus) UpdateTaskStatus(taskID string, status models.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("bus: update task: %w: status %q", ErrInvalidInput, status)
	}
	return b.withLock(func() error {
		t, ok := b.tasks[taskID]
		if !ok {
			if b.opts.IgnoreUnknownTask {
				return nil
			}
			return fmt.Errorf("bus: update task: %w: %s", ErrUnknownTask, taskID)
		}
		if b.opts.StrictTransitions && t.Status != status && !isValidTransition(t.Status, status) {
			return fmt.Errorf("bus: update task %s: %w from %s to %s; valid: %v",
				taskID, ErrInvalidTransition, t.Status, status, ValidTransitions[t.Status])
		}

		prev := t.Status
		t.Status = status
		b.logger.Printf("bus: task %s status %s -> %s", taskID, prev, status)
		b.emit(models.Event{
			Kind:   models.EventTaskStatus,
			Agent:  t.AssignedTo,
			TaskID: taskID,
			Detail: fmt.Sprintf("%s -> %s", prev, status),
		})
		return nil
	})
}

// Task returns a copy of one task.
func (b *Bus) Task(taskID string) (models.Task, error) {
	var out models.Task
	err := b.withLock(func() error {
		t, ok := b.tasks[taskID]
		if !ok {
			return fmt.Errorf("bus: get task: %w: %s", ErrUnknownTask, taskID)
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

// QueryTasks returns matching tasks, most recently created first.
func (b *Bus) QueryTasks(f TaskFilter) []models.Task {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	var out []models.Task
	b.withLock(func() error {
		for i := len(b.taskSeq) - 1; i >= 0 && len(out) < limit; i-- {
			t := b.tasks[b.taskSeq[i]]
			if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
				continue
			}
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			out = append(out, t.Clone())
		}
		return nil
	})
	return out
}

func isValidTransition(from, to models.TaskStatus) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// generateTaskIDLocked returns an unused id in task-xxxxx form.
func (b *Bus) generateTaskIDLocked() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate task id: %w", err)
		}
		id := "task-" + hex.EncodeToString(buf)[:5]
		if _, taken := b.tasks[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate task id: no free id after %d attempts", maxIDAttempts)
}
