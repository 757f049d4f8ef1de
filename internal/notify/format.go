package notify

import (
	"fmt"
	"strings"

	"github.com/zulandar/agentbus/internal/models"
)

// Sidebar colors by severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Alert is a bus event rendered for chat.
type Alert struct {
	Title    string
	Body     string
	Severity string // info, warning, error, success
	Color    string
	Fields   []Field
}

// Field is a key-value pair shown alongside an alert.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Kind returns the alert kind for ev. Task status events are split by
// their new status: "task_failed", "task_completed" or "task_status".
func Kind(ev models.Event) string {
	if ev.Kind != models.EventTaskStatus {
		return ev.Kind
	}
	switch {
	case strings.HasSuffix(ev.Detail, string(models.StatusFailed)):
		return "task_failed"
	case strings.HasSuffix(ev.Detail, string(models.StatusCompleted)):
		return "task_completed"
	default:
		return ev.Kind
	}
}

func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// Format renders ev as an Alert.
func Format(ev models.Event) Alert {
	var a Alert
	switch Kind(ev) {
	case models.EventConflict:
		a.Title = fmt.Sprintf("Mailbox conflict for %s", ev.Agent)
		a.Body = fmt.Sprintf("%s sent a competing %s message; resolved by %s.", ev.Counterpart, ev.Priority, ev.Detail)
		a.Severity = "warning"
	case models.EventEvicted:
		a.Title = fmt.Sprintf("Message evicted from %s", ev.Agent)
		a.Body = ev.Detail
		a.Severity = "warning"
	case models.EventDelegated:
		a.Title = fmt.Sprintf("Message delegated from %s to %s", ev.Counterpart, ev.Agent)
		a.Body = fmt.Sprintf("%s exceeded its load threshold.", ev.Counterpart)
		a.Severity = "info"
	case models.EventDegraded:
		a.Title = fmt.Sprintf("Delivery degraded for %s", ev.Agent)
		a.Body = "No alternate agent was available; the message was delivered to the overloaded recipient."
		a.Severity = "error"
	case models.EventTaskCreated:
		a.Title = fmt.Sprintf("Task %s created for %s", ev.TaskID, ev.Agent)
		a.Body = ev.Detail
		a.Severity = "info"
	case "task_failed":
		a.Title = fmt.Sprintf("Task %s failed", ev.TaskID)
		a.Body = ev.Detail
		a.Severity = "error"
	case "task_completed":
		a.Title = fmt.Sprintf("Task %s completed", ev.TaskID)
		a.Body = ev.Detail
		a.Severity = "success"
	default:
		a.Title = fmt.Sprintf("%s: %s", ev.Kind, ev.Agent)
		a.Body = ev.Detail
		a.Severity = "info"
	}
	a.Color = severityColor(a.Severity)

	if ev.Agent != "" {
		a.Fields = append(a.Fields, Field{Name: "Agent", Value: ev.Agent, Short: true})
	}
	if ev.Priority != "" {
		a.Fields = append(a.Fields, Field{Name: "Priority", Value: ev.Priority, Short: true})
	}
	if ev.TaskID != "" {
		a.Fields = append(a.Fields, Field{Name: "Task", Value: ev.TaskID, Short: true})
	}
	if ev.MessageID != "" {
		a.Fields = append(a.Fields, Field{Name: "Message", Value: ev.MessageID})
	}
	return a
}
