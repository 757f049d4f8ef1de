package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/db"
	"github.com/zulandar/agentbus/internal/journal"
	"github.com/zulandar/agentbus/internal/models"
)

var quiet = log.New(io.Discard, "", 0)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	bus    *bus.Bus
	router *gin.Engine
	path   string
}

func setup(t *testing.T, opts bus.Options, withJournal bool) *testServer {
	t.Helper()
	var j *journal.Journal
	if withJournal {
		gdb, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "journal.db"))
		if err != nil {
			t.Fatalf("open journal: %v", err)
		}
		j = journal.New(gdb, quiet)
		opts.Sink = j
	}
	opts.Logger = quiet
	b := bus.New(opts)
	path := filepath.Join(t.TempDir(), "state.json")
	return &testServer{
		bus:    b,
		path:   path,
		router: newRouter(StartOpts{Bus: b, Journal: j, StatePath: path, Logger: quiet}),
	}
}

func (ts *testServer) do(t *testing.T, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error apiError `json:"error"`
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	got := decode[errorBody](t, w)
	if got.Error.Code != code {
		t.Errorf("error code = %q, want %q", got.Error.Code, code)
	}
	if got.Error.Message == "" {
		t.Error("error message is empty")
	}
}

func (ts *testServer) register(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		w := ts.do(t, http.MethodPost, "/api/agents", map[string]any{"name": n, "capabilities": []string{"general"}})
		if w.Code != http.StatusCreated {
			t.Fatalf("register %s: status %d: %s", n, w.Code, w.Body.String())
		}
	}
}

func TestStart_NilBus(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil {
		t.Fatal("expected error for nil bus")
	}
	if !strings.Contains(err.Error(), "bus is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "bus is required")
	}
}

func TestHealthz(t *testing.T) {
	ts := setup(t, bus.Options{Strategy: bus.StrategyRoundRobin}, false)
	w := ts.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["strategy"] != "round_robin" || body["journal"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestAgents_RegisterAndList(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	ts.register(t, "lead", "dev")

	list := decode[[]map[string]any](t, ts.do(t, http.MethodGet, "/api/agents", nil))
	if len(list) != 2 || list[0]["name"] != "lead" || list[1]["name"] != "dev" {
		t.Fatalf("agents = %v", list)
	}

	w := ts.do(t, http.MethodGet, "/api/agents/dev", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[map[string]any](t, w); got["pending"] != float64(0) {
		t.Errorf("pending = %v, want 0", got["pending"])
	}

	expectError(t, ts.do(t, http.MethodGet, "/api/agents/ghost", nil), http.StatusNotFound, "unknown_agent")
	expectError(t, ts.do(t, http.MethodPost, "/api/agents", map[string]any{"capabilities": []string{}}), http.StatusBadRequest, "invalid_input")
}

func TestMessages_SendPendingPoll(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	ts.register(t, "lead", "dev")

	for _, p := range []string{"LOW", "URGENT"} {
		w := ts.do(t, http.MethodPost, "/api/messages", map[string]any{
			"sender": "lead", "recipient": "dev", "content": "msg " + p, "priority": p,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("send: status %d: %s", w.Code, w.Body.String())
		}
		if res := decode[bus.SendResult](t, w); res.MessageID == "" || res.Recipient != "dev" {
			t.Errorf("SendResult = %+v", res)
		}
	}

	pending := decode[[]models.Message](t, ts.do(t, http.MethodGet, "/api/agents/dev/pending", nil))
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	polled := decode[[]models.Message](t, ts.do(t, http.MethodPost, "/api/agents/dev/poll?limit=1", nil))
	if len(polled) != 1 || polled[0].Priority != models.PriorityUrgent {
		t.Fatalf("polled = %+v, want the URGENT message", polled)
	}

	rest := decode[[]models.Message](t, ts.do(t, http.MethodPost, "/api/agents/dev/poll", nil))
	if len(rest) != 1 {
		t.Errorf("second poll = %d messages, want 1", len(rest))
	}
	empty := ts.do(t, http.MethodPost, "/api/agents/dev/poll", nil)
	if strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Errorf("empty poll body = %s, want []", empty.Body.String())
	}
}

func TestMessages_Errors(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	ts.register(t, "lead")

	expectError(t, ts.do(t, http.MethodPost, "/api/messages", map[string]any{
		"sender": "lead", "recipient": "ghost", "content": "x",
	}), http.StatusNotFound, "unknown_agent")

	expectError(t, ts.do(t, http.MethodPost, "/api/messages", map[string]any{
		"sender": "lead", "recipient": "lead", "content": "x", "priority": "SEVERE",
	}), http.StatusBadRequest, "invalid_input")

	expectError(t, ts.do(t, http.MethodPost, "/api/agents/lead/poll?limit=abc", nil), http.StatusBadRequest, "invalid_input")
	expectError(t, ts.do(t, http.MethodPost, "/api/messages/nope/read", nil), http.StatusNotFound, "unknown_message")
}

func TestMessages_MarkReadSkipsUnreadPoll(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	ts.register(t, "lead", "dev")

	res := decode[bus.SendResult](t, ts.do(t, http.MethodPost, "/api/messages", map[string]any{
		"sender": "lead", "recipient": "dev", "content": "x",
	}))
	if w := ts.do(t, http.MethodPost, "/api/messages/"+res.MessageID+"/read", nil); w.Code != http.StatusNoContent {
		t.Fatalf("mark read: status %d", w.Code)
	}
	polled := decode[[]models.Message](t, ts.do(t, http.MethodPost, "/api/agents/dev/poll?unread_only=true", nil))
	if len(polled) != 0 {
		t.Errorf("unread poll returned %d, want 0", len(polled))
	}
}

func TestTasks_Lifecycle(t *testing.T) {
	ts := setup(t, bus.Options{StrictTransitions: true}, false)
	ts.register(t, "lead", "dev")

	w := ts.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"description": "write release notes", "assigned_to": "dev", "created_by": "lead",
		"priority": "HIGH", "deadline": "2026-12-01T00:00:00Z",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", w.Code, w.Body.String())
	}
	task := decode[models.Task](t, w)
	if task.Status != models.StatusPending || task.Priority != models.PriorityHigh || task.Deadline == nil {
		t.Fatalf("task = %+v", task)
	}

	got := decode[models.Task](t, ts.do(t, http.MethodGet, "/api/tasks/"+task.ID, nil))
	if got.Description != "write release notes" || len(got.Messages) != 1 {
		t.Errorf("task detail = %+v", got)
	}

	expectError(t, ts.do(t, http.MethodPut, "/api/tasks/"+task.ID+"/status", map[string]any{"status": "COMPLETED"}),
		http.StatusConflict, "invalid_transition")

	w = ts.do(t, http.MethodPut, "/api/tasks/"+task.ID+"/status", map[string]any{"status": "IN_PROGRESS"})
	if w.Code != http.StatusOK {
		t.Fatalf("status update: %d %s", w.Code, w.Body.String())
	}
	if decode[models.Task](t, w).Status != models.StatusInProgress {
		t.Error("status not updated")
	}

	list := decode[[]models.Task](t, ts.do(t, http.MethodGet, "/api/tasks?assigned_to=dev&status=in_progress", nil))
	if len(list) != 1 || list[0].ID != task.ID {
		t.Errorf("filtered tasks = %+v", list)
	}
	none := decode[[]models.Task](t, ts.do(t, http.MethodGet, "/api/tasks?status=FAILED", nil))
	if len(none) != 0 {
		t.Errorf("FAILED tasks = %d, want 0", len(none))
	}
}

func TestTasks_Errors(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	ts.register(t, "lead")

	expectError(t, ts.do(t, http.MethodGet, "/api/tasks/task-zzzzz", nil), http.StatusNotFound, "unknown_task")
	expectError(t, ts.do(t, http.MethodPut, "/api/tasks/task-zzzzz/status", map[string]any{"status": "FAILED"}),
		http.StatusNotFound, "unknown_task")
	expectError(t, ts.do(t, http.MethodPut, "/api/tasks/task-zzzzz/status", map[string]any{"status": "DONE"}),
		http.StatusBadRequest, "invalid_input")
	expectError(t, ts.do(t, http.MethodGet, "/api/tasks?status=DONE", nil), http.StatusBadRequest, "invalid_input")
	expectError(t, ts.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"description": "x", "assigned_to": "ghost", "created_by": "lead",
	}), http.StatusNotFound, "unknown_agent")
}

func TestTasks_IgnoreUnknown(t *testing.T) {
	ts := setup(t, bus.Options{IgnoreUnknownTask: true}, false)
	w := ts.do(t, http.MethodPut, "/api/tasks/task-zzzzz/status", map[string]any{"status": "FAILED"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestState_SaveAndLoad(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	ts.register(t, "lead", "dev")

	if w := ts.do(t, http.MethodPost, "/api/state/save", nil); w.Code != http.StatusOK {
		t.Fatalf("save: %d %s", w.Code, w.Body.String())
	}
	ts.register(t, "late")

	w := ts.do(t, http.MethodPost, "/api/state/load", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("load: %d %s", w.Code, w.Body.String())
	}
	if n := len(ts.bus.Agents()); n != 2 {
		t.Errorf("agents after load = %d, want 2", n)
	}

	if err := os.WriteFile(ts.path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectError(t, ts.do(t, http.MethodPost, "/api/state/load", nil), http.StatusInternalServerError, "persistence")
	if n := len(ts.bus.Agents()); n != 2 {
		t.Errorf("agents after failed load = %d, want 2 (state kept)", n)
	}
}

func TestState_Disabled(t *testing.T) {
	b := bus.New(bus.Options{Logger: quiet})
	router := newRouter(StartOpts{Bus: b, Logger: quiet})
	req := httptest.NewRequest(http.MethodPost, "/api/state/save", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	expectError(t, w, http.StatusServiceUnavailable, "state_disabled")
}

func TestActivity(t *testing.T) {
	ts := setup(t, bus.Options{}, true)
	ts.register(t, "lead", "dev")
	ts.do(t, http.MethodPost, "/api/messages", map[string]any{"sender": "lead", "recipient": "dev", "content": "x"})

	events := decode[[]models.Event](t, ts.do(t, http.MethodGet, "/api/activity?limit=10", nil))
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Kind != models.EventSent {
		t.Errorf("newest event = %s, want sent", events[0].Kind)
	}

	filtered := decode[[]models.Event](t, ts.do(t, http.MethodGet, "/api/activity?kind=registered&agent=dev", nil))
	if len(filtered) != 1 {
		t.Errorf("filtered events = %d, want 1", len(filtered))
	}
}

func TestActivity_Disabled(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	expectError(t, ts.do(t, http.MethodGet, "/api/activity", nil), http.StatusServiceUnavailable, "journal_disabled")
}

func TestActivityCounts(t *testing.T) {
	ts := setup(t, bus.Options{}, true)
	ts.register(t, "lead", "dev")
	ts.do(t, http.MethodPost, "/api/messages", map[string]any{"sender": "lead", "recipient": "dev", "content": "x"})

	type counts struct {
		Total int64            `json:"total"`
		Kinds map[string]int64 `json:"kinds"`
	}
	got := decode[counts](t, ts.do(t, http.MethodGet, "/api/activity/counts", nil))
	if got.Total != 3 {
		t.Errorf("total = %d, want 3", got.Total)
	}
	if got.Kinds[models.EventRegistered] != 2 || got.Kinds[models.EventSent] != 1 {
		t.Errorf("kinds = %v", got.Kinds)
	}
}

func TestActivityCounts_Disabled(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	expectError(t, ts.do(t, http.MethodGet, "/api/activity/counts", nil), http.StatusServiceUnavailable, "journal_disabled")
}

func TestSSE_ConnectedWithoutJournal(t *testing.T) {
	ts := setup(t, bus.Options{}, false)
	w := ts.do(t, http.MethodGet, "/api/events", nil)
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "event: connected") {
		t.Errorf("body = %q, want connected event", w.Body.String())
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	writeSSE(&buf, "sent", models.Event{ID: 7, Kind: models.EventSent, Agent: "a"})
	got := buf.String()
	if !strings.HasPrefix(got, "event: sent\ndata: {") || !strings.HasSuffix(got, "}\n\n") {
		t.Errorf("writeSSE = %q", got)
	}
	if !strings.Contains(got, `"id":7`) {
		t.Errorf("writeSSE = %q, want id field", got)
	}
}
