package dashboard

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/journal"
	"github.com/zulandar/agentbus/internal/models"
)

type server struct {
	bus       *bus.Bus
	journal   *journal.Journal
	statePath string
	logger    *log.Logger
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")

	api.GET("/agents", s.handleAgentList)
	api.POST("/agents", s.handleAgentRegister)
	api.GET("/agents/:name", s.handleAgentDetail)
	api.GET("/agents/:name/pending", s.handlePending)
	api.POST("/agents/:name/poll", s.handlePoll)

	api.POST("/messages", s.handleSend)
	api.POST("/messages/:id/read", s.handleMarkRead)

	api.GET("/tasks", s.handleTaskList)
	api.POST("/tasks", s.handleTaskCreate)
	api.GET("/tasks/:id", s.handleTaskDetail)
	api.PUT("/tasks/:id/status", s.handleTaskStatus)

	api.POST("/state/save", s.handleStateSave)
	api.POST("/state/load", s.handleStateLoad)

	api.GET("/activity", s.handleActivity)
	api.GET("/activity/counts", s.handleActivityCounts)
	api.GET("/events", s.handleSSE)
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"strategy": s.bus.Strategy(),
		"agents":   len(s.bus.Agents()),
		"journal":  s.journal != nil,
	})
}

// agentView adds the live mailbox size to a registry entry.
type agentView struct {
	models.Agent
	Pending int `json:"pending"`
}

func (s *server) view(a models.Agent) agentView {
	pending, _ := s.bus.Pending(a.Name)
	return agentView{Agent: a, Pending: len(pending)}
}

func (s *server) handleAgentList(c *gin.Context) {
	agents := s.bus.Agents()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, s.view(a))
	}
	c.JSON(http.StatusOK, out)
}

type registerRequest struct {
	Name         string         `json:"name" binding:"required"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *server) handleAgentRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.bus.Register(req.Name, req.Capabilities, req.Metadata); err != nil {
		writeError(c, err)
		return
	}
	a, err := s.bus.Agent(req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(a))
}

func (s *server) handleAgentDetail(c *gin.Context) {
	a, err := s.bus.Agent(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(a))
}

func (s *server) handlePending(c *gin.Context) {
	msgs, err := s.bus.Pending(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(msgs))
}

// handlePoll drains the mailbox, so it is a POST.
func (s *server) handlePoll(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}
	msgs, err := s.bus.Poll(c.Param("name"), bus.PollOptions{
		UnreadOnly: c.Query("unread_only") == "true",
		Limit:      limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(msgs))
}

type sendRequest struct {
	Sender      string          `json:"sender" binding:"required"`
	Recipient   string          `json:"recipient" binding:"required"`
	Content     string          `json:"content"`
	Priority    models.Priority `json:"priority"`
	Metadata    map[string]any  `json:"metadata"`
	TaskID      string          `json:"task_id"`
	RequiresAck bool            `json:"requires_ack"`
	CreateTask  bool            `json:"create_task"`
}

func (s *server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.bus.Send(bus.SendRequest{
		Sender:      req.Sender,
		Recipient:   req.Recipient,
		Content:     req.Content,
		Priority:    req.Priority,
		Metadata:    req.Metadata,
		TaskID:      req.TaskID,
		RequiresAck: req.RequiresAck,
		CreateTask:  req.CreateTask,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *server) handleMarkRead(c *gin.Context) {
	if err := s.bus.MarkRead(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleTaskList(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}
	f := bus.TaskFilter{AssignedTo: c.Query("assigned_to"), Limit: limit}
	if raw := c.Query("status"); raw != "" {
		st, err := models.ParseTaskStatus(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		f.Status = st
	}
	c.JSON(http.StatusOK, nonNil(s.bus.QueryTasks(f)))
}

type taskRequest struct {
	Description  string          `json:"description" binding:"required"`
	AssignedTo   string          `json:"assigned_to" binding:"required"`
	CreatedBy    string          `json:"created_by" binding:"required"`
	Priority     models.Priority `json:"priority"`
	Deadline     *time.Time      `json:"deadline"`
	Dependencies []string        `json:"dependencies"`
	Metadata     map[string]any  `json:"metadata"`
}

func (s *server) handleTaskCreate(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	task, err := s.bus.CreateTask(bus.CreateTaskRequest{
		Description:  req.Description,
		AssignedTo:   req.AssignedTo,
		CreatedBy:    req.CreatedBy,
		Priority:     req.Priority,
		Deadline:     req.Deadline,
		Dependencies: req.Dependencies,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *server) handleTaskDetail(c *gin.Context) {
	task, err := s.bus.Task(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type statusRequest struct {
	Status models.TaskStatus `json:"status" binding:"required"`
}

func (s *server) handleTaskStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	if err := s.bus.UpdateTaskStatus(id, req.Status); err != nil {
		writeError(c, err)
		return
	}
	task, err := s.bus.Task(id)
	if err != nil {
		// The bus may be configured to accept updates for missing ids.
		c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *server) handleStateSave(c *gin.Context) {
	if !s.requireStatePath(c) {
		return
	}
	if err := s.bus.SaveState(s.statePath); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": s.statePath})
}

// handleStateLoad replaces state from the snapshot file. A bad file leaves
// the running state untouched.
func (s *server) handleStateLoad(c *gin.Context) {
	if !s.requireStatePath(c) {
		return
	}
	if err := s.bus.LoadState(s.statePath); err != nil {
		s.logger.Printf("dashboard: %v", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"path":   s.statePath,
		"agents": len(s.bus.Agents()),
	})
}

func (s *server) requireStatePath(c *gin.Context) bool {
	if s.statePath == "" {
		abort(c, http.StatusServiceUnavailable, "state_disabled", "no state path configured")
		return false
	}
	return true
}

func (s *server) handleActivity(c *gin.Context) {
	if s.journal == nil {
		abort(c, http.StatusServiceUnavailable, "journal_disabled", "activity journal is not configured")
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}
	events, err := s.journal.Query(journal.Filter{
		Agent:  c.Query("agent"),
		Kind:   c.Query("kind"),
		TaskID: c.Query("task_id"),
		Limit:  limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(events))
}

func (s *server) handleActivityCounts(c *gin.Context) {
	if s.journal == nil {
		abort(c, http.StatusServiceUnavailable, "journal_disabled", "activity journal is not configured")
		return
	}
	counts, err := s.journal.Count()
	if err != nil {
		writeError(c, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "kinds": counts})
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
