// Package front implements the orchestrator's external collaborator
// surface: an HTTP front door (gin) for task submission and control, and a
// websocket push channel (gorilla/websocket) streaming runtime events to
// subscribers, grounded on the teacher's pruned internal/webui package
// (reconstructed here from its surviving *_test.go files) and cobra_cli.go's
// command surface.
package front

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cklxx/taskgraph/internal/logging"
	"github.com/cklxx/taskgraph/internal/runtime/engine"
	"github.com/cklxx/taskgraph/internal/runtime/process"
	"github.com/cklxx/taskgraph/internal/store"
)

// Server binds the runtime engine and entity store to gin's router and the
// websocket Broker, exposing spec.md §6's seven operations.
type Server struct {
	engine *engine.Engine
	store  store.EntityStore
	broker *Broker
	logger *logging.ComponentLogger

	router *gin.Engine
}

// New builds a Server. Call Broker() and register it with
// engine.WithNotifier before Start, so push notifications reach subscribers
// from the very first task.
func New(eng *engine.Engine, st store.EntityStore) *Server {
	s := &Server{
		engine: eng,
		store:  st,
		broker: NewBroker(),
		logger: logging.FrontLogger,
	}
	s.router = s.newRouter()
	return s
}

// Broker exposes the websocket push broker so callers can wire it as the
// engine's Notifier (engine.WithNotifier(srv.Broker())).
func (s *Server) Broker() *Broker { return s.broker }

// Handler returns the http.Handler to pass to http.Server, letting the
// caller (cmd/orchestratord) own listener lifecycle, TLS, and shutdown.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
	}))

	api := r.Group("/api/v1")
	{
		api.POST("/tasks", s.submitTask)
		api.GET("/tasks/active", s.listActive)
		api.GET("/tasks/:id", s.getTaskStatus)
		api.GET("/trees/:id", s.getTaskTree)
		api.POST("/trees/:id/cancel", s.cancelTree)
		api.POST("/tasks/:id/step", s.step)
		api.PUT("/settings", s.updateRuntimeSettings)
	}
	r.GET("/ws/trees/:id", s.serveWS)
	r.GET("/ws", s.serveWS)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
	}
}

// submitTaskRequest mirrors process.SubtaskOptions, exposed over the wire.
type submitTaskRequest struct {
	Instruction       string         `json:"instruction" binding:"required"`
	ParentID          *int64         `json:"parent_id"`
	Process           string         `json:"process"`
	Priority          string         `json:"priority"`
	AssignedAgent     string         `json:"assigned_agent"`
	AdditionalContext []string       `json:"additional_context"`
	AdditionalTools   []string       `json:"additional_tools"`
	Metadata          map[string]any `json:"metadata"`
}

// SubmitTask handles POST /api/v1/tasks: creates a task (a tree root when
// parent_id is omitted, a subtask otherwise).
func (s *Server) submitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := process.SubtaskOptions{
		Process:           req.Process,
		Priority:          req.Priority,
		AssignedAgent:     req.AssignedAgent,
		AdditionalContext: req.AdditionalContext,
		AdditionalTools:   req.AdditionalTools,
		Metadata:          req.Metadata,
	}

	id, err := s.engine.CreateTask(c.Request.Context(), req.Instruction, req.ParentID, req.Process, opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task_id": id})
}

// CancelTree handles POST /api/v1/trees/:id/cancel.
func (s *Server) cancelTree(c *gin.Context) {
	treeID, err := pathInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.CancelTree(c.Request.Context(), treeID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tree_id": treeID, "status": "cancelled"})
}

type stepRequest struct {
	Action string `json:"action"`
}

// Step handles POST /api/v1/tasks/:id/step. action=continue (the default)
// releases a MANUAL_HOLD task; skip forces it to COMPLETED with
// {skipped: true}; abort forces it to FAILED with {aborted: true} — per
// spec.md §6's Front door→Core Step contract.
func (s *Server) step(c *gin.Context) {
	taskID, err := pathInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req stepRequest
	_ = c.ShouldBindJSON(&req)
	if req.Action == "" {
		req.Action = "continue"
	}

	var status string
	switch req.Action {
	case "continue":
		err = s.engine.StepTask(c.Request.Context(), taskID)
		status = "stepped"
	case "skip":
		err = s.engine.SkipTask(c.Request.Context(), taskID)
		status = "skipped"
	case "abort":
		err = s.engine.AbortTask(c.Request.Context(), taskID)
		status = "aborted"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown step action: " + req.Action})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": status})
}

type updateRuntimeSettingsRequest struct {
	Scope          string `json:"scope" binding:"required,oneof=task tree global"`
	TargetID       int64  `json:"target_id"`
	ManualStepping bool   `json:"manual_stepping"`
}

// UpdateRuntimeSettings handles PUT /api/v1/settings: currently the only
// mutable override is manual_stepping, scoped to a task, a tree, or global.
func (s *Server) updateRuntimeSettings(c *gin.Context) {
	var req updateRuntimeSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.ManualStepping {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "only enabling manual_stepping is supported"})
		return
	}

	var sc engine.Scope
	switch req.Scope {
	case "task":
		sc = engine.ScopeTask
	case "tree":
		sc = engine.ScopeTree
	default:
		sc = engine.ScopeGlobal
	}
	s.engine.EnableManualStepping(sc, req.TargetID)
	c.JSON(http.StatusOK, gin.H{"scope": req.Scope, "target_id": req.TargetID, "manual_stepping": true})
}

// ListActive handles GET /api/v1/tasks/active.
func (s *Server) listActive(c *gin.Context) {
	tasks, err := s.store.GetActiveTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "statistics": s.engine.Statistics()})
}

// GetTaskTree handles GET /api/v1/trees/:id, returning every task sharing
// treeID, in creation order.
func (s *Server) getTaskTree(c *gin.Context) {
	treeID, err := pathInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tasks, err := s.store.GetTasksByTreeID(c.Request.Context(), treeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(tasks) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "tree not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tree_id": treeID, "tasks": tasks})
}

// GetTaskStatus handles GET /api/v1/tasks/:id.
func (s *Server) getTaskStatus(c *gin.Context) {
	taskID, err := pathInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := s.store.GetTaskByID(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// serveWS handles GET /ws (all trees) and GET /ws/trees/:id (one tree).
func (s *Server) serveWS(c *gin.Context) {
	var treeID int64
	if idParam := c.Param("id"); idParam != "" {
		id, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tree id"})
			return
		}
		treeID = id
	}
	if err := s.broker.ServeWS(c.Writer, c.Request, treeID); err != nil {
		s.logger.Warn("websocket session ended: %v", err)
	}
}

func pathInt64(c *gin.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}
