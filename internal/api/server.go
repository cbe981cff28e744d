// Package api exposes the orchestrator's operations over a thin Gin
// HTTP surface, grounded on the teacher's internal/web/handlers package
// for handler shape and gin.Context error-response conventions. It is a
// convenience surface, not a wire-protocol specification: no auth,
// content negotiation, or versioning is implemented.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cortexflow/orchestra/internal/orchestrator"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int64
	TLSEnabled   bool
	TLSCertFile  string
	TLSKeyFile   string
	Environment  string
}

// DefaultServerConfig returns sane defaults for local development.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		MaxBodySize:  10 * 1024 * 1024,
		Environment:  "development",
	}
}

// Services holds the orchestrator dependencies the HTTP handlers call
// into.
type Services struct {
	Orchestrator   *orchestrator.Orchestrator
	CreateWorkflow *orchestrator.CreateWorkflowUseCase
	Workflows      workflow.Repository
}

// Server is the orchestrator's REST API server.
type Server struct {
	router   *gin.Engine
	server   *http.Server
	config   *ServerConfig
	services *Services
}

// NewServer constructs a Server with its middleware pipeline and routes
// already wired.
func NewServer(config *ServerConfig, services *Services) *Server {
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	s := &Server{router: router, config: config, services: services}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware())
	s.router.Use(CorrelationIDMiddleware())
	s.router.Use(LoggingMiddleware())
	s.router.Use(SecurityHeadersMiddleware())
	s.router.Use(CORSMiddleware())
	s.router.Use(ValidateContentTypeMiddleware())
	s.router.Use(RequestSizeLimitMiddleware(s.config.MaxBodySize))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	s.router.POST("/workflows", s.createWorkflow)
	s.router.GET("/workflows", s.listWorkflows)
	s.router.GET("/workflows/:id", s.getWorkflow)
	s.router.POST("/workflows/:id/start", s.startWorkflow)
	s.router.POST("/workflows/:id/pause", s.pauseWorkflow)
	s.router.POST("/workflows/:id/resume", s.resumeWorkflow)
	s.router.POST("/workflows/:id/cancel", s.cancelWorkflow)

	s.router.POST("/tasks/:id/completed", s.taskCompleted)
	s.router.POST("/tasks/:id/failed", s.taskFailed)
}

// Start runs the HTTP server until it is stopped or fails.
func (s *Server) Start() error {
	log.WithFields(log.Fields{"host": s.config.Host, "port": s.config.Port}).Info("starting api server")
	if s.config.TLSEnabled {
		return s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	}
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("stopping api server")
	return s.server.Shutdown(ctx)
}

// Router returns the underlying Gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	SuccessResponse(c, HealthStatus{Status: "healthy", Timestamp: time.Now(), Version: "v1"})
}

func (s *Server) createWorkflow(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		ErrorJSON(c, 400, ErrorCodeBadRequest, "failed to read request body", nil)
		return
	}

	req, err := orchestrator.DecodeWorkflowRequest(body)
	if err != nil {
		writeError(c, err)
		return
	}

	w, err := s.services.CreateWorkflow.Execute(requestContext(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(201, Response{
		Success: true,
		Data:    newWorkflowDTO(w),
		Metadata: &Metadata{
			Timestamp: time.Now(),
			RequestID: correlationID(c),
			Version:   "v1",
		},
	})
}

func (s *Server) listWorkflows(c *gin.Context) {
	limit, offset := paginationParams(c)
	workflows, err := s.services.Workflows.GetAll(requestContext(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	dtos := make([]workflowDTO, len(workflows))
	for i, w := range workflows {
		dtos[i] = newWorkflowDTO(w)
	}
	SuccessListResponse(c, dtos, PaginationInfo{Limit: limit, Offset: offset, Count: len(dtos)})
}

func (s *Server) getWorkflow(c *gin.Context) {
	id, ok := parseWorkflowID(c)
	if !ok {
		return
	}
	w, err := s.services.Workflows.GetByID(requestContext(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	SuccessResponse(c, newWorkflowDTO(w))
}

func (s *Server) startWorkflow(c *gin.Context) {
	s.transition(c, s.services.Orchestrator.Start)
}

func (s *Server) pauseWorkflow(c *gin.Context) {
	s.transition(c, s.services.Orchestrator.Pause)
}

func (s *Server) resumeWorkflow(c *gin.Context) {
	s.transition(c, s.services.Orchestrator.Resume)
}

func (s *Server) cancelWorkflow(c *gin.Context) {
	s.transition(c, s.services.Orchestrator.Cancel)
}

func (s *Server) transition(c *gin.Context, op func(context.Context, uuid.UUID) (*workflow.Workflow, error)) {
	id, ok := parseWorkflowID(c)
	if !ok {
		return
	}
	w, err := op(requestContext(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	SuccessResponse(c, newWorkflowDTO(w))
}

type taskCompletedRequest struct {
	Result map[string]any `json:"result"`
}

func (s *Server) taskCompleted(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	var body taskCompletedRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		ErrorJSON(c, 400, ErrorCodeBadRequest, "invalid request body", nil)
		return
	}
	if err := s.services.Orchestrator.OnTaskCompleted(requestContext(c), id, body.Result); err != nil {
		writeError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"accepted": true})
}

type taskFailedRequest struct {
	Error string `json:"error"`
}

func (s *Server) taskFailed(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	var body taskFailedRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		ErrorJSON(c, 400, ErrorCodeBadRequest, "invalid request body", nil)
		return
	}
	if err := s.services.Orchestrator.OnTaskFailed(requestContext(c), id, body.Error); err != nil {
		writeError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"accepted": true})
}

func parseWorkflowID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorJSON(c, 400, ErrorCodeBadRequest, "invalid workflow id", nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func parseTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorJSON(c, 400, ErrorCodeBadRequest, "invalid task id", nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func paginationParams(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// requestContext returns the request's own context. The correlation id
// CorrelationIDMiddleware records is not copied onto it, so the
// orchestrator's log lines do not carry that id.
func requestContext(c *gin.Context) context.Context {
	return c.Request.Context()
}
