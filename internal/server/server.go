// Package server exposes the capture pipeline over HTTP and streams its
// events to websocket subscribers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voicedesc/internal/config"
	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/usecase"
)

// Pipeline is the subset of the capture pipeline the HTTP surface drives.
type Pipeline interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (domain.StopResult, error)
	Abort() error
	EditDescription(text string)
	Status() domain.Status
}

// DataResponse is the success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type descriptionRequest struct {
	Text *string `json:"text" binding:"required"`
}

// Server wraps a gin engine and the underlying http.Server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	pipeline   Pipeline
	hub        *Hub
	upgrader   websocket.Upgrader
	log        *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	timeout  time.Duration
}

func New(cfg config.ServerConfig, pipeline Pipeline, hub *Hub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	log = log.WithComponent("http")
	engine.Use(requestID(), recovery(log), requestLogger(log))

	s := &Server{
		engine:   engine,
		pipeline: pipeline,
		hub:      hub,
		log:      log,
		timeout:  cfg.ShutdownTimeout,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/recording/start", s.handleStart)
	api.POST("/recording/stop", s.handleStop)
	api.POST("/recording/abort", s.handleAbort)
	api.PUT("/description", s.handleEditDescription)
	api.GET("/events", s.handleEvents)
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	s.log.Info("http server started", map[string]interface{}{"addr": listener.Addr().String()})
	return nil
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Stop disconnects event subscribers and shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down http server")
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, DataResponse{Data: s.pipeline.Status()})
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.pipeline.StartRecording(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: s.pipeline.Status()})
}

func (s *Server) handleStop(c *gin.Context) {
	result, err := s.pipeline.StopRecording(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: result})
}

func (s *Server) handleAbort(c *gin.Context) {
	if err := s.pipeline.Abort(); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleEditDescription(c *gin.Context) {
	var req descriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: errorBody{Code: "invalid_request", Message: "text is required"}})
		return
	}
	s.pipeline.EditDescription(*req.Text)
	c.JSON(http.StatusOK, DataResponse{Data: s.pipeline.Status()})
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.hub.serve(conn, func() Event {
		return Event{Type: EventStatus, Data: s.pipeline.Status()}
	})
}

func (s *Server) respondError(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrNoActiveSession) {
		c.JSON(http.StatusConflict, errorResponse{Error: errorBody{Code: "no_active_session", Message: err.Error()}})
		return
	}

	code := domain.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.ErrorCodeDeviceUnavailable:
		status = http.StatusServiceUnavailable
	case domain.ErrorCodeUploadFailed, domain.ErrorCodeUploadResolutionFailed,
		domain.ErrorCodeMalformedTranscription, domain.ErrorCodeTranscriptionService:
		status = http.StatusBadGateway
	}
	if code == "" {
		code = "internal"
	}
	s.log.Warn("pipeline request failed", map[string]interface{}{
		"code":       string(code),
		"error":      err.Error(),
		"request_id": c.GetString("request_id"),
	})
	c.JSON(status, errorResponse{Error: errorBody{Code: string(code), Message: domain.UserMessage(code)}})
}
