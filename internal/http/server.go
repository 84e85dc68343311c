// Package http provides the HTTP API for tierkbd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/access"
	"github.com/fyrsmithlabs/tierkb/internal/chat"
	"github.com/fyrsmithlabs/tierkb/internal/docstore"
	"github.com/fyrsmithlabs/tierkb/internal/userstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// SecretKey signs session tokens.
	SecretKey string

	// MaxFiles caps the number of files per upload request.
	MaxFiles int
}

// Knowledge is the slice of the knowledge service the handlers need.
type Knowledge interface {
	EnsureFresh(ctx context.Context, user *userstore.User) error
	Invalidate()
}

// Answerer produces an answer and a formatted elapsed time. Satisfied
// by the chat service.
type Answerer interface {
	Answer(ctx context.Context, user *userstore.User, query string, history *chat.History, kind chat.Kind) (string, string)
}

// Server provides the HTTP endpoints for tierkbd.
type Server struct {
	echo      *echo.Echo
	users     *userstore.Store
	docs      *docstore.Store
	knowledge Knowledge
	answerer  Answerer
	policy    *access.Policy
	logger    *zap.Logger
	config    *Config

	// histories holds one bounded chat history per username.
	historyMu sync.Mutex
	histories map[string]*chat.History
}

// NewServer creates a new HTTP server.
func NewServer(users *userstore.Store, docs *docstore.Store, knowledge Knowledge, answerer Answerer, policy *access.Policy, logger *zap.Logger, cfg *Config) (*Server, error) {
	if users == nil || docs == nil || knowledge == nil || answerer == nil || policy == nil {
		return nil, fmt.Errorf("all services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil || cfg.SecretKey == "" {
		return nil, fmt.Errorf("config with a secret key is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5001
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 2
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		users:     users,
		docs:      docs,
		knowledge: knowledge,
		answerer:  answerer,
		policy:    policy,
		logger:    logger,
		config:    cfg,
		histories: make(map[string]*chat.History),
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics are unauthenticated.
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/login", s.handleLogin)

	authed := v1.Group("", s.requireSession)
	authed.POST("/logout", s.handleLogout)
	authed.POST("/chat", s.handleChat)
	authed.POST("/upload", s.handleUpload)
}

// history returns the caller's bounded history ring, creating it on
// first use.
func (s *Server) history(username string) *chat.History {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	h, ok := s.histories[username]
	if !ok {
		h = chat.NewHistory(0)
		s.histories[username] = h
	}
	return h
}

// dropHistory forgets the caller's conversation on logout.
func (s *Server) dropHistory(username string) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	delete(s.histories, username)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
