// Package api exposes the operator's HTTP surface: ticket and proposal
// inspection, approvals, and the safety controls. It is a thin layer over
// the stores and the dispatcher; all policy lives below it.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vigil-ops/vigil/pkg/dispatch"
	"github.com/vigil-ops/vigil/pkg/safety"
	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/version"
)

// Server is the operator HTTP API.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	tickets    *store.TicketStore
	actions    *store.ActionStore
	audit      *store.AuditStore
	dispatcher *dispatch.Dispatcher
	safety     *safety.Controller
}

// NewServer creates the API server and registers all routes.
func NewServer(port int, tickets *store.TicketStore, actions *store.ActionStore,
	audit *store.AuditStore, dispatcher *dispatch.Dispatcher, sc *safety.Controller) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:     engine,
		tickets:    tickets,
		actions:    actions,
		audit:      audit,
		dispatcher: dispatcher,
		safety:     sc,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.healthHandler)

	api := s.engine.Group("/api")
	{
		api.GET("/tickets", s.listTicketsHandler)
		api.GET("/tickets/:id", s.getTicketHandler)
		api.POST("/tickets/:id/resolve", s.resolveTicketHandler)
		api.POST("/tickets/:id/hold", s.holdTicketHandler)
		api.POST("/tickets/:id/unhold", s.unholdTicketHandler)

		api.GET("/actions", s.listActionsHandler)
		api.GET("/actions/:id", s.getActionHandler)
		api.GET("/actions/:id/audit", s.actionAuditHandler)
		api.POST("/actions/:id/approve", s.approveActionHandler)
		api.POST("/actions/:id/reject", s.rejectActionHandler)
		api.POST("/actions/:id/cancel", s.cancelActionHandler)

		api.GET("/safety/mode", s.getModeHandler)
		api.POST("/safety/mode", s.setModeHandler)
		api.POST("/safety/kill-switch", s.killSwitchHandler)
	}
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	slog.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Full(),
		"mode":    s.safety.Mode(),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
