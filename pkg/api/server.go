// Package api serves the audit status HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/metrics"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/orchestrator"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// Server exposes session status, findings, coverage, and metrics over
// HTTP.
type Server struct {
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	httpSrv *http.Server
	log     *slog.Logger
}

// New creates the server and registers its routes.
func New(addr string, orch *orchestrator.Orchestrator, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		orch:    orch,
		metrics: m,
		log:     slog.With("component", "api"),
	}

	router.GET("/health", s.handleHealth)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/audits", s.handleStartAudit)
		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.GET("/sessions/:id/findings", s.handleFindings)
		v1.GET("/sessions/:id/coverage", s.handleCoverage)
		v1.POST("/sessions/:id/cancel", s.handleCancel)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.log.Info("API server stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Full(),
	})
}

type startAuditRequest struct {
	ProjectPath string  `json:"project_path" binding:"required"`
	MaxFiles    int     `json:"max_files"`
	All         bool    `json:"all"`
	Template    string  `json:"template"`
	MinConf     float64 `json:"min_confidence"`
}

func (s *Server) handleStartAudit(c *gin.Context) {
	var req startAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The audit outlives the request: gin cancels the request context as
	// soon as the 202 is written, so the session runs detached from it.
	ctx := context.WithoutCancel(c.Request.Context())
	session, err := s.orch.StartAudit(ctx, req.ProjectPath, orchestrator.Options{
		MaxFiles:      req.MaxFiles,
		All:           req.All,
		Template:      req.Template,
		MinConfidence: req.MinConf,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrTooManySessions) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": session.ID})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.orch.Sessions()
	out := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, gin.H{
			"id":           sess.ID,
			"project_path": sess.ProjectPath,
			"status":       sess.Status,
			"progress":     sess.Progress,
			"created_at":   sess.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.orch.Session(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleFindings(c *gin.Context) {
	session, err := s.orch.Session(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	stats, _ := s.orch.Stats(session.ID)
	c.JSON(http.StatusOK, gin.H{
		"findings": session.Findings,
		"stats":    stats,
	})
}

func (s *Server) handleCoverage(c *gin.Context) {
	report, err := s.orch.CoverageReport(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, orchestrator.ErrSessionNotFound) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
