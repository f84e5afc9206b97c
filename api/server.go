// Package api serves a finished backtest result over HTTP. The server is
// read-only: it holds one Result and exposes its slices and summary.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/seenimoa/dispersion/internal/backtest"
	"github.com/seenimoa/dispersion/internal/config"
	"github.com/seenimoa/dispersion/internal/report"
)

// Server is the HTTP results server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	result *backtest.Result
	logger *zap.Logger
	start  time.Time
}

// NewServer creates a configured server around a finished result.
func NewServer(cfg *config.Config, result *backtest.Result, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		result: result,
		logger: logger,
		start:  time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server and blocks until SIGINT/SIGTERM,
// then shuts down gracefully.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("results server listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	s.logger.Info("shutting down results server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// buildRouter configures routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/summary", s.handleSummary)
		r.Get("/summary/text", s.handleSummaryText)
		r.Get("/equity", s.handleEquity)
		r.Get("/trades", s.handleTrades)
		r.Get("/signals", s.handleSignals)
		r.Get("/risk", s.handleRisk)
		r.Get("/result", s.handleResult)
	})

	return r
}

// ════════════════════════════════════════════════════════════════════
// Handlers
// ════════════════════════════════════════════════════════════════════

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status": "ok",
			"uptime": time.Since(s.start).Round(time.Second).String(),
		},
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.result == nil {
		writeError(w, http.StatusNotFound, "no backtest result loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.result.Summary})
}

func (s *Server) handleSummaryText(w http.ResponseWriter, r *http.Request) {
	if s.result == nil {
		writeError(w, http.StatusNotFound, "no backtest result loaded")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(report.RenderSummary(s.result.Summary)))
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	if s.result == nil {
		writeError(w, http.StatusNotFound, "no backtest result loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.result.Equity})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.result == nil {
		writeError(w, http.StatusNotFound, "no backtest result loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.result.Trades})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if s.result == nil {
		writeError(w, http.StatusNotFound, "no backtest result loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.result.Signals})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if s.result == nil {
		writeError(w, http.StatusNotFound, "no backtest result loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.result.Risk})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if s.result == nil {
		writeError(w, http.StatusNotFound, "no backtest result loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.result})
}

// ════════════════════════════════════════════════════════════════════
// Response helpers
// ════════════════════════════════════════════════════════════════════

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}
