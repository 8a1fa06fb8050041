// Package server exposes proposal analysis over HTTP behind CORS and the
// x402 payment gate.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/daocopilot/cli/internal/analysis"
	"github.com/daocopilot/cli/internal/telemetry"
	"github.com/pterm/pterm"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "DAO Governance Co-Pilot AI Agent"

const (
	AnalyzePath = "/api/analyze-proposal"
	HealthPath  = "/api/health"

	maxBodyBytes = 1 << 20
)

// Analyzer is the analysis backend used by the server.
type Analyzer interface {
	Analyze(ctx context.Context, daoID, proposalID, text string) (*analysis.ProposalAnalysis, error)
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Server handles HTTP requests for proposal analysis.
type Server struct {
	analyzer   Analyzer
	logger     *pterm.Logger
	metrics    *telemetry.Instruments
	handler    http.Handler
	httpServer *http.Server
	now        func() time.Time
}

// Config holds configuration for the server.
type Config struct {
	Analyzer Analyzer
	// Payment is applied inside CORS so preflight requests are never
	// charged. Nil means every route is free.
	Payment Middleware
	Logger  *pterm.Logger
	Metrics *telemetry.Instruments
}

// New creates a new server.
func New(cfg Config) *Server {
	s := &Server{
		analyzer: cfg.Analyzer,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
	if s.logger == nil {
		s.logger = &pterm.DefaultLogger
	}

	mux := http.NewServeMux()
	mux.HandleFunc(AnalyzePath, s.handleAnalyze)
	mux.HandleFunc(AnalyzePath+"/", s.handleAnalyze)
	mux.HandleFunc(HealthPath, s.handleHealth)
	mux.HandleFunc(HealthPath+"/", s.handleHealth)

	var h http.Handler = mux
	if cfg.Payment != nil {
		h = cfg.Payment(h)
	}
	h = withCORS(h)
	h = s.logRequests(h)
	s.handler = h
	s.httpServer = &http.Server{
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server on the given address. It blocks until the
// server stops and returns nil after a graceful Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx reply from the server's own
// handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleAnalyze handles POST /api/analyze-proposal
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()
	if len(body) > maxBodyBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds 1MB")
		return
	}

	var req analysis.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.ProposalText) == "" {
		s.writeError(w, http.StatusBadRequest, "proposalText is required")
		return
	}
	if req.DaoID == "" {
		req.DaoID = "unknown"
	}
	if req.ProposalID == "" {
		req.ProposalID = "unknown"
	}

	result, err := s.analyzer.Analyze(r.Context(), req.DaoID, req.ProposalID, req.ProposalText)
	if err != nil {
		s.logger.Error("proposal analysis failed", s.logger.Args("dao", req.DaoID, "proposal", req.ProposalID, "error", err))
		s.writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	s.metrics.RecordAnalysis(r.Context(), string(result.Recommendation))
	s.logger.Info("proposal analysed", s.logger.Args(
		"dao", req.DaoID,
		"proposal", req.ProposalID,
		"recommendation", result.Recommendation,
		"confidence", result.Confidence,
	))

	s.writeJSON(w, http.StatusOK, result)
}

// handleHealth handles GET /api/health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use GET")
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   ServiceName,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
