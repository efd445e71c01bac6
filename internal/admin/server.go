// Package admin exposes the operational HTTP API: live plan visibility,
// tuning inspection, drive archive reads, and manually triggered archive
// sweeps. It binds separately from the health endpoint and is meant for the
// bench network, not the vehicle bus.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/planner"
	"github.com/juny6654/longplan/internal/reconciliation"
	"github.com/juny6654/longplan/internal/store"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

const (
	defaultPlanLimit  = 50
	maxPlanLimit      = 500
	defaultDriveLimit = 20
	maxDriveLimit     = 100
	defaultSweepScope = 3
	maxSweepScope     = 20
)

// Sweeper runs drive log sweeps on demand. In production this is satisfied
// by *reconciliation.Service; tests provide a mock.
type Sweeper interface {
	Sweep(ctx context.Context, drives int) (*reconciliation.RunResult, error)
	LastResult() (*reconciliation.RunResult, bool)
}

// DriveLog is the slice of the plan archive the admin API reads.
type DriveLog interface {
	RecentDrives(ctx context.Context, limit int) ([]store.DriveSummary, error)
	RecentPlans(ctx context.Context, driveID string, limit int) ([]model.Plan, error)
}

// Server provides the HTTP admin API for operational management.
type Server struct {
	recorder *Recorder
	tuning   planner.TuningSource
	sweeper  Sweeper
	driveLog DriveLog
	logger   *slog.Logger
}

// NewServer creates an admin API server. The recorder and tuning source are
// required; archive-backed features arrive through options and their
// endpoints answer 503 when absent.
func NewServer(recorder *Recorder, tuning planner.TuningSource, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		recorder: recorder,
		tuning:   tuning,
		logger:   logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithSweeper enables the reconcile endpoints.
func WithSweeper(sw Sweeper) ServerOption {
	return func(s *Server) { s.sweeper = sw }
}

// WithDriveLog enables the archive read endpoints.
func WithDriveLog(dl DriveLog) ServerOption {
	return func(s *Server) { s.driveLog = dl }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/status", s.handleStatus)
	mux.HandleFunc("GET /admin/v1/plans", s.handleRecentPlans)
	mux.HandleFunc("GET /admin/v1/plan", s.handlePlanAt)
	mux.HandleFunc("GET /admin/v1/tuning", s.handleTuning)
	mux.HandleFunc("GET /admin/v1/drives", s.handleDrives)
	mux.HandleFunc("GET /admin/v1/drives/plans", s.handleDrivePlans)
	mux.HandleFunc("POST /admin/v1/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /admin/v1/reconcile/latest", s.handleReconcileLatest)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

// limitQuery parses the limit query param, clamped to [1, max]. Missing or
// unparsable values fall back to def.
func limitQuery(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// --- Live planner endpoints ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recorder.Stats())
}

func (s *Server) handleRecentPlans(w http.ResponseWriter, r *http.Request) {
	limit := limitQuery(r, defaultPlanLimit, maxPlanLimit)
	writeJSON(w, http.StatusOK, s.recorder.Recent(limit))
}

func (s *Server) handlePlanAt(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("cycle")
	if raw == "" {
		http.Error(w, `{"error":"cycle query param required"}`, http.StatusBadRequest)
		return
	}

	cycle, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, `{"error":"cycle must be a non-negative integer"}`, http.StatusBadRequest)
		return
	}

	plan, ok := s.recorder.At(cycle)
	if !ok {
		http.Error(w, `{"error":"plan not in cache"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

type tuningResponse struct {
	AccelProfile      string `json:"accel_profile"`
	CoastEnabled      bool   `json:"coast_enabled"`
	LimitAccelInTurns bool   `json:"limit_accel_in_turns"`
	SlowOnCurves      bool   `json:"slow_on_curves"`
}

func (s *Server) handleTuning(w http.ResponseWriter, r *http.Request) {
	tun := s.tuning.Snapshot()
	writeJSON(w, http.StatusOK, tuningResponse{
		AccelProfile:      tun.AccelProfile.String(),
		CoastEnabled:      tun.CoastEnabled,
		LimitAccelInTurns: tun.LimitAccelInTurns,
		SlowOnCurves:      tun.SlowOnCurves,
	})
}

// --- Drive archive endpoints ---

func (s *Server) handleDrives(w http.ResponseWriter, r *http.Request) {
	if s.driveLog == nil {
		http.Error(w, `{"error":"drive log not available"}`, http.StatusServiceUnavailable)
		return
	}

	limit := limitQuery(r, defaultDriveLimit, maxDriveLimit)

	drives, err := s.driveLog.RecentDrives(r.Context(), limit)
	if err != nil {
		s.logger.Error("list drives failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if drives == nil {
		drives = []store.DriveSummary{}
	}

	writeJSON(w, http.StatusOK, drives)
}

func (s *Server) handleDrivePlans(w http.ResponseWriter, r *http.Request) {
	if s.driveLog == nil {
		http.Error(w, `{"error":"drive log not available"}`, http.StatusServiceUnavailable)
		return
	}

	driveID := r.URL.Query().Get("drive_id")
	if driveID == "" {
		http.Error(w, `{"error":"drive_id query param required"}`, http.StatusBadRequest)
		return
	}

	limit := limitQuery(r, defaultPlanLimit, maxPlanLimit)

	plans, err := s.driveLog.RecentPlans(r.Context(), driveID, limit)
	if err != nil {
		s.logger.Error("list drive plans failed", "error", err, "drive_id", driveID)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if plans == nil {
		plans = []model.Plan{}
	}

	writeJSON(w, http.StatusOK, plans)
}

// --- Reconciliation endpoints ---

type reconcileRequest struct {
	Drives int `json:"drives"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		http.Error(w, `{"error":"reconciliation not available"}`, http.StatusServiceUnavailable)
		return
	}

	// The body is optional; an empty request sweeps the default scope.
	req := reconcileRequest{Drives: defaultSweepScope}
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, &req) {
			return
		}
	}
	if req.Drives <= 0 {
		req.Drives = defaultSweepScope
	}
	if req.Drives > maxSweepScope {
		http.Error(w, `{"error":"drives must be <= 20"}`, http.StatusBadRequest)
		return
	}

	result, err := s.sweeper.Sweep(r.Context(), req.Drives)
	if err != nil {
		s.logger.Error("drive log sweep failed", "error", err)
		http.Error(w, `{"error":"sweep failed"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("drive log sweep triggered via admin API",
		"drives", req.Drives,
		"with_gaps", result.WithGaps,
		"missing_cycles", result.MissingCycles,
	)

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReconcileLatest(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		http.Error(w, `{"error":"reconciliation not available"}`, http.StatusServiceUnavailable)
		return
	}

	result, ok := s.sweeper.LastResult()
	if !ok {
		http.Error(w, `{"error":"no sweep has run yet"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
