package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/veritrade-labs/tradecore/pkg/alerts"
	"github.com/veritrade-labs/tradecore/pkg/document"
	"github.com/veritrade-labs/tradecore/pkg/integrity"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
	"github.com/veritrade-labs/tradecore/pkg/lifecycle"
	"github.com/veritrade-labs/tradecore/pkg/observability"
	"github.com/veritrade-labs/tradecore/pkg/risk"
)

// Server exposes the audit core over HTTP.
type Server struct {
	ledger    ledger.Store
	docs      document.Repository
	verifier  *integrity.Verifier
	lifecycle *lifecycle.Validator
	engine    *risk.Engine
	scores    risk.ScoreStore
	detector  *alerts.Detector
	obs       *observability.Provider
	logger    *slog.Logger

	// heavy guards the full-recompute endpoints, which walk the entire
	// ledger and must not be hammered.
	heavy *rate.Limiter
}

// NewServer wires the audit core services into an HTTP server.
func NewServer(
	store ledger.Store,
	docs document.Repository,
	verifier *integrity.Verifier,
	lc *lifecycle.Validator,
	engine *risk.Engine,
	scores risk.ScoreStore,
	detector *alerts.Detector,
) *Server {
	return &Server{
		ledger:    store,
		docs:      docs,
		verifier:  verifier,
		lifecycle: lc,
		engine:    engine,
		scores:    scores,
		detector:  detector,
		logger:    slog.Default().With("component", "api"),
		heavy:     rate.NewLimiter(rate.Every(10*time.Second), 2),
	}
}

// WithObservability attaches the metrics provider feeding the domain
// counters. A nil provider leaves them off.
func (s *Server) WithObservability(obs *observability.Provider) *Server {
	s.obs = obs
	return s
}

// Routes returns the route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/ledger/entries", s.handleRecordAction)
	mux.HandleFunc("GET /v1/ledger/entries", s.handleQueryEntries)
	mux.HandleFunc("GET /v1/ledger/entries/{id}", s.handleGetEntry)
	mux.HandleFunc("GET /v1/ledger/verify", s.handleVerifyChain)
	mux.HandleFunc("GET /v1/ledger/export", s.handleExportBundle)

	mux.HandleFunc("POST /v1/documents/{id}/verify", s.handleVerifyDocument)
	mux.HandleFunc("GET /v1/documents/{id}/lifecycle", s.handleLifecycle)

	mux.HandleFunc("GET /v1/risk/{userID}", s.handleGetRisk)
	mux.HandleFunc("POST /v1/risk/recalculate", s.handleRecalculateRisk)

	mux.HandleFunc("GET /v1/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /v1/alerts/detect", s.handleDetectAlerts)
	mux.HandleFunc("POST /v1/alerts/{id}/status", s.handleAlertStatus)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return RequestIDMiddleware(mux)
}

// recordActionRequest is the body of POST /v1/ledger/entries.
type recordActionRequest struct {
	Action     string          `json:"action"`
	ActorID    string          `json:"actor_id"`
	DocumentID string          `json:"document_id,omitempty"`
	TradeID    string          `json:"trade_id,omitempty"`
	Metadata   ledger.Metadata `json:"metadata,omitempty"`
}

func (s *Server) handleRecordAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req recordActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Action == "" || req.ActorID == "" {
		WriteBadRequest(w, "Missing required fields: action, actor_id")
		return
	}
	if !ledger.Action(req.Action).Valid() {
		WriteBadRequest(w, "Unknown action "+req.Action)
		return
	}

	entry, err := s.ledger.Append(r.Context(), ledger.Input{
		Action:     ledger.Action(req.Action),
		ActorID:    req.ActorID,
		DocumentID: req.DocumentID,
		TradeID:    req.TradeID,
		Metadata:   req.Metadata,
	})
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrUnknownActor):
		WriteUnprocessable(w, "Actor is not a known principal")
		return
	case errors.Is(err, ledger.ErrInvalidMetadata):
		WriteUnprocessable(w, err.Error())
		return
	default:
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleQueryEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	entries, err := s.ledger.Query(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			WriteNotFound(w, "No ledger entry with that ID")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	result, err := s.ledger.VerifyChain(r.Context())
	if err != nil && !errors.Is(err, ledger.ErrChainBroken) {
		WriteInternal(w, err)
		return
	}
	// A broken chain is a finding for the caller, not a server failure.
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExportBundle(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	bundle, err := ledger.ExportBundle(r.Context(), s.ledger, filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			WriteNotFound(w, "No document with that ID")
			return
		}
		WriteInternal(w, err)
		return
	}

	result, err := s.verifier.Verify(r.Context(), doc)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			WriteNotFound(w, "Document bytes are missing from storage")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.lifecycle.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			WriteNotFound(w, "No document with that ID")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	score, err := s.scores.Get(r.Context(), userID)
	if err == nil {
		writeJSON(w, http.StatusOK, score)
		return
	}
	if !errors.Is(err, risk.ErrScoreNotFound) {
		WriteInternal(w, err)
		return
	}

	// No stored score yet; compute one on demand.
	score, err = s.engine.ComputeRisk(r.Context(), userID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleRecalculateRisk(w http.ResponseWriter, r *http.Request) {
	if !s.heavy.Allow() {
		WriteTooManyRequests(w, 10)
		return
	}

	scores, err := s.engine.RecalculateAll(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recalculated": len(scores),
		"scores":       scores,
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.detector.List(r.Context(), alerts.ListFilter{
		Status:   alerts.Status(q.Get("status")),
		Severity: alerts.Severity(q.Get("severity")),
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if list == nil {
		list = []*alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDetectAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.heavy.Allow() {
		WriteTooManyRequests(w, 10)
		return
	}

	raised, err := s.detector.DetectPatterns(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	for _, a := range raised {
		s.obs.RecordAlert(r.Context(), string(a.Type))
	}
	if raised == nil {
		raised = []*alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, raised)
}

// alertStatusRequest is the body of POST /v1/alerts/{id}/status.
type alertStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req alertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Status == "" {
		WriteBadRequest(w, "Missing required field: status")
		return
	}

	alert, err := s.detector.UpdateStatus(r.Context(), r.PathValue("id"), alerts.Status(req.Status), req.Notes)
	switch {
	case err == nil:
	case errors.Is(err, alerts.ErrAlertNotFound):
		WriteNotFound(w, "No alert with that ID")
		return
	case errors.Is(err, alerts.ErrInvalidTransition):
		WriteConflict(w, err.Error())
		return
	default:
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// filterFromQuery parses the shared ledger filter query parameters.
func filterFromQuery(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{
		DocumentID: q.Get("document_id"),
		TradeID:    q.Get("trade_id"),
		ActorID:    q.Get("actor_id"),
		Action:     ledger.Action(q.Get("action")),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ledger.Filter{}, errors.New("since must be RFC 3339")
		}
		f.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ledger.Filter{}, errors.New("until must be RFC 3339")
		}
		f.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ledger.Filter{}, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}
