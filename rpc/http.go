// Package rpc exposes the lending engine over HTTP/JSON. Handlers are thin:
// they decode, delegate to the orchestrator or scanner, and encode. Every
// piece of position or risk math lives in native/lending.
package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"polkalend/native/lending"
)

const maxRequestBytes = 1 << 20 // 1 MiB

// Server routes HTTP requests into the engine.
type Server struct {
	orchestrator *lending.Orchestrator
	scanner      *lending.Scanner
	logger       *slog.Logger
}

// NewServer builds the HTTP surface over the orchestrator and scanner.
func NewServer(orchestrator *lending.Orchestrator, scanner *lending.Scanner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orchestrator: orchestrator, scanner: scanner, logger: logger}
}

// Router mounts every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/markets", s.handleListMarkets)
		r.Get("/positions/{account}", s.handleGetPositions)
		r.Get("/health/{account}", s.handleGetHealth)
		r.Post("/health/{account}/simulate", s.handleSimulate)
		r.Post("/operations", s.handleSubmitOperation)
		r.Get("/transactions", s.handleListTransactions)
		r.Get("/opportunities", s.handleListOpportunities)
		r.Post("/opportunities/{id}/execute", s.handleExecuteOpportunity)
	})

	return r
}

// Start serves the router on addr, blocking until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "component", "rpc", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses; the
// body always names the violated invariant.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lending.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, lending.ErrMarketNotFound),
		errors.Is(err, lending.ErrNoPosition),
		errors.Is(err, lending.ErrOpportunityNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrLiquidationRisk),
		errors.Is(err, lending.ErrNoOutstandingLoan),
		errors.Is(err, lending.ErrStillHealthy):
		status = http.StatusConflict
	case errors.Is(err, lending.ErrOperationCanceled):
		status = http.StatusRequestTimeout
	case errors.Is(err, lending.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
