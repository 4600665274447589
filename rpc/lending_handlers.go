package rpc

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"polkalend/native/lending"
)

type operationRequest struct {
	Account string `json:"account"`
	Type    string `json:"type"`
	AssetID string `json:"assetId"`
	Amount  string `json:"amount"`
}

func (req operationRequest) toOperation(account string) (lending.Operation, string) {
	if account == "" {
		account = strings.TrimSpace(req.Account)
	}
	if account == "" {
		return lending.Operation{}, "account required"
	}
	opType := lending.OpType(strings.TrimSpace(req.Type))
	switch opType {
	case lending.OpDeposit, lending.OpWithdraw, lending.OpBorrow, lending.OpRepay, lending.OpToggleCollateral:
	default:
		return lending.Operation{}, "unsupported operation type"
	}
	assetID := strings.TrimSpace(req.AssetID)
	if assetID == "" {
		return lending.Operation{}, "assetId required"
	}
	amount := decimal.Zero
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return lending.Operation{}, "amount not a decimal: " + err.Error()
		}
		amount = parsed
	}
	return lending.Operation{Account: account, Type: opType, AssetID: assetID, Amount: amount}, ""
}

func (s *Server) handleListMarkets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Registry().List())
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	positions := s.orchestrator.Positions(account)
	if positions == nil {
		positions = []lending.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

type healthResponse struct {
	Account       string               `json:"account"`
	Health        lending.HealthFactor `json:"health"`
	MaxBorrowable decimal.Decimal      `json:"maxBorrowableUSD"`
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, healthResponse{
		Account:       account,
		Health:        s.orchestrator.Health(account),
		MaxBorrowable: s.orchestrator.MaxBorrowableValue(account),
	})
}

type simulateResponse struct {
	Before lending.HealthFactor `json:"before"`
	After  lending.HealthFactor `json:"after"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var req operationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, problem := req.toOperation(account)
	if problem != "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: problem})
		return
	}
	before, after, err := s.orchestrator.Preview(op)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, simulateResponse{Before: before, After: after})
}

func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, problem := req.toOperation("")
	if problem != "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: problem})
		return
	}
	tx, err := s.orchestrator.Submit(r.Context(), op)
	if err != nil {
		if tx.ID != "" {
			// Settlement failed after the transaction was recorded; report
			// the terminal record alongside the cause.
			writeJSON(w, http.StatusBadGateway, tx)
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, _ *http.Request) {
	txs, err := s.orchestrator.Transactions()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if txs == nil {
		txs = []lending.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleListOpportunities(w http.ResponseWriter, _ *http.Request) {
	opportunities := s.scanner.Opportunities()
	if opportunities == nil {
		opportunities = []lending.LiquidationOpportunity{}
	}
	writeJSON(w, http.StatusOK, opportunities)
}

func (s *Server) handleExecuteOpportunity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opp, err := s.scanner.Execute(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}
