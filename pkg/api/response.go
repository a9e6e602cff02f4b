package api

import (
	"encoding/json"
	"net/http"
	"time"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/transfer"

	"github.com/shopspring/decimal"
)

// amount renders a decimal as a bare JSON number.
type amount decimal.Decimal

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).String()), nil
}

type transferRequest struct {
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        json.RawMessage `json:"amount"`
	OperationID   string          `json:"operationId,omitempty"`
}

// toLedger converts the wire request. A missing or null amount becomes zero
// and is rejected by validation; a quoted or malformed amount is a decode error.
func (r transferRequest) toLedger() (ledger.TransferRequest, error) {
	req := ledger.TransferRequest{
		From:        r.FromAccountID,
		To:          r.ToAccountID,
		OperationID: r.OperationID,
	}

	raw := string(r.Amount)
	if raw == "" || raw == "null" {
		return req, nil
	}
	if raw[0] == '"' {
		return req, errNotNumber
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return req, errNotNumber
	}
	req.Amount = value
	return req, nil
}

type transferResponse struct {
	Status   string            `json:"status"`
	Message  string            `json:"message"`
	Balances map[string]amount `json:"balances,omitempty"`
}

func newTransferResponse(result transfer.Result) transferResponse {
	resp := transferResponse{
		Status:  result.Status,
		Message: result.Message,
	}
	if len(result.Balances) > 0 {
		resp.Balances = make(map[string]amount, len(result.Balances))
		for id, balance := range result.Balances {
			resp.Balances[id] = amount(balance)
		}
	}
	return resp
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type accountView struct {
	ID      string `json:"id"`
	Balance amount `json:"balance"`
}

type entryView struct {
	ID         int64     `json:"id"`
	TransferID string    `json:"transferId,omitempty"`
	Type       string    `json:"type"`
	AccountID  string    `json:"accountId"`
	Amount     amount    `json:"amount"`
	At         time.Time `json:"at"`
}

type stateResponse struct {
	Accounts     map[string]accountView `json:"accounts"`
	Ledger       []entryView            `json:"ledger"`
	ProcessedOps []string               `json:"processedOps"`
}

func newStateResponse(state transfer.State) stateResponse {
	resp := stateResponse{
		Accounts:     make(map[string]accountView, len(state.Accounts)),
		Ledger:       make([]entryView, 0, len(state.Entries)),
		ProcessedOps: make([]string, 0, len(state.OperationIDs)),
	}
	for _, a := range state.Accounts {
		resp.Accounts[a.ID] = accountView{ID: a.ID, Balance: amount(a.Balance)}
	}
	for _, e := range state.Entries {
		resp.Ledger = append(resp.Ledger, entryView{
			ID:         e.ID,
			TransferID: e.TransferID,
			Type:       string(e.Type),
			AccountID:  e.AccountID,
			Amount:     amount(e.Amount),
			At:         e.At.UTC(),
		})
	}
	resp.ProcessedOps = append(resp.ProcessedOps, state.OperationIDs...)
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: message})
}
