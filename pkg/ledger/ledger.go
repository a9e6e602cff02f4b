package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the side of a ledger entry.
type EntryType string

const (
	// Debit removes funds from an account.
	Debit EntryType = "DEBIT"
	// Credit adds funds to an account.
	Credit EntryType = "CREDIT"
)

// Account is a named balance holder.
// Balances never drop below zero after a committed transfer.
type Account struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

// Entry is an immutable single-sided money movement.
// Entries are written in DEBIT/CREDIT pairs sharing TransferID, Amount and At.
type Entry struct {
	// ID is assigned by the store on append
	ID int64

	// TransferID groups the two sides of one transfer
	TransferID string

	Type      EntryType
	AccountID string
	Amount    decimal.Decimal
	At        time.Time
}

// ProcessedOperation records an accepted client idempotency key.
type ProcessedOperation struct {
	OperationID string
	CreatedAt   time.Time
}

// TransferRequest asks to move Amount from From to To.
// OperationID is optional; when set, retries with the same id have no additional effect.
type TransferRequest struct {
	From        string
	To          string
	Amount      decimal.Decimal
	OperationID string
}

// HasOperationID reports whether the request carries an idempotency key.
func (r TransferRequest) HasOperationID() bool {
	return r.OperationID != ""
}

// EntryPair builds the matched debit and credit entries for a transfer.
func EntryPair(transferID string, req TransferRequest, at time.Time) (Entry, Entry) {
	at = at.UTC()
	debit := Entry{
		TransferID: transferID,
		Type:       Debit,
		AccountID:  req.From,
		Amount:     req.Amount,
		At:         at,
	}
	credit := Entry{
		TransferID: transferID,
		Type:       Credit,
		AccountID:  req.To,
		Amount:     req.Amount,
		At:         at,
	}
	return debit, credit
}
