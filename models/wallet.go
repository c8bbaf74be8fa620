package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeCredit TransactionType = "CREDIT"
	TransactionTypeDebit  TransactionType = "DEBIT"
)

// Wallet is a payee's running balance. The balance column is a materialized
// cache: the wallet_transactions ledger is the source of truth, and the
// balance may only change inside the same database transaction that appends
// a ledger row.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WalletTransaction is an immutable ledger entry. BalanceBefore/BalanceAfter
// snapshot the cached balance around the mutation for audit.
type WalletTransaction struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	ReferenceID   string          `json:"reference_id"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

type WalletResponse struct {
	Wallet       Wallet              `json:"wallet"`
	Transactions []WalletTransaction `json:"transactions"`
}
