package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const walletHistoryLimit = 50

type WalletHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewWalletHandler(db *sql.DB, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{db: db, logger: logger}
}

// GetWallet returns the caller's balance with recent ledger entries. A user
// who never earned anything gets an empty zero-balance wallet rather than a
// 404.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	ctx := c.Request.Context()

	var wallet models.Wallet
	err := h.db.QueryRowContext(ctx,
		`SELECT id, user_id, balance, created_at, updated_at FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&wallet.ID, &wallet.UserID, &wallet.Balance, &wallet.CreatedAt, &wallet.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusOK, models.WalletResponse{
			Wallet:       models.Wallet{UserID: userID, Balance: decimal.Zero},
			Transactions: []models.WalletTransaction{},
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load wallet", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet"})
		return
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, wallet_id, type, amount, description, reference_id, balance_before, balance_after, created_at
		 FROM wallet_transactions WHERE wallet_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		wallet.ID, walletHistoryLimit,
	)
	if err != nil {
		h.logger.Error("Failed to load wallet transactions", zap.String("wallet_id", wallet.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet transactions"})
		return
	}
	defer rows.Close()

	transactions := []models.WalletTransaction{}
	for rows.Next() {
		var tx models.WalletTransaction
		var refID sql.NullString
		if err := rows.Scan(&tx.ID, &tx.WalletID, &tx.Type, &tx.Amount, &tx.Description,
			&refID, &tx.BalanceBefore, &tx.BalanceAfter, &tx.CreatedAt); err != nil {
			h.logger.Error("Failed to scan wallet transaction", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet transactions"})
			return
		}
		tx.ReferenceID = refID.String
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("Wallet transaction iteration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet transactions"})
		return
	}

	c.JSON(http.StatusOK, models.WalletResponse{Wallet: wallet, Transactions: transactions})
}
