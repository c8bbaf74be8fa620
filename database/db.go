package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "ecodelidb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS storage_boxes (
	id UUID PRIMARY KEY,
	location VARCHAR(255) NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'AVAILABLE',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	type VARCHAR(20) NOT NULL,
	payer_id UUID NOT NULL,
	payee_id UUID,
	title VARCHAR(255) NOT NULL,
	amount DECIMAL(10, 2) NOT NULL,
	base_amount DECIMAL(10, 2) NOT NULL,
	fee DECIMAL(10, 2) NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
	storage_box_id UUID REFERENCES storage_boxes(id),
	period_start TIMESTAMP,
	period_end TIMESTAMP,
	completed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS payments (
	id UUID PRIMARY KEY,
	order_id UUID NOT NULL REFERENCES orders(id),
	payer_id UUID NOT NULL,
	amount DECIMAL(10, 2) NOT NULL,
	base_amount DECIMAL(10, 2) NOT NULL,
	fee DECIMAL(10, 2) NOT NULL,
	currency VARCHAR(3) NOT NULL DEFAULT 'EUR',
	status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
	provider_ref VARCHAR(255),
	refund_reason TEXT,
	refunded_by UUID,
	captured_at TIMESTAMP,
	refunded_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id);
CREATE INDEX IF NOT EXISTS idx_payments_provider_ref ON payments(provider_ref);

-- At most one live payment per order: FAILED and CANCELLED payments are
-- spent and free the slot, anything else occupies it.
CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_order_live ON payments(order_id)
	WHERE status NOT IN ('FAILED', 'CANCELLED');

CREATE TABLE IF NOT EXISTS wallets (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL UNIQUE,
	balance DECIMAL(12, 2) NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS wallet_transactions (
	id UUID PRIMARY KEY,
	wallet_id UUID NOT NULL REFERENCES wallets(id),
	type VARCHAR(10) NOT NULL,
	amount DECIMAL(12, 2) NOT NULL,
	description TEXT NOT NULL,
	reference_id UUID,
	balance_before DECIMAL(12, 2) NOT NULL,
	balance_after DECIMAL(12, 2) NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_wallet_transactions_wallet_id ON wallet_transactions(wallet_id);

CREATE TABLE IF NOT EXISTS notifications (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	type VARCHAR(30) NOT NULL,
	title VARCHAR(255) NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
