package handlers

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/provider"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// asUser stubs the auth middleware with a fixed identity.
func asUser(userID, role, tier string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		if role != "" {
			c.Set(middleware.ContextRole, role)
		}
		if tier != "" {
			c.Set(middleware.ContextTier, tier)
		}
		c.Next()
	}
}

// fakeProvider records calls and serves canned responses.
type fakeProvider struct {
	createCalls   int
	retrieveCalls int
	refundCalls   int

	lastRetrievedRef string
	lastRefundedRef  string

	intent *provider.Intent
	refund *provider.RefundResult
	err    error
}

func (f *fakeProvider) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*provider.Intent, error) {
	f.createCalls++
	if f.err != nil {
		return nil, f.err
	}
	intent := *f.intent
	intent.Amount = amountMinor
	intent.Currency = currency
	return &intent, nil
}

func (f *fakeProvider) RetrieveIntent(ctx context.Context, ref string) (*provider.Intent, error) {
	f.retrieveCalls++
	f.lastRetrievedRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

func (f *fakeProvider) RefundIntent(ctx context.Context, ref, reason string) (*provider.RefundResult, error) {
	f.refundCalls++
	f.lastRefundedRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return f.refund, nil
}

var errProviderDown = errors.New("provider unreachable")
