package reconciler

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"ecodeli-payment-svc/models"
	"ecodeli-payment-svc/provider"
	"ecodeli-payment-svc/settlement"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"
)

type stubProvider struct {
	intents map[string]*provider.Intent
	fails   int
	calls   int
}

func (s *stubProvider) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*provider.Intent, error) {
	return nil, errors.New("not used")
}

func (s *stubProvider) RetrieveIntent(ctx context.Context, ref string) (*provider.Intent, error) {
	s.calls++
	if s.fails > 0 {
		s.fails--
		return nil, errors.New("transient provider error")
	}
	intent, ok := s.intents[ref]
	if !ok {
		return nil, errors.New("no such intent")
	}
	return intent, nil
}

func (s *stubProvider) RefundIntent(ctx context.Context, ref, reason string) (*provider.RefundResult, error) {
	return nil, errors.New("not used")
}

func newTestReconciler(t *testing.T, stub *stubProvider) (*Reconciler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := zaptest.NewLogger(t)
	proc := settlement.NewProcessor(db, nil, logger, "payment_events")
	r := New(db, stub, proc, logger)
	r.backoff = Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return r, mock
}

func expectStaleQuery(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, provider_ref FROM payments")).
		WithArgs(string(models.PaymentStatusPending), sqlmock.AnyArg()).
		WillReturnRows(rows)
}

func TestSweepRecoversSucceededIntent(t *testing.T) {
	stub := &stubProvider{intents: map[string]*provider.Intent{
		"pi_lost": {ID: "pi_lost", Status: provider.IntentStatusSucceeded},
	}}
	r, mock := newTestReconciler(t, stub)

	expectStaleQuery(mock, sqlmock.NewRows([]string{"id", "provider_ref"}).
		AddRow("pay-1", "pi_lost"))

	// Settlement runs through the standard success path.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE payments SET status =")).
		WithArgs("pi_lost", string(models.PaymentStatusCompleted), string(models.PaymentStatusPending)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "payer_id", "amount"}).
			AddRow("pay-1", "ord-1", "payer-1", "9.90"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, payer_id, payee_id, title, storage_box_id FROM orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "payer_id", "payee_id", "title", "storage_box_id"}).
			AddRow("ord-1", "SUBSCRIPTION", "payer-1", nil, "Premium plan", nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $2, period_start = NOW()")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSweepLeavesOpenIntentsAlone(t *testing.T) {
	stub := &stubProvider{intents: map[string]*provider.Intent{
		"pi_open": {ID: "pi_open", Status: provider.IntentStatusPending},
	}}
	r, mock := newTestReconciler(t, stub)

	expectStaleQuery(mock, sqlmock.NewRows([]string{"id", "provider_ref"}).
		AddRow("pay-2", "pi_open"))

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	// The payment stays PENDING; no settlement transaction was expected.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSweepRetriesTransientProviderErrors(t *testing.T) {
	stub := &stubProvider{
		fails: 2,
		intents: map[string]*provider.Intent{
			"pi_flaky": {ID: "pi_flaky", Status: provider.IntentStatusPending},
		},
	}
	r, mock := newTestReconciler(t, stub)

	expectStaleQuery(mock, sqlmock.NewRows([]string{"id", "provider_ref"}).
		AddRow("pay-3", "pi_flaky"))

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if stub.calls != 3 {
		t.Errorf("expected 3 provider calls (2 failures + success), got %d", stub.calls)
	}
}

func TestSweepGivesUpAfterMaxAttempts(t *testing.T) {
	stub := &stubProvider{fails: 10}
	r, mock := newTestReconciler(t, stub)

	expectStaleQuery(mock, sqlmock.NewRows([]string{"id", "provider_ref"}).
		AddRow("pay-4", "pi_down"))

	// Per-payment errors are swallowed; the sweep itself succeeds.
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if stub.calls != 3 {
		t.Errorf("expected exactly MaxAttempts calls, got %d", stub.calls)
	}
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	stub := &stubProvider{intents: map[string]*provider.Intent{}}
	r, mock := newTestReconciler(t, stub)

	expectStaleQuery(mock, sqlmock.NewRows([]string{"id", "provider_ref"}).
		AddRow("pay-5", "pi_a").
		AddRow("pay-6", "pi_b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stub.calls != 0 {
		t.Errorf("cancelled sweep must not poll the provider, got %d calls", stub.calls)
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	b := Backoff{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := b.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestRunStopsOnShutdown(t *testing.T) {
	stub := &stubProvider{}
	r, _ := newTestReconciler(t, stub)
	r.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
