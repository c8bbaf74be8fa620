// Package provider talks to the external payment provider. The provider is
// a black box reached over HTTP+JSON: we create and retrieve payment
// intents, request refunds, and verify the signatures it puts on webhook
// deliveries. No retry happens here; callers own their retry policy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"ecodeli-payment-svc/circuitbreaker"
)

// Intent statuses as reported by the provider.
const (
	IntentStatusPending   = "pending"
	IntentStatusSucceeded = "succeeded"
	IntentStatusFailed    = "failed"
	IntentStatusCanceled  = "canceled"
)

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"` // minor units (cents)
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

type RefundResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Client is the provider surface the rest of the service depends on. Kept
// as an interface so tests and a future real SDK can swap in.
type Client interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, ref string) (*Intent, error)
	RefundIntent(ctx context.Context, ref, reason string) (*RefundResult, error)
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		baseURL: getEnv("PROVIDER_API_URL", "http://localhost:9090"),
		apiKey:  getEnv("PROVIDER_API_KEY", ""),
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
	}
}

// NewHTTPClientFor builds a client against an explicit endpoint (tests).
func NewHTTPClientFor(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
	}
}

type createIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type refundRequest struct {
	PaymentIntent string `json:"payment_intent"`
	Reason        string `json:"reason,omitempty"`
}

func (c *HTTPClient) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Intent, error) {
	var intent Intent
	err := c.breaker.Execute(ctx, func() error {
		return c.post(ctx, "/v1/payment_intents", createIntentRequest{
			Amount:   amountMinor,
			Currency: currency,
			Metadata: metadata,
		}, &intent)
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &intent, nil
}

func (c *HTTPClient) RetrieveIntent(ctx context.Context, ref string) (*Intent, error) {
	var intent Intent
	err := c.breaker.Execute(ctx, func() error {
		return c.get(ctx, "/v1/payment_intents/"+url.PathEscape(ref), &intent)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", ref, err)
	}
	return &intent, nil
}

func (c *HTTPClient) RefundIntent(ctx context.Context, ref, reason string) (*RefundResult, error) {
	var refund RefundResult
	err := c.breaker.Execute(ctx, func() error {
		return c.post(ctx, "/v1/refunds", refundRequest{PaymentIntent: ref, Reason: reason}, &refund)
	})
	if err != nil {
		return nil, fmt.Errorf("refund payment intent %s: %w", ref, err)
	}
	return &refund, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
