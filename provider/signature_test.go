package provider

import (
	"errors"
	"testing"
	"time"
)

func TestVerifySignature_Valid(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	now := time.Now()

	header := SignPayload(secret, now, body)
	if err := VerifySignature(secret, header, body, now, DefaultTolerance); err != nil {
		t.Errorf("VerifySignature returned %v, want nil", err)
	}
}

func TestVerifySignature_Errors(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	valid := SignPayload(secret, now, body)

	tests := []struct {
		name    string
		header  string
		body    []byte
		wantErr error
	}{
		{"missing header", "", body, ErrMissingSignature},
		{"garbage header", "nonsense", body, ErrMalformedSignature},
		{"missing v1 part", "t=123456", body, ErrMalformedSignature},
		{"non-numeric timestamp", "t=abc,v1=deadbeef", body, ErrMalformedSignature},
		{"wrong secret", SignPayload("whsec_other", now, body), body, ErrInvalidSignature},
		{"tampered body", valid, []byte(`{"id":"evt_2"}`), ErrInvalidSignature},
		{"stale timestamp", SignPayload(secret, now.Add(-time.Hour), body), body, ErrStaleSignature},
		{"future timestamp", SignPayload(secret, now.Add(time.Hour), body), body, ErrStaleSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(secret, tt.header, tt.body, now, DefaultTolerance)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifySignature_ToleranceBoundary(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	now := time.Now()

	// Just inside the window.
	header := SignPayload(secret, now.Add(-DefaultTolerance+time.Second), body)
	if err := VerifySignature(secret, header, body, now, DefaultTolerance); err != nil {
		t.Errorf("signature just inside tolerance rejected: %v", err)
	}
}
