package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook deliveries carry a signature header of the form
//
//	t=<unix timestamp>,v1=<hex hmac-sha256>
//
// where the MAC is computed over "<timestamp>.<raw body>" with the shared
// webhook secret. Verification must happen before the body is parsed.

const SignatureHeader = "Webhook-Signature"

// DefaultTolerance bounds how old a signed timestamp may be, limiting replay
// of captured deliveries.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature   = errors.New("missing webhook signature")
	ErrMalformedSignature = errors.New("malformed webhook signature")
	ErrInvalidSignature   = errors.New("webhook signature mismatch")
	ErrStaleSignature     = errors.New("webhook signature timestamp outside tolerance")
)

// VerifySignature checks header against body using secret. The comparison is
// constant-time.
func VerifySignature(secret string, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return ErrMissingSignature
	}

	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return ErrMalformedSignature
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrMalformedSignature
			}
			ts = parsed
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return ErrMalformedSignature
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrStaleSignature
	}

	expected := computeSignature(secret, ts, body)
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return ErrMalformedSignature
	}
	if !hmac.Equal(provided, expected) {
		return ErrInvalidSignature
	}
	return nil
}

// SignPayload produces a header value for body at ts. Used by tests and by
// local provider simulators.
func SignPayload(secret string, ts time.Time, body []byte) string {
	mac := computeSignature(secret, ts.Unix(), body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac))
}

func computeSignature(secret string, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return mac.Sum(nil)
}
