package webhooksig

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultClockSkew = 5 * time.Minute

var (
	// ErrSignatureMissing is returned when any signature header is absent.
	ErrSignatureMissing = errors.New("webhooksig: signature headers missing")
	// ErrSignatureMismatch is returned when the signature does not verify.
	ErrSignatureMismatch = errors.New("webhooksig: signature mismatch")
	// ErrTimestampSkew is returned when the signing time is outside the accepted window.
	ErrTimestampSkew = errors.New("webhooksig: timestamp outside allowed window")
	// ErrNonceReplay is returned when a nonce is reused within its window.
	ErrNonceReplay = errors.New("webhooksig: duplicate nonce")
)

// Verifier checks signatures produced by Signer and rejects replays.
type Verifier struct {
	secret []byte
	now    func() time.Time
	skew   time.Duration

	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewVerifier returns a verifier for the given secret.
func NewVerifier(secret string, now func() time.Time) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhooksig: secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), now: now, skew: defaultClockSkew, nonces: make(map[string]time.Time)}, nil
}

// Verify validates the request signature. The request body is restored for later readers.
func (v *Verifier) Verify(r *http.Request) error {
	signatureValue := strings.TrimSpace(r.Header.Get(SignatureHeader))
	timestampValue := strings.TrimSpace(r.Header.Get(TimestampHeader))
	nonce := strings.TrimSpace(r.Header.Get(NonceHeader))
	if signatureValue == "" || timestampValue == "" || nonce == "" {
		return ErrSignatureMissing
	}

	timestamp, err := parseTimestamp(timestampValue)
	if err != nil {
		return err
	}
	now := v.now()
	if skew := now.Sub(timestamp); skew > v.skew || skew < -v.skew {
		return ErrTimestampSkew
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return fmt.Errorf("webhooksig: read body: %w", err)
	}
	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return err
	}
	if !hmac.Equal(signature, computeHMAC(v.secret, canonicalString(r, body, timestampValue, nonce))) {
		return ErrSignatureMismatch
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for k, exp := range v.nonces {
		if exp.Before(now) {
			delete(v.nonces, k)
		}
	}
	if exp, ok := v.nonces[nonce]; ok && exp.After(now) {
		return ErrNonceReplay
	}
	v.nonces[nonce] = now.Add(2 * v.skew)
	return nil
}

// Middleware rejects requests that fail verification with 401.
func (v *Verifier) Middleware(onError func(ctx context.Context, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.Verify(r); err != nil {
				if onError != nil {
					onError(r.Context(), err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"signature_invalid","message":"request signature verification failed"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("webhooksig: signature must be base64 or hex encoded")
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("webhooksig: unable to parse timestamp %q", value)
}
