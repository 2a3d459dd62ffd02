package webhooksig

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// SignatureHeader carries the base64 HMAC-SHA256 of the canonical request.
	SignatureHeader = "X-Signature"
	// TimestampHeader carries the RFC3339 signing time.
	TimestampHeader = "X-Signature-Timestamp"
	// NonceHeader carries a random single-use value.
	NonceHeader = "X-Signature-Nonce"
)

// Signer signs outbound requests with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
	nonce  func() (string, error)
}

// Option customises a Signer.
type Option func(*Signer)

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNonceSource overrides nonce generation.
func WithNonceSource(nonce func() (string, error)) Option {
	return func(s *Signer) {
		if nonce != nil {
			s.nonce = nonce
		}
	}
}

// NewSigner returns a signer for the given secret.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhooksig: secret is required")
	}
	s := &Signer{secret: []byte(secret), now: time.Now, nonce: randomNonce}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Sign sets the signature headers on req for the given body. The body is not read from req.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	if req == nil {
		return errors.New("webhooksig: request is nil")
	}
	nonce, err := s.nonce()
	if err != nil {
		return err
	}
	timestamp := s.now().UTC().Format(time.RFC3339)
	signature := computeHMAC(s.secret, canonicalString(req, body, timestamp, nonce))

	req.Header.Set(SignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(NonceHeader, nonce)
	return nil
}

func canonicalString(r *http.Request, body []byte, timestamp, nonce string) []byte {
	method := strings.ToUpper(r.Method)
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		method,
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}
