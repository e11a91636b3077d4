package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"tasvid/internal/metrics"
)

var (
	ErrExpired           = errors.New("link has expired")
	ErrSignatureRequired = errors.New("signature required")
	ErrInvalidSignature  = errors.New("invalid signature")
)

// Signer issues and verifies HMAC signed links to finished files
type Signer struct {
	secret         []byte
	enforceSigning bool
	ttl            time.Duration
	metrics        *metrics.Metrics
	now            func() time.Time
}

// NewSigner creates a link signer. A zero ttl issues links without expiry.
func NewSigner(secret []byte, enforceSigning bool, ttl time.Duration, m *metrics.Metrics) *Signer {
	return &Signer{
		secret:         secret,
		enforceSigning: enforceSigning,
		ttl:            ttl,
		metrics:        m,
		now:            time.Now,
	}
}

// Enabled reports whether links carry a signature
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

// Sign returns the hex HMAC-SHA256 of id, bound to expiry when set
func (s *Signer) Sign(id, expiry string) string {
	payload := id
	if expiry != "" {
		payload += "|" + expiry
	}
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Link builds the download path for a history entry
func (s *Signer) Link(id string) string {
	path := "/files/" + url.PathEscape(id)
	if !s.Enabled() {
		return path
	}

	q := url.Values{}
	expiry := ""
	if s.ttl > 0 {
		expiry = strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
		q.Set("expiry", expiry)
	}
	q.Set("signature", s.Sign(id, expiry))
	return path + "?" + q.Encode()
}

// Verify checks the signature and expiry of a file request
func (s *Signer) Verify(id, expiryStr, signature string) error {
	hasExpiry := expiryStr != ""

	if hasExpiry {
		expiry, err := strconv.ParseInt(expiryStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid expiry: %w", err)
		}
		if s.now().Unix() > expiry {
			s.metrics.ExpiredRequestsTotal.Inc()
			return ErrExpired
		}
	}

	if s.enforceSigning || signature != "" {
		if signature == "" {
			s.metrics.SignatureFailuresTotal.Inc()
			return ErrSignatureRequired
		}

		expected := s.Sign(id, expiryStr)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			s.metrics.SignatureFailuresTotal.Inc()
			return ErrInvalidSignature
		}
	}

	return nil
}
