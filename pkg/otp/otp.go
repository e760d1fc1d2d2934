// Package otp issues and validates the short-lived numeric rendezvous
// codes that desktop clients publish out-of-band and web clients
// present to pair with them.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no live token matches the code.
	ErrNotFound = errors.New("otp not found")
	// ErrExpired is returned when the token exists but its lifetime has passed.
	ErrExpired = errors.New("otp expired")
	// ErrSpaceExhausted is returned when code generation cannot find a
	// free slot. With a 10^6 code space this is practically unreachable;
	// failing loudly beats silently handing out a duplicate.
	ErrSpaceExhausted = errors.New("otp code space exhausted")
)

// CodeLength is the number of digits in a generated code.
const CodeLength = 6

// maxIssueAttempts bounds collision retries during Issue.
const maxIssueAttempts = 64

// Token is a live one-time password. A token stays valid for any number
// of validations until it expires or its owner disconnects; it is not
// consumed by use.
type Token struct {
	Code      string
	OwnerID   string
	CreatedAt time.Time
	ExpiresAt time.Time // zero value = never expires
}

// Expired reports whether the token's lifetime has passed at the given
// instant. Tokens with a zero ExpiresAt never expire.
func (t Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// Registry stores live tokens keyed by code. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	tokens   map[string]Token
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

// NewRegistry creates a registry issuing tokens with the given
// lifetime. A ttl of zero means tokens never expire.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		tokens:   make(map[string]Token),
		ttl:      ttl,
		now:      time.Now,
		generate: randomCode,
	}
}

// SetClock overrides the time source (for testing).
func (r *Registry) SetClock(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = fn
}

// TTL returns the configured token lifetime.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Issue generates a fresh code for ownerID, stores it with the
// registry's TTL and returns it. Codes colliding with a live token are
// regenerated; expired entries are swept as a side effect so the map
// cannot grow without bound.
func (r *Registry) Issue(ownerID string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	now := r.now()
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := r.generate()
		if err != nil {
			return Token{}, fmt.Errorf("generate otp: %w", err)
		}
		if _, taken := r.tokens[code]; taken {
			continue
		}
		tok := Token{
			Code:      code,
			OwnerID:   ownerID,
			CreatedAt: now,
		}
		if r.ttl > 0 {
			tok.ExpiresAt = now.Add(r.ttl)
		}
		r.tokens[code] = tok
		return tok, nil
	}
	return Token{}, fmt.Errorf("%w after %d attempts", ErrSpaceExhausted, maxIssueAttempts)
}

// Validate looks up a code. It does not consume the token: the same
// code may be presented by any number of web clients while it lives.
// Expired entries are reported as ErrExpired even if not yet swept.
func (r *Registry) Validate(code string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[code]
	if !ok {
		return Token{}, ErrNotFound
	}
	if tok.Expired(r.now()) {
		return Token{}, ErrExpired
	}
	return tok, nil
}

// RevokeAllFor removes every token owned by ownerID and returns how
// many were dropped. Called when the owning desktop disconnects so no
// further web client can pair against a dead session.
func (r *Registry) RevokeAllFor(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	revoked := 0
	for code, tok := range r.tokens {
		if tok.OwnerID == ownerID {
			delete(r.tokens, code)
			revoked++
		}
	}
	return revoked
}

// Active returns the number of live (unexpired) tokens.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.tokens)
}

// sweepLocked drops expired entries. Caller must hold r.mu.
func (r *Registry) sweepLocked() {
	now := r.now()
	for code, tok := range r.tokens {
		if tok.Expired(now) {
			delete(r.tokens, code)
		}
	}
}

// randomCode returns CodeLength crypto-random decimal digits.
func randomCode() (string, error) {
	digits := make([]byte, CodeLength)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = '0' + byte(n.Int64())
	}
	return string(digits), nil
}
