// Package auth authenticates operator API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to operator keys.
const (
	ScopeOrdersAdmin    = "orders:admin"
	ScopePaymentsRefund = "payments:refund"
)

var (
	// ErrUnauthorized is returned for a missing, unknown or revoked key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a valid key lacks the required scope.
	ErrForbidden = errors.New("forbidden")
)

// Key holds the identity and permissions of a stored API key.
type Key struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *Key) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository looks up active API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Key, error)
}

// Hash returns the hex HMAC-SHA256 of raw keyed with pepper. Only hashes
// are stored.
func Hash(pepper []byte, raw string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Generate returns a new random raw key and its hash.
func Generate(pepper []byte) (raw, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", errors.Wrap(err, "read random")
	}
	raw = "pp_" + hex.EncodeToString(b)
	return raw, Hash(pepper, raw), nil
}

// Authenticator validates raw API keys against the repository.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator using the given pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate returns the key for raw if it exists and grants scope.
func (a *Authenticator) Authenticate(ctx context.Context, raw, scope string) (*Key, error) {
	if raw == "" {
		return nil, ErrUnauthorized
	}
	hash := Hash(a.pepper, raw)
	k, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		return nil, errors.Wrap(ErrUnauthorized, err.Error())
	}
	// The stored row must be the key we computed, not just any row the
	// lookup returned.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(k.KeyHash)) != 1 {
		return nil, ErrUnauthorized
	}
	if scope != "" && !k.HasScope(scope) {
		return nil, ErrForbidden
	}
	return k, nil
}
