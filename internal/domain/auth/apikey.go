// Package auth holds API-key identities and scope checks.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Scopes granted to API keys.
const (
	// ScopeRedeem allows storefront redemption and preview calls.
	ScopeRedeem = "redeem"
	// ScopeEnterprise allows the internal enterprise pathway: enterprise
	// voucher redemption and assignment management.
	ScopeEnterprise = "enterprise"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      int64
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries the scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HashKey computes the stored HMAC-SHA256 hash of a raw API key. Only hashes
// are persisted; the raw key exists solely in the caller's hands.
func HashKey(pepper, key string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
