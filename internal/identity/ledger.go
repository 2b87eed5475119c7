package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"mercaro.shop/internal/ids"
)

const (
	refreshSecretBytes = 32
	// maxLiveRefreshTokens is the live-record quota per identity. Reaching
	// it at login evicts every record the owner holds before a new one is
	// created. Coarse reset-on-overflow, not LRU.
	maxLiveRefreshTokens = 3
)

// createRefreshToken generates a random secret, persists its hashed record
// and returns the record together with the composite client token. The
// plaintext secret exists server-side only inside this call.
func createRefreshToken(ctx context.Context, ledger RefreshTokenStore, ownerID string, ttl time.Duration, now time.Time) (*RefreshTokenRecord, string, error) {
	secretBytes := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	rec := &RefreshTokenRecord{
		ID:        ids.New(),
		OwnerID:   ownerID,
		TokenHash: hashRefreshSecret(secret),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := ledger.Create(ctx, rec); err != nil {
		return nil, "", err
	}
	return rec, encodeRefreshToken(rec.ID, secret), nil
}

// encodeRefreshToken builds the client-held composite token. The record id
// allows O(1) lookup; the secret is verified against the stored hash.
func encodeRefreshToken(id, secret string) string {
	return id + "." + secret
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashRefreshSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
