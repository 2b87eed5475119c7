package identity

import (
	"context"
	"time"
)

// Store describes the persistence surfaces required by the session core.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	OtpChallenges(ctx context.Context) OtpStore
}

// IdentityStore manages identity rows.
type IdentityStore interface {
	Create(ctx context.Context, id *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, class Class, email string) (*Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetBlocked(ctx context.Context, id string, blocked bool) error
	SetFailedAttempts(ctx context.Context, id string, attempts int) error
}

// RefreshTokenStore is the durable ledger of refresh-token records.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshTokenRecord) error
	Find(ctx context.Context, id string) (*RefreshTokenRecord, error)
	// CountLive counts records that are not revoked and not yet expired.
	CountLive(ctx context.Context, ownerID string, now time.Time) (int, error)
	// Revoke deletes a specific record scoped to its owner, preventing
	// cross-owner revocation. Returns ErrNotFound when no row matched.
	Revoke(ctx context.Context, id, ownerID string) error
	// PurgeExpired deletes all of the owner's records whose expiry passed.
	PurgeExpired(ctx context.Context, ownerID string, now time.Time) error
	// PurgeAll deletes all of the owner's records (quota eviction).
	PurgeAll(ctx context.Context, ownerID string) error
}

// OtpStore manages the single password-reset challenge per identity.
type OtpStore interface {
	// Upsert stores the challenge, overwriting any prior row for the owner.
	Upsert(ctx context.Context, ch *OtpChallenge) error
	Find(ctx context.Context, ownerID string) (*OtpChallenge, error)
	MarkVerified(ctx context.Context, ownerID string) error
	Delete(ctx context.Context, ownerID string) error
}
