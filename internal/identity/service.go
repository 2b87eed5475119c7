package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mercaro.shop/internal/obs"
)

const defaultRefreshTTL = 72 * time.Hour

// Service coordinates the session lifecycle for both identity classes:
// credential verification, dual-token issuance, refresh, logout and the OTP
// password-reset flow. One coordinator serves admins and users; only the
// claim shape differs.
type Service struct {
	store      Store
	issuer     *TokenIssuer
	cache      *Cache
	deliverer  Deliverer
	refreshTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithCache attaches the identity projection cache.
func WithCache(cache *Cache) ServiceOption {
	return func(s *Service) error {
		s.cache = cache
		return nil
	}
}

// WithDeliverer sets the OTP delivery collaborator.
func WithDeliverer(d Deliverer) ServiceOption {
	return func(s *Service) error {
		s.deliverer = d
		return nil
	}
}

// WithRefreshTTL overrides the refresh-record lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the coordinator.
func NewService(store Store, issuer *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	if issuer == nil {
		return nil, errors.New("identity: token issuer is required")
	}
	svc := &Service{
		store:      store,
		issuer:     issuer,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Login verifies credentials and issues a fresh token pair. On success the
// owner's already-expired refresh records are purged, and the live-record
// quota is enforced by evicting everything the owner holds once the
// threshold is reached.
func (s *Service) Login(ctx context.Context, class Class, email, password string) (TokenPair, *Identity, error) {
	if !class.Valid() {
		return TokenPair{}, nil, ErrInvalidInput
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	id, err := s.store.Identities(ctx).FindByEmail(ctx, class, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, fmt.Errorf("find identity: %w", err)
	}
	if id.Blocked {
		return TokenPair{}, nil, ErrBlocked
	}

	if err := VerifyPassword(id.PasswordHash, password); err != nil {
		s.recordFailedAttempt(ctx, id)
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	s.clearFailedAttempts(ctx, id)

	pair, err := s.mintTokens(ctx, id)
	if err != nil {
		return TokenPair{}, nil, err
	}

	// Write-through: refresh the cached projection on successful login.
	if err := s.cache.Set(ctx, id.Projection()); err != nil {
		obs.Logger().Println("identity: projection cache write failed")
	}
	return pair, id, nil
}

// Refresh validates a presented refresh token and issues a new access
// token. The refresh record itself is not rotated: it stays valid until its
// own expiry or an explicit logout. An expired record is deleted as part of
// the failed transition, forcing re-login.
func (s *Service) Refresh(ctx context.Context, class Class, refreshToken string) (TokenPair, *Identity, error) {
	recordID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}

	ledger := s.store.RefreshTokens(ctx)
	rec, err := ledger.Find(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrNotFound
		}
		return TokenPair{}, nil, fmt.Errorf("find refresh record: %w", err)
	}
	if rec.Revoked {
		return TokenPair{}, nil, ErrForbidden
	}
	now := s.now()
	if !rec.ExpiresAt.After(now) {
		if err := ledger.Revoke(ctx, rec.ID, rec.OwnerID); err != nil && !errors.Is(err, ErrNotFound) {
			obs.Logger().Println("identity: expired refresh record purge failed")
		}
		return TokenPair{}, nil, ErrUnauthorized
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return TokenPair{}, nil, ErrUnauthorized
	}

	owner, err := s.store.Identities(ctx).Find(ctx, rec.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrUnauthorized
		}
		return TokenPair{}, nil, fmt.Errorf("find owner: %w", err)
	}
	if owner.Class != class {
		return TokenPair{}, nil, ErrForbidden
	}
	if owner.Blocked {
		return TokenPair{}, nil, ErrBlocked
	}

	access, accessExp, err := s.issuer.Issue(owner)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("issue access token: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, owner, nil
}

// Logout revokes the presented refresh record. The record must resolve, not
// be already revoked, and belong to the calling identity; a foreign owner's
// record is never deleted.
func (s *Service) Logout(ctx context.Context, callerID, refreshToken string) error {
	if callerID == "" {
		return ErrUnauthorized
	}
	recordID, _, err := splitRefreshToken(refreshToken)
	if err != nil {
		return ErrUnauthorized
	}

	ledger := s.store.RefreshTokens(ctx)
	rec, err := ledger.Find(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("find refresh record: %w", err)
	}
	if rec.Revoked {
		return ErrForbidden
	}
	if rec.OwnerID != callerID {
		return ErrForbidden
	}
	if err := ledger.Revoke(ctx, rec.ID, callerID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("revoke refresh record: %w", err)
	}
	return nil
}

// Authenticate resolves the identity projection for an authenticated
// caller, cache first. A cached projection is not re-checked against the
// store, so the blocked flag is compensated from the cached payload itself.
func (s *Service) Authenticate(ctx context.Context, identityID string) (Projection, error) {
	if identityID == "" {
		return Projection{}, ErrUnauthorized
	}
	if p, ok := s.cache.Get(ctx, identityID); ok {
		if p.Blocked {
			return Projection{}, ErrBlocked
		}
		return p, nil
	}

	id, err := s.store.Identities(ctx).Find(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Projection{}, ErrNotFound
		}
		return Projection{}, fmt.Errorf("find identity: %w", err)
	}
	if id.Blocked {
		return Projection{}, ErrBlocked
	}

	p := id.Projection()
	if err := s.cache.Set(ctx, p); err != nil {
		obs.Logger().Println("identity: projection cache write failed")
	}
	return p, nil
}

// SetBlocked flips the identity's block flag and invalidates the cached
// projection so the change is visible before the TTL elapses.
func (s *Service) SetBlocked(ctx context.Context, identityID string, blocked bool) error {
	if err := s.store.Identities(ctx).SetBlocked(ctx, identityID, blocked); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("set blocked: %w", err)
	}
	if err := s.cache.Invalidate(ctx, identityID); err != nil {
		obs.Logger().Println("identity: projection cache invalidation failed")
	}
	return nil
}

func (s *Service) mintTokens(ctx context.Context, id *Identity) (TokenPair, error) {
	now := s.now()
	ledger := s.store.RefreshTokens(ctx)

	live, err := ledger.CountLive(ctx, id.ID, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("count live refresh records: %w", err)
	}
	if live >= maxLiveRefreshTokens {
		if err := ledger.PurgeAll(ctx, id.ID); err != nil {
			return TokenPair{}, fmt.Errorf("evict refresh records: %w", err)
		}
	}

	rec, refreshToken, err := createRefreshToken(ctx, ledger, id.ID, s.refreshTTL, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("create refresh record: %w", err)
	}

	// Opportunistic cleanup of records that already lapsed.
	if err := ledger.PurgeExpired(ctx, id.ID, now); err != nil {
		obs.Logger().Println("identity: expired refresh record purge failed")
	}

	access, accessExp, err := s.issuer.Issue(id)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// recordFailedAttempt bumps the mismatch counter on user-class identities.
// The counter is tracked only; no lockout policy reads it here.
func (s *Service) recordFailedAttempt(ctx context.Context, id *Identity) {
	if id.Class != ClassUser {
		return
	}
	if err := s.store.Identities(ctx).SetFailedAttempts(ctx, id.ID, id.FailedAttempts+1); err != nil {
		obs.Logger().Println("identity: failed-attempt counter update failed")
	}
}

func (s *Service) clearFailedAttempts(ctx context.Context, id *Identity) {
	if id.Class != ClassUser || id.FailedAttempts == 0 {
		return
	}
	if err := s.store.Identities(ctx).SetFailedAttempts(ctx, id.ID, 0); err != nil {
		obs.Logger().Println("identity: failed-attempt counter reset failed")
	}
}
