package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"mercaro.shop/internal/obs"
)

const (
	otpCodeLength      = 6
	otpTTL             = 5 * time.Minute
	otpDeliveryTimeout = 5 * time.Second
)

// Deliverer sends a one-time passcode to the identity out of band (mail,
// SMS). Delivery failure must not corrupt challenge state that was already
// persisted.
type Deliverer interface {
	Deliver(ctx context.Context, id *Identity, code string) error
}

// SendOtpCode generates a fresh reset code, stores its hashed challenge
// (superseding any prior one) and triggers delivery. When delivery fails
// the persisted challenge stays valid and ErrDeliveryFailed is returned.
func (s *Service) SendOtpCode(ctx context.Context, class Class, email string) error {
	id, err := s.findByEmail(ctx, class, email)
	if err != nil {
		return err
	}

	code, err := generateOtpCode()
	if err != nil {
		return fmt.Errorf("generate otp code: %w", err)
	}
	now := s.now()
	ch := &OtpChallenge{
		OwnerID:   id.ID,
		CodeHash:  hashRefreshSecret(code),
		ExpiresAt: now.Add(otpTTL),
		CreatedAt: now,
	}
	if err := s.store.OtpChallenges(ctx).Upsert(ctx, ch); err != nil {
		return fmt.Errorf("store otp challenge: %w", err)
	}

	if s.deliverer == nil {
		return ErrDeliveryFailed
	}
	deliveryCtx, cancel := context.WithTimeout(ctx, otpDeliveryTimeout)
	defer cancel()
	if err := s.deliverer.Deliver(deliveryCtx, id, code); err != nil {
		obs.Logger().Println("identity: otp delivery failed")
		return ErrDeliveryFailed
	}
	return nil
}

// VerifyOtpCode checks a presented code against the identity's current
// challenge and marks it verified on match. A superseded or expired code
// never verifies.
func (s *Service) VerifyOtpCode(ctx context.Context, class Class, email, code string) error {
	id, err := s.findByEmail(ctx, class, email)
	if err != nil {
		return err
	}
	challenges := s.store.OtpChallenges(ctx)
	ch, err := challenges.Find(ctx, id.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("find otp challenge: %w", err)
	}
	if !ch.ExpiresAt.After(s.now()) {
		return ErrUnauthorized
	}
	if !secureCompareHash(ch.CodeHash, code) {
		return ErrUnauthorized
	}
	if err := challenges.MarkVerified(ctx, id.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("mark otp verified: %w", err)
	}
	return nil
}

// ResetPassword updates the credential hash, gated on a previously verified
// challenge. The challenge row is deleted on success and cannot be reused.
func (s *Service) ResetPassword(ctx context.Context, class Class, email, newPassword string) error {
	if newPassword == "" {
		return ErrInvalidInput
	}
	id, err := s.findByEmail(ctx, class, email)
	if err != nil {
		return err
	}
	challenges := s.store.OtpChallenges(ctx)
	ch, err := challenges.Find(ctx, id.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("find otp challenge: %w", err)
	}
	if !ch.Verified {
		return ErrForbidden
	}
	if !ch.ExpiresAt.After(s.now()) {
		return ErrUnauthorized
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return ErrInvalidInput
	}
	if err := s.store.Identities(ctx).UpdatePassword(ctx, id.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := challenges.Delete(ctx, id.ID); err != nil {
		obs.Logger().Println("identity: otp challenge cleanup failed")
	}
	// Credential change is an identity mutation the core is aware of.
	if err := s.cache.Invalidate(ctx, id.ID); err != nil {
		obs.Logger().Println("identity: projection cache invalidation failed")
	}
	return nil
}

func (s *Service) findByEmail(ctx context.Context, class Class, email string) (*Identity, error) {
	if !class.Valid() {
		return nil, ErrInvalidInput
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, ErrInvalidInput
	}
	id, err := s.store.Identities(ctx).FindByEmail(ctx, class, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return id, nil
}

// generateOtpCode returns a fixed-length, zero-padded numeric code.
func generateOtpCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpCodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpCodeLength, n), nil
}
