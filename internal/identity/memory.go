package identity

import (
	"context"
	"sync"
	"time"

	"mercaro.shop/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used in tests and when the service runs
// without a database DSN. Not durable.
type MemStore struct {
	mu         sync.Mutex
	identities map[string]*Identity
	tokens     map[string]*RefreshTokenRecord
	challenges map[string]*OtpChallenge
}

func NewMemStore() *MemStore {
	return &MemStore{
		identities: make(map[string]*Identity),
		tokens:     make(map[string]*RefreshTokenRecord),
		challenges: make(map[string]*OtpChallenge),
	}
}

func (m *MemStore) Identities(context.Context) IdentityStore        { return &memIdentityStore{m} }
func (m *MemStore) RefreshTokens(context.Context) RefreshTokenStore { return &memTokenStore{m} }
func (m *MemStore) OtpChallenges(context.Context) OtpStore          { return &memOtpStore{m} }

// Identity rows ------------------------------------------------------------
type memIdentityStore struct{ m *MemStore }

func (s *memIdentityStore) Create(ctx context.Context, id *Identity) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if id.ID == "" {
		id.ID = ids.New()
	}
	cp := *id
	s.m.identities[id.ID] = &cp
	return nil
}

func (s *memIdentityStore) Find(ctx context.Context, id string) (*Identity, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *memIdentityStore) FindByEmail(ctx context.Context, class Class, email string) (*Identity, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, v := range s.m.identities {
		if v.Class == class && v.Email == email {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memIdentityStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.identities[id]
	if !ok {
		return ErrNotFound
	}
	v.PasswordHash = passwordHash
	return nil
}

func (s *memIdentityStore) SetBlocked(ctx context.Context, id string, blocked bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.identities[id]
	if !ok {
		return ErrNotFound
	}
	v.Blocked = blocked
	return nil
}

func (s *memIdentityStore) SetFailedAttempts(ctx context.Context, id string, attempts int) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.identities[id]
	if !ok {
		return ErrNotFound
	}
	v.FailedAttempts = attempts
	return nil
}

// Refresh-token ledger -----------------------------------------------------
type memTokenStore struct{ m *MemStore }

func (s *memTokenStore) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	cp := *rec
	s.m.tokens[rec.ID] = &cp
	return nil
}

func (s *memTokenStore) Find(ctx context.Context, id string) (*RefreshTokenRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *memTokenStore) CountLive(ctx context.Context, ownerID string, now time.Time) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	count := 0
	for _, v := range s.m.tokens {
		if v.OwnerID == ownerID && v.Live(now) {
			count++
		}
	}
	return count, nil
}

func (s *memTokenStore) Revoke(ctx context.Context, id, ownerID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.tokens[id]
	if !ok || v.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(s.m.tokens, id)
	return nil
}

func (s *memTokenStore) PurgeExpired(ctx context.Context, ownerID string, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, v := range s.m.tokens {
		if v.OwnerID == ownerID && !v.ExpiresAt.After(now) {
			delete(s.m.tokens, id)
		}
	}
	return nil
}

func (s *memTokenStore) PurgeAll(ctx context.Context, ownerID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, v := range s.m.tokens {
		if v.OwnerID == ownerID {
			delete(s.m.tokens, id)
		}
	}
	return nil
}

// OTP challenges -----------------------------------------------------------
type memOtpStore struct{ m *MemStore }

func (s *memOtpStore) Upsert(ctx context.Context, ch *OtpChallenge) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *ch
	cp.Verified = false
	s.m.challenges[ch.OwnerID] = &cp
	return nil
}

func (s *memOtpStore) Find(ctx context.Context, ownerID string) (*OtpChallenge, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.challenges[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *memOtpStore) MarkVerified(ctx context.Context, ownerID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.challenges[ownerID]
	if !ok {
		return ErrNotFound
	}
	v.Verified = true
	return nil
}

func (s *memOtpStore) Delete(ctx context.Context, ownerID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.challenges, ownerID)
	return nil
}
