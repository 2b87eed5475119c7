package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuerName = "mercaro"

// ErrInvalidToken indicates an access token failed verification.
var ErrInvalidToken = errors.New("identity: invalid access token")

// AccessClaims are the claims embedded into access tokens: identity id
// (subject), class, and the class-specific capability fields.
type AccessClaims struct {
	Class     Class  `json:"cls"`
	Manager   bool   `json:"mgr,omitempty"`
	Role      string `json:"role,omitempty"`
	CompanyID string `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies signed access tokens. It is stateless:
// expiry is the only invalidation mechanism.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenIssuerOption configures a TokenIssuer.
type TokenIssuerOption func(*TokenIssuer)

// WithTokenClock overrides the issuer time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenIssuerOption {
	return func(t *TokenIssuer) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokenIssuer constructs a TokenIssuer signing with HS256.
func NewTokenIssuer(secret string, ttl time.Duration, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: token secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	iss := &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// Issue signs an access token carrying the identity's claims.
func (t *TokenIssuer) Issue(id *Identity) (string, time.Time, error) {
	if id == nil || id.ID == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	now := t.now().UTC()
	exp := now.Add(t.ttl)
	claims := AccessClaims{
		Class:     id.Class,
		Manager:   id.Class == ClassAdmin && id.Manager,
		Role:      id.Role,
		CompanyID: id.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks the token signature and required claims. It rejects tokens
// with an invalid signature, malformed claims, or an expiry in the past.
func (t *TokenIssuer) Verify(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := t.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) validateClaims(claims *AccessClaims) error {
	if claims.Issuer != issuerName {
		return errors.New("unexpected issuer")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if !claims.Class.Valid() {
		return errors.New("unknown identity class")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if t.now().UTC().After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	return nil
}
