package identity

import "time"

// Class distinguishes the two credentialed principal kinds served by the
// session core.
type Class string

const (
	// ClassAdmin is a platform administrator. Admins have no company
	// affiliation; their capability is the manager flag.
	ClassAdmin Class = "admin"
	// ClassUser is a company-affiliated end user. Users carry a role and a
	// company reference.
	ClassUser Class = "user"
)

// Valid reports whether c names a known identity class.
func (c Class) Valid() bool {
	return c == ClassAdmin || c == ClassUser
}

// Identity is a credentialed principal. The capability fields are a tagged
// pair: Manager is meaningful for admin-class rows, Role and CompanyID for
// user-class rows.
type Identity struct {
	ID           string
	Class        Class
	Email        string
	PasswordHash string

	Manager   bool
	Role      string
	CompanyID string // empty for admin-class identities

	Blocked bool
	// FailedAttempts counts consecutive credential mismatches for
	// user-class identities. Tracked but not wired to a lockout policy.
	FailedAttempts int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Projection returns the cached, non-secret view of the identity.
func (i *Identity) Projection() Projection {
	return Projection{
		ID:        i.ID,
		Class:     i.Class,
		Email:     i.Email,
		Manager:   i.Manager,
		Role:      i.Role,
		CompanyID: i.CompanyID,
		Blocked:   i.Blocked,
	}
}

// Projection is the serialized snapshot of an identity held by the cache.
// It is a derived, eventually consistent view bounded by the cache TTL.
type Projection struct {
	ID        string `json:"id"`
	Class     Class  `json:"class"`
	Email     string `json:"email"`
	Manager   bool   `json:"manager,omitempty"`
	Role      string `json:"role,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	Blocked   bool   `json:"blocked"`
}

// RefreshTokenRecord is a persisted refresh token. Only the salted hash of
// the secret is stored; the plaintext exists server-side only at creation.
type RefreshTokenRecord struct {
	ID        string
	OwnerID   string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Live reports whether the record can still mint access tokens.
func (r *RefreshTokenRecord) Live(now time.Time) bool {
	return !r.Revoked && r.ExpiresAt.After(now)
}

// OtpChallenge is the single active password-reset challenge for an
// identity. Issuing a new one supersedes the previous row.
type OtpChallenge struct {
	OwnerID   string
	CodeHash  string
	ExpiresAt time.Time
	Verified  bool
	CreatedAt time.Time
}

// TokenPair bundles the credentials returned to a client on login and
// refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
