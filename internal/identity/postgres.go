package identity

import (
	"context"
	"database/sql"
	"time"

	"mercaro.shop/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities(context.Context) IdentityStore { return &identityStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}
func (s *PGStore) OtpChallenges(context.Context) OtpStore { return &otpStore{db: s.db} }

// Identity store -----------------------------------------------------------
type identityStore struct{ db *sql.DB }

const identityColumns = `id, class, email, password_hash, manager, role, company_id, blocked, failed_attempts, created_at, updated_at`

func (s *identityStore) Create(ctx context.Context, id *Identity) error {
	if id.ID == "" {
		id.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into identities(id, class, email, password_hash, manager, role, company_id, blocked, failed_attempts)
		 values($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9)`,
		id.ID, id.Class, id.Email, id.PasswordHash, id.Manager, id.Role, id.CompanyID, id.Blocked, id.FailedAttempts,
	)
	return err
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		id        Identity
		companyID sql.NullString
	)
	err := row.Scan(&id.ID, &id.Class, &id.Email, &id.PasswordHash, &id.Manager, &id.Role,
		&companyID, &id.Blocked, &id.FailedAttempts, &id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id.CompanyID = companyID.String
	return &id, nil
}

func (s *identityStore) Find(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id=$1`, id)
	return scanIdentity(row)
}

func (s *identityStore) FindByEmail(ctx context.Context, class Class, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where class=$1 and email=$2`, class, email)
	return scanIdentity(row)
}

func (s *identityStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *identityStore) SetBlocked(ctx context.Context, id string, blocked bool) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set blocked=$2, updated_at=now() where id=$1`, id, blocked)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *identityStore) SetFailedAttempts(ctx context.Context, id string, attempts int) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set failed_attempts=$2, updated_at=now() where id=$1`, id, attempts)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Refresh token ledger -----------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, owner_id, token_hash, expires_at, revoked, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.OwnerID, rec.TokenHash, rec.ExpiresAt, rec.Revoked, rec.CreatedAt,
	)
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, owner_id, token_hash, expires_at, revoked, created_at from refresh_tokens where id=$1`, id)
	var rec RefreshTokenRecord
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.TokenHash, &rec.ExpiresAt, &rec.Revoked, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *refreshTokenStore) CountLive(ctx context.Context, ownerID string, now time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`select count(*) from refresh_tokens where owner_id=$1 and revoked=false and expires_at > $2`,
		ownerID, now)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *refreshTokenStore) Revoke(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where id=$1 and owner_id=$2`, id, ownerID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *refreshTokenStore) PurgeExpired(ctx context.Context, ownerID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where owner_id=$1 and expires_at <= $2`, ownerID, now)
	return err
}

func (s *refreshTokenStore) PurgeAll(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where owner_id=$1`, ownerID)
	return err
}

// OTP challenge store ------------------------------------------------------
type otpStore struct{ db *sql.DB }

func (s *otpStore) Upsert(ctx context.Context, ch *OtpChallenge) error {
	_, err := s.db.ExecContext(ctx,
		`insert into otp_challenges(owner_id, code_hash, expires_at, verified, created_at)
		 values($1,$2,$3,false,$4)
		 on conflict (owner_id) do update
		 set code_hash=excluded.code_hash, expires_at=excluded.expires_at, verified=false, created_at=excluded.created_at`,
		ch.OwnerID, ch.CodeHash, ch.ExpiresAt, ch.CreatedAt,
	)
	return err
}

func (s *otpStore) Find(ctx context.Context, ownerID string) (*OtpChallenge, error) {
	row := s.db.QueryRowContext(ctx,
		`select owner_id, code_hash, expires_at, verified, created_at from otp_challenges where owner_id=$1`, ownerID)
	var ch OtpChallenge
	if err := row.Scan(&ch.OwnerID, &ch.CodeHash, &ch.ExpiresAt, &ch.Verified, &ch.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

func (s *otpStore) MarkVerified(ctx context.Context, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`update otp_challenges set verified=true where owner_id=$1`, ownerID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *otpStore) Delete(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from otp_challenges where owner_id=$1`, ownerID)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
