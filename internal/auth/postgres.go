package auth

import (
	"context"
	"database/sql"
	"encoding/json"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                   { return &pgUsers{db: s.db} }
func (s *PGStore) Roles() RoleStore                   { return &pgRoles{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore   { return &pgTokens{db: s.db} }
func (s *PGStore) Impersonations() ImpersonationStore { return &pgImpersonations{db: s.db} }
func (s *PGStore) Audit() audit.Sink                  { return &pgAudit{db: s.db} }

// User store ---------------------------------------------------------------
type pgUsers struct{ db *sql.DB }

const userColumns = `id, tenant_id, node_id, email, username, password_hash,
	roles, active_role, token_version, grants, denies, status, created_at, updated_at`

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	roles, _ := json.Marshal(u.Roles)
	grants, _ := json.Marshal(u.Grants)
	denies, _ := json.Marshal(u.Denies)
	if u.Status == "" {
		u.Status = StatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, tenant_id, node_id, email, username, password_hash,
		   roles, active_role, token_version, grants, denies, status)
		 values($1, $2, $3, lower($4), $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.TenantID, u.NodeID, u.Email, u.Username, u.PasswordHash,
		roles, u.ActiveRole, u.TokenVersion, grants, denies, u.Status,
	)
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u                     User
		roles, grants, denies []byte
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.NodeID, &u.Email, &u.Username, &u.PasswordHash,
		&roles, &u.ActiveRole, &u.TokenVersion, &grants, &denies, &u.Status,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(roles, &u.Roles)
	_ = json.Unmarshal(grants, &u.Grants)
	_ = json.Unmarshal(denies, &u.Denies)
	return &u, nil
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=lower($1)`, email))
}

func (s *pgUsers) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgUsers) UpdateOverrides(ctx context.Context, userID string, grantsList, deniesList []string) error {
	grants, _ := json.Marshal(grantsList)
	denies, _ := json.Marshal(deniesList)
	res, err := s.db.ExecContext(ctx,
		`update users set grants=$2, denies=$3, updated_at=now() where id=$1`,
		userID, grants, denies,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgUsers) BumpTokenVersion(ctx context.Context, userID string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`update users set token_version = token_version + 1, updated_at=now()
		 where id=$1 returning token_version`, userID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return version, err
}

// Role store ---------------------------------------------------------------
type pgRoles struct{ db *sql.DB }

func (s *pgRoles) Ensure(ctx context.Context, role Role, permissions []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`insert into roles(key, description) values($1,$2) on conflict (key) do nothing`,
		role.Key, role.Description,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`delete from role_permissions where role_key=$1`, role.Key,
	); err != nil {
		return err
	}
	for _, key := range permissions {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_key, permission_key) values($1,$2)`,
			role.Key, key,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgRoles) Permissions(ctx context.Context, key RoleKey) ([]string, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from roles where key=$1)`, key,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`select permission_key from role_permissions where role_key=$1 order by permission_key`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Refresh token store ------------------------------------------------------
type pgTokens struct{ db *sql.DB }

const tokenColumns = `id, user_id, secret_hash, token_version, ip, user_agent,
	expires_at, created_at, rotated_at`

func (s *pgTokens) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, secret_hash, token_version, ip, user_agent, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		tok.ID, tok.UserID, tok.SecretHash, tok.TokenVersion, tok.IP, tok.UserAgent,
		tok.ExpiresAt, tok.CreatedAt,
	)
	return err
}

func scanToken(row interface{ Scan(...any) error }) (*RefreshToken, error) {
	var (
		tok       RefreshToken
		rotatedAt sql.NullTime
	)
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.SecretHash, &tok.TokenVersion,
		&tok.IP, &tok.UserAgent, &tok.ExpiresAt, &tok.CreatedAt, &rotatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rotatedAt.Valid {
		t := rotatedAt.Time
		tok.RotatedAt = &t
	}
	return &tok, nil
}

// Consume relies on the conditional update being atomic: of two concurrent
// rotations only one matches `rotated_at is null`, the other falls through
// to the plain select and reports reuse.
func (s *pgTokens) Consume(ctx context.Context, id string) (*RefreshToken, error) {
	tok, err := scanToken(s.db.QueryRowContext(ctx,
		`update refresh_tokens set rotated_at=now()
		 where id=$1 and rotated_at is null
		 returning `+tokenColumns, id))
	if err == nil {
		return tok, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	tok, err = scanToken(s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from refresh_tokens where id=$1`, id))
	if err != nil {
		return nil, err
	}
	return tok, ErrTokenReuseDetected
}

func (s *pgTokens) RevokeByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set rotated_at=now() where user_id=$1 and rotated_at is null`,
		userID,
	)
	return err
}

// Impersonation store ------------------------------------------------------
type pgImpersonations struct{ db *sql.DB }

func (s *pgImpersonations) Create(ctx context.Context, sess *ImpersonationSession) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into impersonation_sessions(id, tenant_id, admin_id, target_id, reason, active, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		sess.ID, sess.TenantID, sess.AdminID, sess.TargetID, sess.Reason, sess.Active, sess.CreatedAt,
	)
	return err
}

func (s *pgImpersonations) Find(ctx context.Context, id string) (*ImpersonationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, tenant_id, admin_id, target_id, reason, active, created_at
		 from impersonation_sessions where id=$1`, id)
	var sess ImpersonationSession
	if err := row.Scan(&sess.ID, &sess.TenantID, &sess.AdminID, &sess.TargetID,
		&sess.Reason, &sess.Active, &sess.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *pgImpersonations) End(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update impersonation_sessions set active=false where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Audit store --------------------------------------------------------------
type pgAudit struct{ db *sql.DB }

func (s *pgAudit) Append(ctx context.Context, entry *audit.Entry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	meta, _ := json.Marshal(entry.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, event, tenant_id, user_id, target_user_id, ip, user_agent, metadata, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.Event, entry.TenantID, entry.UserID, entry.TargetUserID,
		entry.IP, entry.UserAgent, meta, entry.CreatedAt,
	)
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
