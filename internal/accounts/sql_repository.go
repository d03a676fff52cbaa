package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
	"github.com/google/uuid"
)

// SQLRepository implements Repository for Postgres and SQLite. Queries are
// written with '?' placeholders and rebound for the dialect.
type SQLRepository struct {
	db dbx.DBTX
	d  dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, d: d}
}

const selectColumns = `id, username, email, password_hash, role,
	vault_key_wrapped, vault_password_verifier, totp_secret_wrapped, totp_enabled,
	failed_attempt_count, locked_until, last_login_at, last_login_ip, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		a                                  Account
		vaultKey, verifier, totpSecret, ip sql.NullString
		lockedUntil, lastLogin             sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role,
		&vaultKey, &verifier, &totpSecret, &a.TOTPEnabled,
		&a.FailedAttemptCount, &lockedUntil, &lastLogin, &ip, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.VaultKeyWrapped = vaultKey.String
	a.VaultPasswordVerifier = verifier.String
	a.TOTPSecretWrapped = totpSecret.String
	a.LastLoginIP = ip.String
	if lockedUntil.Valid {
		a.LockedUntil = lockedUntil.Time
	}
	if lastLogin.Valid {
		a.LastLoginAt = lastLogin.Time
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *SQLRepository) Create(ctx context.Context, a *Account) (*Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := r.d.Rebind(`INSERT INTO accounts (id, username, email, password_hash, role,
		vault_key_wrapped, vault_password_verifier, totp_secret_wrapped, totp_enabled,
		failed_attempt_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`)

	_, err := r.db.ExecContext(ctx, query, a.ID, a.Username, a.Email, a.PasswordHash, a.Role,
		nullString(a.VaultKeyWrapped), nullString(a.VaultPasswordVerifier), nullString(a.TOTPSecretWrapped),
		a.TOTPEnabled, a.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *SQLRepository) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM accounts`)
}

func (r *SQLRepository) CountWithVaultKey(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM accounts WHERE vault_key_wrapped IS NOT NULL`)
}

func (r *SQLRepository) getOne(ctx context.Context, where string, arg any) (*Account, error) {
	query := r.d.Rebind(`SELECT ` + selectColumns + ` FROM accounts WHERE ` + where + ` = ?`)
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.getOne(ctx, "id", id)
}

// GetByUsername matches the username exactly.
func (r *SQLRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return r.getOne(ctx, "username", username)
}

func (r *SQLRepository) List(ctx context.Context) ([]*Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM accounts ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *SQLRepository) RegisterFailure(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, bool, error) {
	query := r.d.Rebind(`UPDATE accounts
		SET failed_attempt_count = failed_attempt_count + 1,
		    locked_until = CASE WHEN failed_attempt_count + 1 >= ? THEN ? ELSE locked_until END
		WHERE id = ?
		RETURNING failed_attempt_count`)

	var count int
	err := r.db.QueryRowContext(ctx, query, threshold, lockUntil, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, common.ErrorNotFound
		}
		return 0, false, fmt.Errorf("db error: %w", err)
	}
	return count, count >= threshold, nil
}

func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.d.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLRepository) ClearLock(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE accounts SET failed_attempt_count = 0, locked_until = NULL WHERE id = ?`, id)
}

func (r *SQLRepository) RecordLogin(ctx context.Context, id string, at time.Time, ip string) error {
	return r.exec(ctx, `UPDATE accounts
		SET failed_attempt_count = 0, locked_until = NULL, last_login_at = ?, last_login_ip = ?
		WHERE id = ?`, at, nullString(ip), id)
}

func (r *SQLRepository) SetVaultKey(ctx context.Context, id, wrapped, verifier string) error {
	return r.exec(ctx, `UPDATE accounts SET vault_key_wrapped = ?, vault_password_verifier = ? WHERE id = ?`,
		nullString(wrapped), nullString(verifier), id)
}

func (r *SQLRepository) SetTOTP(ctx context.Context, id, wrapped string, enabled bool) error {
	return r.exec(ctx, `UPDATE accounts SET totp_secret_wrapped = ?, totp_enabled = ? WHERE id = ?`,
		nullString(wrapped), enabled, id)
}

func (r *SQLRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE accounts SET password_hash = ? WHERE id = ?`, hash, id)
}
