package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/dbx"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB implements repository.UserRepository.
type UserDB struct {
	q dbx.DBTX
}

const userColumns = `id, username, password_hash, session_token,
	legacy_access_token, legacy_refresh_token, legacy_marketplace_user_id,
	created_at, updated_at`

// Create inserts a new user, filling ID and timestamps.
// A taken username yields apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.q.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := u.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	row := u.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return user, nil
}

func (u *UserDB) SetSessionToken(ctx context.Context, id, token string) error {
	res, err := u.q.ExecContext(ctx,
		`UPDATE users SET session_token = ?, updated_at = ? WHERE id = ?`,
		nullString(token), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting session token for user %s: %w", id, err)
	}
	return requireOneRow(res, "user", id)
}

// SetLegacyTokens writes the legacy columns only while they are empty, so
// the first linked account is the only one ever recorded there.
func (u *UserDB) SetLegacyTokens(ctx context.Context, id, accessToken, refreshToken, marketplaceUserID string) (bool, error) {
	res, err := u.q.ExecContext(ctx,
		`UPDATE users
		 SET legacy_access_token = ?, legacy_refresh_token = ?,
		     legacy_marketplace_user_id = ?, updated_at = ?
		 WHERE id = ?
		   AND COALESCE(legacy_access_token, '') = ''
		   AND COALESCE(legacy_marketplace_user_id, '') = ''`,
		accessToken, nullString(refreshToken), marketplaceUserID, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("sqlite: setting legacy tokens for user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

// ClearLegacyTokens is a no-op when the legacy columns hold another
// identity or nothing at all.
func (u *UserDB) ClearLegacyTokens(ctx context.Context, id, marketplaceUserID string) error {
	_, err := u.q.ExecContext(ctx,
		`UPDATE users
		 SET legacy_access_token = NULL, legacy_refresh_token = NULL,
		     legacy_marketplace_user_id = NULL, updated_at = ?
		 WHERE id = ? AND legacy_marketplace_user_id = ?`,
		time.Now().UTC(), id, marketplaceUserID)
	if err != nil {
		return fmt.Errorf("sqlite: clearing legacy tokens for user %s: %w", id, err)
	}
	return nil
}

func (u *UserDB) ListWithLegacyTokens(ctx context.Context) ([]model.User, error) {
	rows, err := u.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE COALESCE(legacy_access_token, '') <> ''
		   AND COALESCE(legacy_marketplace_user_id, '') <> ''
		 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users with legacy tokens: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}
	return users, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var (
		user                         model.User
		session, access, refresh, mu sql.NullString
	)
	err := s.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&session,
		&access,
		&refresh,
		&mu,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.SessionToken = session.String
	user.LegacyAccessToken = access.String
	user.LegacyRefreshToken = refresh.String
	user.LegacyMarketplaceUserID = mu.String
	return &user, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireOneRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
