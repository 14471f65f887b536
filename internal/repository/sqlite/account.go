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

var _ repository.AccountRepository = (*AccountDB)(nil)

// AccountDB implements repository.AccountRepository.
//
// The UNIQUE constraint on marketplace_user_id is the last line of the
// one-identity-one-owner rule: the service checks ownership first, and a
// racing insert that slips past that check fails here with ErrConflict.
type AccountDB struct {
	q dbx.DBTX
}

const accountColumns = `id, user_id, marketplace_user_id, nickname, first_name,
	last_name, email, country_id, site_id, access_token, refresh_token,
	token_expires_at, is_active, alias, total_sales, total_orders,
	active_listings, last_metrics_update, created_at, updated_at`

func (a *AccountDB) Create(ctx context.Context, acc *model.MarketplaceAccount) error {
	now := time.Now().UTC()
	if acc.ID == "" {
		acc.ID = xid.New().String()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	_, err := a.q.ExecContext(ctx,
		`INSERT INTO marketplace_accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID,
		acc.UserID,
		acc.MarketplaceUserID,
		acc.Nickname,
		acc.FirstName,
		acc.LastName,
		acc.Email,
		acc.CountryID,
		acc.SiteID,
		acc.AccessToken,
		acc.RefreshToken,
		nullTime(acc.TokenExpiresAt),
		acc.IsActive,
		acc.Alias,
		acc.TotalSales,
		acc.TotalOrders,
		acc.ActiveListings,
		nullTime(acc.LastMetricsUpdate),
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("marketplace account", acc.MarketplaceUserID)
		}
		return fmt.Errorf("sqlite: inserting marketplace account %s: %w", acc.MarketplaceUserID, err)
	}
	return nil
}

func (a *AccountDB) GetByID(ctx context.Context, id string) (*model.MarketplaceAccount, error) {
	row := a.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM marketplace_accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting account %s: %w", id, err)
	}
	return acc, nil
}

func (a *AccountDB) GetByMarketplaceUserID(ctx context.Context, marketplaceUserID string) (*model.MarketplaceAccount, error) {
	row := a.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM marketplace_accounts WHERE marketplace_user_id = ?`,
		marketplaceUserID)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("marketplace account", marketplaceUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting account by marketplace id %s: %w", marketplaceUserID, err)
	}
	return acc, nil
}

// ListByUser returns a user's accounts, oldest first.
func (a *AccountDB) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]model.MarketplaceAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM marketplace_accounts WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := a.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing accounts for user %s: %w", userID, err)
	}
	defer rows.Close()

	accounts := []model.MarketplaceAccount{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning account row: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating account rows: %w", err)
	}
	return accounts, nil
}

func (a *AccountDB) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := a.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM marketplace_accounts WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting accounts for user %s: %w", userID, err)
	}
	return n, nil
}

func (a *AccountDB) ListOwnersWithActiveAccounts(ctx context.Context) ([]string, error) {
	rows, err := a.q.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM marketplace_accounts
		 WHERE is_active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing account owners: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning owner id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// The UpdateX methods below each own a column set. user_id and
// marketplace_user_id are never updated.

const profileSet = `nickname = ?, first_name = ?, last_name = ?, email = ?,
	country_id = ?, site_id = ?`

func profileArgs(acc *model.MarketplaceAccount) []any {
	return []any{acc.Nickname, acc.FirstName, acc.LastName, acc.Email, acc.CountryID, acc.SiteID}
}

// UpdateProfile writes the seller profile columns.
func (a *AccountDB) UpdateProfile(ctx context.Context, acc *model.MarketplaceAccount) error {
	return a.update(ctx, acc, "account profile", profileSet, profileArgs(acc)...)
}

// UpdateMetrics writes the profile columns and the cached totals. Tokens,
// is_active and alias are left alone.
func (a *AccountDB) UpdateMetrics(ctx context.Context, acc *model.MarketplaceAccount) error {
	args := append(profileArgs(acc),
		acc.TotalSales,
		acc.TotalOrders,
		acc.ActiveListings,
		nullTime(acc.LastMetricsUpdate),
	)
	return a.update(ctx, acc, "account metrics",
		profileSet+`, total_sales = ?, total_orders = ?, active_listings = ?,
		 last_metrics_update = ?`, args...)
}

// UpdateTokens writes the token pair and its expiry.
func (a *AccountDB) UpdateTokens(ctx context.Context, acc *model.MarketplaceAccount) error {
	return a.update(ctx, acc, "account tokens",
		`access_token = ?, refresh_token = ?, token_expires_at = ?`,
		acc.AccessToken, acc.RefreshToken, nullTime(acc.TokenExpiresAt))
}

// UpdateSettings writes the user-settable alias and is_active.
func (a *AccountDB) UpdateSettings(ctx context.Context, acc *model.MarketplaceAccount) error {
	return a.update(ctx, acc, "account settings",
		`alias = ?, is_active = ?`, acc.Alias, acc.IsActive)
}

// update runs UPDATE ... SET <set>, updated_at = ? WHERE id = ?.
func (a *AccountDB) update(ctx context.Context, acc *model.MarketplaceAccount, what, set string, args ...any) error {
	acc.UpdatedAt = time.Now().UTC()
	args = append(args, acc.UpdatedAt, acc.ID)
	res, err := a.q.ExecContext(ctx,
		`UPDATE marketplace_accounts SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating %s %s: %w", what, acc.ID, err)
	}
	return requireOneRow(res, "account", acc.ID)
}

// Delete removes the account; its snapshots go with it (ON DELETE CASCADE).
func (a *AccountDB) Delete(ctx context.Context, id string) error {
	res, err := a.q.ExecContext(ctx, `DELETE FROM marketplace_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting account %s: %w", id, err)
	}
	return requireOneRow(res, "account", id)
}

func scanAccount(s scanner) (*model.MarketplaceAccount, error) {
	var (
		acc                 model.MarketplaceAccount
		expiresAt, lastSync sql.NullTime
	)
	err := s.Scan(
		&acc.ID,
		&acc.UserID,
		&acc.MarketplaceUserID,
		&acc.Nickname,
		&acc.FirstName,
		&acc.LastName,
		&acc.Email,
		&acc.CountryID,
		&acc.SiteID,
		&acc.AccessToken,
		&acc.RefreshToken,
		&expiresAt,
		&acc.IsActive,
		&acc.Alias,
		&acc.TotalSales,
		&acc.TotalOrders,
		&acc.ActiveListings,
		&lastSync,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.TokenExpiresAt = timePtr(expiresAt)
	acc.LastMetricsUpdate = timePtr(lastSync)
	return &acc, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
