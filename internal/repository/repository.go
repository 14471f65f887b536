package repository

import (
	"context"
	"time"

	"github.com/sakif/sellerhub/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetSessionToken stores the active session token; "" clears it.
	SetSessionToken(ctx context.Context, id, token string) error
	// SetLegacyTokens fills the legacy single-account columns only when they
	// are still empty. It reports whether the row was written.
	SetLegacyTokens(ctx context.Context, id, accessToken, refreshToken, marketplaceUserID string) (bool, error)
	// ClearLegacyTokens empties the legacy columns when they still point at
	// marketplaceUserID.
	ClearLegacyTokens(ctx context.Context, id, marketplaceUserID string) error
	ListWithLegacyTokens(ctx context.Context) ([]model.User, error)
}

type AccountRepository interface {
	// Create inserts a new account. A duplicate marketplace identity yields
	// an apperror.ErrConflict.
	Create(ctx context.Context, account *model.MarketplaceAccount) error
	GetByID(ctx context.Context, id string) (*model.MarketplaceAccount, error)
	GetByMarketplaceUserID(ctx context.Context, marketplaceUserID string) (*model.MarketplaceAccount, error)
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]model.MarketplaceAccount, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	// ListOwnersWithActiveAccounts returns the IDs of users owning at least
	// one active account.
	ListOwnersWithActiveAccounts(ctx context.Context) ([]string, error)
	// Each update writes only its own columns and bumps updated_at, so it
	// never undoes a concurrent change to the rest of the row.
	UpdateProfile(ctx context.Context, account *model.MarketplaceAccount) error
	UpdateMetrics(ctx context.Context, account *model.MarketplaceAccount) error
	UpdateTokens(ctx context.Context, account *model.MarketplaceAccount) error
	UpdateSettings(ctx context.Context, account *model.MarketplaceAccount) error
	Delete(ctx context.Context, id string) error
}

type SnapshotRepository interface {
	// Upsert inserts or updates the row for (AccountID, Date).
	Upsert(ctx context.Context, snapshot *model.DailyMetricsSnapshot) error
	Get(ctx context.Context, accountID, date string) (*model.DailyMetricsSnapshot, error)
	// ListSince returns snapshots dated on or after since, newest first.
	ListSince(ctx context.Context, accountID string, since time.Time) ([]model.DailyMetricsSnapshot, error)
}

// Store groups the repositories over one connection or transaction.
//
// WithTx runs fn against a Store bound to a single transaction. It commits
// when fn returns nil and rolls back otherwise. Calling WithTx on a Store
// that is already transactional runs fn in the same transaction.
type Store interface {
	Users() UserRepository
	Accounts() AccountRepository
	Snapshots() SnapshotRepository
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
