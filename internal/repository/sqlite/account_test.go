package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/model"
)

func newTestAccount(userID, marketplaceUserID string) *model.MarketplaceAccount {
	return &model.MarketplaceAccount{
		UserID:            userID,
		MarketplaceUserID: marketplaceUserID,
		Nickname:          "seller_" + marketplaceUserID,
		AccessToken:       "access-" + marketplaceUserID,
		RefreshToken:      "refresh-" + marketplaceUserID,
		IsActive:          true,
		Alias:             "Account " + marketplaceUserID,
		TotalSales:        decimal.Zero,
	}
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestAccountCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")

	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acc := newTestAccount(user.ID, "999")
	acc.TokenExpiresAt = &expires
	acc.TotalSales = decimal.RequireFromString("1234.50")
	acc.TotalOrders = 7
	require.NoError(t, db.Accounts().Create(ctx, acc))
	require.NotEmpty(t, acc.ID)

	got, err := db.Accounts().GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "999", got.MarketplaceUserID)
	assert.Equal(t, user.ID, got.UserID)
	assert.Equal(t, "access-999", got.AccessToken)
	assert.True(t, got.IsActive)
	assert.True(t, got.TotalSales.Equal(decimal.RequireFromString("1234.5")), "total sales = %s", got.TotalSales)
	assert.Equal(t, 7, got.TotalOrders)
	require.NotNil(t, got.TokenExpiresAt)
	assert.True(t, got.TokenExpiresAt.Equal(expires))
	assert.Nil(t, got.LastMetricsUpdate)

	byIdentity, err := db.Accounts().GetByMarketplaceUserID(ctx, "999")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byIdentity.ID)
}

func TestAccountCreateDuplicateIdentity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")

	require.NoError(t, db.Accounts().Create(ctx, newTestAccount(alice.ID, "999")))

	err := db.Accounts().Create(ctx, newTestAccount(bob.ID, "999"))
	assert.ErrorIs(t, err, apperror.ErrConflict)

	got, err := db.Accounts().GetByMarketplaceUserID(ctx, "999")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.UserID, "owner must not change")
}

func TestAccountCreateConcurrentSameIdentity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.Accounts().Create(ctx, newTestAccount(user.ID, "555"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperror.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	n, err := db.Accounts().CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =========================================================================
// LIST / UPDATE / DELETE TESTS
// =========================================================================

func TestAccountListByUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")

	require.NoError(t, db.Accounts().Create(ctx, newTestAccount(alice.ID, "1")))
	inactive := newTestAccount(alice.ID, "2")
	inactive.IsActive = false
	require.NoError(t, db.Accounts().Create(ctx, inactive))
	require.NoError(t, db.Accounts().Create(ctx, newTestAccount(bob.ID, "3")))

	all, err := db.Accounts().ListByUser(ctx, alice.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := db.Accounts().ListByUser(ctx, alice.ID, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "1", active[0].MarketplaceUserID)

	none, err := db.Accounts().ListByUser(ctx, "nobody", false)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	owners, err := db.Accounts().ListOwnersWithActiveAccounts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, owners)
}

func TestAccountUpdateMetricsLeavesTokensAndSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")
	acc := newTestAccount(user.ID, "999")
	require.NoError(t, db.Accounts().Create(ctx, acc))

	// A stale copy carries old tokens and settings alongside fresh metrics.
	stale := *acc
	acc.AccessToken = "rotated-access"
	acc.RefreshToken = "rotated-refresh"
	require.NoError(t, db.Accounts().UpdateTokens(ctx, acc))
	acc.IsActive = false
	acc.Alias = "Renamed"
	require.NoError(t, db.Accounts().UpdateSettings(ctx, acc))

	now := time.Now().UTC().Truncate(time.Second)
	stale.Nickname = "NEWNICK"
	stale.TotalOrders = 42
	stale.ActiveListings = 5
	stale.LastMetricsUpdate = &now
	require.NoError(t, db.Accounts().UpdateMetrics(ctx, &stale))

	got, err := db.Accounts().GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "NEWNICK", got.Nickname)
	assert.Equal(t, 42, got.TotalOrders)
	assert.Equal(t, 5, got.ActiveListings)
	require.NotNil(t, got.LastMetricsUpdate)
	assert.True(t, got.LastMetricsUpdate.Equal(now))

	assert.Equal(t, "rotated-access", got.AccessToken)
	assert.Equal(t, "rotated-refresh", got.RefreshToken)
	assert.False(t, got.IsActive)
	assert.Equal(t, "Renamed", got.Alias)
}

func TestAccountUpdateProfileLeavesMetrics(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")
	acc := newTestAccount(user.ID, "999")
	acc.TotalOrders = 7
	require.NoError(t, db.Accounts().Create(ctx, acc))

	stale := *acc
	stale.TotalOrders = 0
	stale.Email = "seller@example.com"
	require.NoError(t, db.Accounts().UpdateProfile(ctx, &stale))

	got, err := db.Accounts().GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "seller@example.com", got.Email)
	assert.Equal(t, 7, got.TotalOrders)
}

func TestAccountUpdateMissingRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")
	missing := newTestAccount(user.ID, "000")
	missing.ID = "missing"

	accounts := db.Accounts()
	for name, update := range map[string]func(context.Context, *model.MarketplaceAccount) error{
		"profile":  accounts.UpdateProfile,
		"metrics":  accounts.UpdateMetrics,
		"tokens":   accounts.UpdateTokens,
		"settings": accounts.UpdateSettings,
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, update(ctx, missing), apperror.ErrNotFound)
		})
	}
}

func TestAccountDeleteCascadesSnapshots(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")
	acc := newTestAccount(user.ID, "999")
	require.NoError(t, db.Accounts().Create(ctx, acc))
	require.NoError(t, db.Snapshots().Upsert(ctx, &model.DailyMetricsSnapshot{
		AccountID: acc.ID, Date: "2026-01-02", DailySales: decimal.Zero,
	}))

	require.NoError(t, db.Accounts().Delete(ctx, acc.ID))

	_, err := db.Accounts().GetByID(ctx, acc.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = db.Snapshots().Get(ctx, acc.ID, "2026-01-02")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	assert.ErrorIs(t, db.Accounts().Delete(ctx, acc.ID), apperror.ErrNotFound)
}

func TestAccountRequiresExistingUser(t *testing.T) {
	db := newTestDB(t)

	err := db.Accounts().Create(context.Background(), newTestAccount("ghost", "999"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperror.ErrConflict)
}
