package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/marketplace"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
	"github.com/sakif/sellerhub/internal/repository/sqlite"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens a migrated SQLite file in a per-test temp dir.
func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "service.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, store repository.Store, username string) *model.User {
	t.Helper()
	user := &model.User{Username: username, PasswordHash: "hash"}
	require.NoError(t, store.Users().Create(context.Background(), user))
	return user
}

// fakeAPI is an in-memory MarketplaceAPI. Codes map to tokens; profile,
// listings and transactions are keyed by marketplace user id. Errors set in
// the *Err maps win over data.
type fakeAPI struct {
	mu sync.Mutex

	codes       map[string]*marketplace.Token
	exchangeErr error

	refreshed  *marketplace.Token
	refreshErr error

	profiles     map[string]*marketplace.UserProfile
	listings     map[string]int
	orders       map[string]int
	profileErr   map[string]error
	listingsErr  map[string]error
	ordersErr    map[string]error
	meErr        error
	profileCalls int

	// beforeCall runs ahead of GetUser and CountActiveListings, outside mu,
	// so it may call back into the services.
	beforeCall func(call string)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		codes:       map[string]*marketplace.Token{},
		profiles:    map[string]*marketplace.UserProfile{},
		listings:    map[string]int{},
		orders:      map[string]int{},
		profileErr:  map[string]error{},
		listingsErr: map[string]error{},
		ordersErr:   map[string]error{},
	}
}

// addCode registers an authorization code for marketplace identity mid.
func (f *fakeAPI) addCode(code, mid, access, refresh string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = &marketplace.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       mid,
		ExpiresAt:    time.Now().Add(6 * time.Hour),
	}
}

// addSeller registers a seller profile with metrics.
func (f *fakeAPI) addSeller(mid, nickname string, listings, orders int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := strconv.ParseInt(mid, 10, 64)
	f.profiles[mid] = &marketplace.UserProfile{
		ID:        id,
		Nickname:  nickname,
		FirstName: "First " + nickname,
		CountryID: "AR",
		SiteID:    "MLA",
		SellerReputation: &marketplace.SellerReputation{
			Transactions: &marketplace.Transactions{Completed: orders},
		},
	}
	f.listings[mid] = listings
	f.orders[mid] = orders
}

func (f *fakeAPI) failAll(mid string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileErr[mid] = err
	f.listingsErr[mid] = err
	f.ordersErr[mid] = err
}

func (f *fakeAPI) AuthCodeURL(state string) string {
	return "https://auth.example.com/authorization?state=" + state
}

func (f *fakeAPI) ExchangeCode(_ context.Context, code string) (*marketplace.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	tok, ok := f.codes[code]
	if !ok {
		return nil, apperror.ExternalAPI(400, `{"error":"invalid_grant"}`)
	}
	cp := *tok
	return &cp, nil
}

func (f *fakeAPI) Refresh(_ context.Context, refreshToken string) (*marketplace.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshed == nil {
		return nil, apperror.ExternalAPI(400, "no refresh configured")
	}
	cp := *f.refreshed
	if cp.RefreshToken == "" {
		cp.RefreshToken = refreshToken
	}
	return &cp, nil
}

func (f *fakeAPI) GetUser(_ context.Context, _ string, mid string) (*marketplace.UserProfile, error) {
	if f.beforeCall != nil {
		f.beforeCall(callProfile)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	if err := f.profileErr[mid]; err != nil {
		return nil, err
	}
	p, ok := f.profiles[mid]
	if !ok {
		return nil, apperror.ExternalAPI(404, "user not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakeAPI) GetMe(_ context.Context, accessToken string) (*marketplace.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meErr != nil {
		return nil, f.meErr
	}
	return &marketplace.UserProfile{ID: 1, Nickname: "me-" + accessToken}, nil
}

func (f *fakeAPI) CountActiveListings(_ context.Context, _ string, mid string) (int, error) {
	if f.beforeCall != nil {
		f.beforeCall(callListings)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listingsErr[mid]; err != nil {
		return 0, err
	}
	return f.listings[mid], nil
}

func (f *fakeAPI) CompletedTransactions(_ context.Context, _ string, mid string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ordersErr[mid]; err != nil {
		return 0, err
	}
	return f.orders[mid], nil
}

// fakeObserver records link and refresh outcomes.
type fakeObserver struct {
	mu       sync.Mutex
	links    map[string]int
	refreshs map[string]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{links: map[string]int{}, refreshs: map[string]int{}}
}

func (o *fakeObserver) ObserveLink(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.links[result]++
}

func (o *fakeObserver) ObserveRefresh(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshs[outcome]++
}

func (o *fakeObserver) link(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[result]
}

func (o *fakeObserver) refresh(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refreshs[outcome]
}

// failingTxStore delegates reads to a real store but fails every WithTx.
type failingTxStore struct {
	repository.Store
	err error
}

func (s failingTxStore) WithTx(context.Context, func(repository.Store) error) error {
	return s.err
}

var errDiskFull = errors.New("database or disk is full")

// seedAccount inserts an active account for userID directly in the store.
func seedAccount(t *testing.T, store repository.Store, userID, mid string) *model.MarketplaceAccount {
	t.Helper()
	acc := &model.MarketplaceAccount{
		UserID:            userID,
		MarketplaceUserID: mid,
		Nickname:          "seller_" + mid,
		AccessToken:       "access-" + mid,
		RefreshToken:      "refresh-" + mid,
		IsActive:          true,
	}
	require.NoError(t, store.Accounts().Create(context.Background(), acc))
	return acc
}

func countAccounts(t *testing.T, store repository.Store, userID string) int {
	t.Helper()
	n, err := store.Accounts().CountByUser(context.Background(), userID)
	require.NoError(t, err)
	return n
}
