package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/marketplace"
	"github.com/sakif/sellerhub/internal/metrics"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
)

const defaultSyncWorkers = 4

// Live-metric calls, as reported in MetricsResult.Failed.
const (
	callProfile      = "profile"
	callListings     = "active_listings"
	callTransactions = "transactions"
)

// MetricsResult is one live read of an account's metrics.
//
// Each of the three upstream calls fails on its own: a failed call leaves
// its field at zero and is listed in Failed. TotalSales is always zero
// because no order-listing endpoint is consumed. TokenExpired is set when
// the profile call answers 401.
type MetricsResult struct {
	TotalSales     decimal.Decimal          `json:"totalSales"`
	TotalOrders    int                      `json:"totalOrders"`
	ActiveListings int                      `json:"activeListings"`
	Profile        *marketplace.UserProfile `json:"profile,omitempty"`
	TokenExpired   bool                     `json:"tokenExpired"`
	Failed         []string                 `json:"failed,omitempty"`

	lastErr error
}

func (r *MetricsResult) allFailed() bool {
	return len(r.Failed) == 3
}

// RefreshResult is the outcome of a successful single-account refresh.
type RefreshResult struct {
	Account  *model.MarketplaceAccount   `json:"account"`
	Snapshot *model.DailyMetricsSnapshot `json:"snapshot"`
}

// AccountRefreshOutcome reports one account inside a batch refresh.
type AccountRefreshOutcome struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	Updated      bool   `json:"updated"`
	TokenExpired bool   `json:"tokenExpired,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RefreshSummary is the outcome of RefreshAll. Results follow the order in
// which the accounts are listed, regardless of completion order.
type RefreshSummary struct {
	TotalAccounts int                     `json:"totalAccounts"`
	UpdatedCount  int                     `json:"updatedCount"`
	Results       []AccountRefreshOutcome `json:"results"`
}

// MetricsSynchronizer pulls live metrics and caches them on accounts.
//
// DURABILITY:
// Every account is refreshed in its own transaction: the cached totals and
// today's snapshot are written together or not at all. A batch never
// shares a transaction between accounts, so one bad account cannot undo
// the others.
type MetricsSynchronizer struct {
	store    repository.Store
	api      MarketplaceAPI
	observer Observer
	logger   *slog.Logger
	workers  int
	now      func() time.Time
}

func NewMetricsSynchronizer(
	store repository.Store,
	api MarketplaceAPI,
	observer Observer,
	logger *slog.Logger,
	workers int,
) *MetricsSynchronizer {
	if workers <= 0 {
		workers = defaultSyncWorkers
	}
	return &MetricsSynchronizer{
		store:    store,
		api:      api,
		observer: observerOrNop(observer),
		logger:   logger,
		workers:  workers,
		now:      time.Now,
	}
}

// FetchLiveMetrics runs the profile, listings and transactions calls
// concurrently. It never returns an error; failures are reported in the
// result.
func (s *MetricsSynchronizer) FetchLiveMetrics(ctx context.Context, accessToken, marketplaceUserID string) *MetricsResult {
	var (
		profile      *marketplace.UserProfile
		listings     int
		orders       int
		errProfile   error
		errListings  error
		errOrders    error
		tokenExpired bool
	)

	// Workers always return nil so one failed call never cancels the rest.
	var g errgroup.Group
	g.Go(func() error {
		profile, errProfile = s.api.GetUser(ctx, accessToken, marketplaceUserID)
		if errors.Is(errProfile, marketplace.ErrUnauthorized) {
			tokenExpired = true
		}
		return nil
	})
	g.Go(func() error {
		listings, errListings = s.api.CountActiveListings(ctx, accessToken, marketplaceUserID)
		return nil
	})
	g.Go(func() error {
		orders, errOrders = s.api.CompletedTransactions(ctx, accessToken, marketplaceUserID)
		return nil
	})
	_ = g.Wait()

	res := &MetricsResult{
		TotalSales:   decimal.Zero,
		TokenExpired: tokenExpired,
	}
	record := func(call string, err error) bool {
		if err == nil {
			return true
		}
		res.Failed = append(res.Failed, call)
		res.lastErr = err
		s.logger.Warn("live metric call failed",
			slog.String("call", call),
			slog.String("marketplaceUserID", marketplaceUserID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if record(callProfile, errProfile) {
		res.Profile = profile
	}
	if record(callListings, errListings) {
		res.ActiveListings = listings
	}
	if record(callTransactions, errOrders) {
		res.TotalOrders = orders
	}
	return res
}

// LiveMetrics fetches an account's metrics without persisting anything.
func (s *MetricsSynchronizer) LiveMetrics(ctx context.Context, userID, accountID string) (*MetricsResult, error) {
	acc, err := loadOwnedAccount(ctx, s.store.Accounts(), userID, accountID)
	if err != nil {
		return nil, err
	}
	res := s.FetchLiveMetrics(ctx, acc.AccessToken, acc.MarketplaceUserID)
	if res.TokenExpired {
		return nil, apperror.TokenExpired(acc.ID)
	}
	if res.allFailed() {
		return nil, fmt.Errorf("service/sync: live metrics for account %s: %w", acc.ID, upstreamErr(res.lastErr))
	}
	return res, nil
}

// RefreshOne refreshes a single account owned by userID.
//
// An expired token yields TokenExpired and nothing is written. When every
// live call fails the refresh is reported as an upstream error, also
// without writing.
func (s *MetricsSynchronizer) RefreshOne(ctx context.Context, userID, accountID string) (*RefreshResult, error) {
	acc, err := loadOwnedAccount(ctx, s.store.Accounts(), userID, accountID)
	if err != nil {
		return nil, err
	}
	return s.refreshAccount(ctx, acc)
}

// RefreshAll refreshes every active account of userID on a bounded pool.
// Per-account failures are logged and reported, never returned; only a
// failure to list the accounts fails the batch.
func (s *MetricsSynchronizer) RefreshAll(ctx context.Context, userID string) (*RefreshSummary, error) {
	accounts, err := s.store.Accounts().ListByUser(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("service/sync: listing accounts: %w", persistErr("list accounts", err))
	}

	results := make([]AccountRefreshOutcome, len(accounts))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range accounts {
		acc := &accounts[i]
		g.Go(func() error {
			out := AccountRefreshOutcome{AccountID: acc.ID, DisplayName: acc.DisplayName()}
			if _, err := s.refreshAccount(ctx, acc); err != nil {
				out.Error = err.Error()
				out.TokenExpired = errors.Is(err, apperror.ErrTokenExpired)
				s.logger.Error("account refresh failed",
					slog.String("userID", userID),
					slog.String("accountID", acc.ID),
					slog.String("error", err.Error()),
				)
			} else {
				out.Updated = true
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	summary := &RefreshSummary{TotalAccounts: len(accounts), Results: results}
	for _, r := range results {
		if r.Updated {
			summary.UpdatedCount++
		}
	}

	s.logger.Info("batch refresh finished",
		slog.String("userID", userID),
		slog.Int("total", summary.TotalAccounts),
		slog.Int("updated", summary.UpdatedCount),
	)
	return summary, nil
}

func (s *MetricsSynchronizer) refreshAccount(ctx context.Context, acc *model.MarketplaceAccount) (*RefreshResult, error) {
	start := time.Now()

	live := s.FetchLiveMetrics(ctx, acc.AccessToken, acc.MarketplaceUserID)
	if live.TokenExpired {
		s.observer.ObserveRefresh(metrics.OutcomeTokenExpired, time.Since(start))
		return nil, apperror.TokenExpired(acc.ID)
	}
	if live.allFailed() {
		s.observer.ObserveRefresh(metrics.OutcomeFailed, time.Since(start))
		return nil, fmt.Errorf("service/sync: refreshing account %s: %w", acc.ID, upstreamErr(live.lastErr))
	}

	// acc may be seconds old by now. Only the metric and profile columns
	// are written, and the row is re-read so the result carries whatever
	// tokens and settings changed meanwhile.
	updated := *acc
	now := s.now().UTC()
	updated.TotalSales = live.TotalSales
	updated.TotalOrders = live.TotalOrders
	updated.ActiveListings = live.ActiveListings
	updated.LastMetricsUpdate = &now
	applyProfile(&updated, live.Profile)

	snap := &model.DailyMetricsSnapshot{
		AccountID:   acc.ID,
		Date:        model.DateOf(now),
		DailySales:  live.TotalSales,
		DailyOrders: live.TotalOrders,
	}

	var saved *model.MarketplaceAccount
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Accounts().UpdateMetrics(ctx, &updated); err != nil {
			return err
		}
		if err := tx.Snapshots().Upsert(ctx, snap); err != nil {
			return err
		}
		var err error
		saved, err = tx.Accounts().GetByID(ctx, acc.ID)
		return err
	})
	if err != nil {
		s.observer.ObserveRefresh(metrics.OutcomeFailed, time.Since(start))
		return nil, fmt.Errorf("service/sync: saving metrics for account %s: %w",
			acc.ID, persistErr("save account metrics", err))
	}

	s.observer.ObserveRefresh(metrics.OutcomeUpdated, time.Since(start))
	return &RefreshResult{Account: saved, Snapshot: snap}, nil
}

// upstreamErr makes sure a failed live call surfaces as ErrExternalAPI.
func upstreamErr(err error) error {
	switch {
	case err == nil:
		return apperror.ExternalAPI(0, "no live metrics available")
	case errors.Is(err, apperror.ErrExternalAPI):
		return err
	case errors.Is(err, marketplace.ErrUnauthorized):
		return apperror.ExternalAPI(http.StatusUnauthorized, err.Error())
	default:
		return apperror.ExternalAPI(0, err.Error())
	}
}
