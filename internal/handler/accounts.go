package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/service"
)

// AccountManager is the part of service.AccountService the handlers use.
type AccountManager interface {
	List(ctx context.Context, userID string) ([]model.MarketplaceAccount, error)
	Get(ctx context.Context, userID, accountID string) (*model.MarketplaceAccount, error)
	Update(ctx context.Context, userID, accountID string, in model.AccountUpdate) (*model.MarketplaceAccount, error)
	Delete(ctx context.Context, userID, accountID string) error
	DailyMetrics(ctx context.Context, userID, accountID string, since time.Time) ([]model.DailyMetricsSnapshot, error)
	RefreshProfile(ctx context.Context, userID, accountID string) (*model.MarketplaceAccount, error)
}

// Refresher is the part of service.MetricsSynchronizer the handlers use.
type Refresher interface {
	RefreshOne(ctx context.Context, userID, accountID string) (*service.RefreshResult, error)
	RefreshAll(ctx context.Context, userID string) (*service.RefreshSummary, error)
	LiveMetrics(ctx context.Context, userID, accountID string) (*service.MetricsResult, error)
}

// TokenRefresher renews an account's access token.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, userID, accountID string) (*model.MarketplaceAccount, error)
}

// AccountHandler serves /api/accounts. Every operation is scoped to the
// session user; someone else's account answers 404 like a missing one.
type AccountHandler struct {
	accounts  AccountManager
	refresher Refresher
	tokens    TokenRefresher
	logger    *slog.Logger
}

func NewAccountHandler(accounts AccountManager, refresher Refresher, tokens TokenRefresher, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		refresher: refresher,
		tokens:    tokens,
		logger:    logger,
	}
}

// HandleList returns all of the user's accounts in creation order.
//
// HTTP: GET /api/accounts
func (h *AccountHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	accounts, err := h.accounts.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if accounts == nil {
		accounts = []model.MarketplaceAccount{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// HandleGet returns one account.
//
// HTTP: GET /api/accounts/{id}
func (h *AccountHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withAccount(w, r, func(ctx context.Context, userID, id string) (any, error) {
		return h.accounts.Get(ctx, userID, id)
	})
}

// HandleUpdate changes the alias and/or active flag.
//
// HTTP: PATCH /api/accounts/{id}
// REQUEST BODY: {"alias": "Store B", "isActive": false}
func (h *AccountHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in model.AccountUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	h.withAccount(w, r, func(ctx context.Context, userID, id string) (any, error) {
		return h.accounts.Update(ctx, userID, id, in)
	})
}

// HandleDelete removes an account and its snapshots.
//
// HTTP: DELETE /api/accounts/{id} → 204
func (h *AccountHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.accounts.Delete(r.Context(), user.ID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRefresh pulls live metrics for one account and stores them.
//
// HTTP: POST /api/accounts/{id}/refresh
func (h *AccountHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	h.withAccount(w, r, func(ctx context.Context, userID, id string) (any, error) {
		return h.refresher.RefreshOne(ctx, userID, id)
	})
}

// HandleRefreshAll refreshes every active account of the user. Per-account
// failures are reported in the body; the status is 200 regardless.
//
// HTTP: POST /api/accounts/refresh
func (h *AccountHandler) HandleRefreshAll(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	summary, err := h.refresher.RefreshAll(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleRefreshToken exchanges the stored refresh token for a new pair.
//
// HTTP: POST /api/accounts/{id}/refresh-token
func (h *AccountHandler) HandleRefreshToken(w http.ResponseWriter, r *http.Request) {
	h.withAccount(w, r, func(ctx context.Context, userID, id string) (any, error) {
		return h.tokens.RefreshAccessToken(ctx, userID, id)
	})
}

// HandleRefreshProfile re-reads the seller profile from the marketplace.
//
// HTTP: POST /api/accounts/{id}/profile
func (h *AccountHandler) HandleRefreshProfile(w http.ResponseWriter, r *http.Request) {
	h.withAccount(w, r, func(ctx context.Context, userID, id string) (any, error) {
		return h.accounts.RefreshProfile(ctx, userID, id)
	})
}

// HandleLiveMetrics fetches metrics without persisting them.
//
// HTTP: GET /api/accounts/{id}/live-metrics
func (h *AccountHandler) HandleLiveMetrics(w http.ResponseWriter, r *http.Request) {
	h.withAccount(w, r, func(ctx context.Context, userID, id string) (any, error) {
		return h.refresher.LiveMetrics(ctx, userID, id)
	})
}

// HandleDailyMetrics returns stored snapshots, newest first.
//
// HTTP: GET /api/accounts/{id}/daily-metrics?since=2026-01-31
//
// Without since the service default window applies.
func (h *AccountHandler) HandleDailyMetrics(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			writeError(w, apperror.ValidationFailed("since", "since must be a date in YYYY-MM-DD format"))
			return
		}
		since = t
	}

	h.withAccount(w, r, func(ctx context.Context, userID, id string) (any, error) {
		snaps, err := h.accounts.DailyMetrics(ctx, userID, id, since)
		if snaps == nil && err == nil {
			snaps = []model.DailyMetricsSnapshot{}
		}
		return snaps, err
	})
}

// withAccount resolves the session user and {id}, runs fn and writes its
// result as a 200 response.
func (h *AccountHandler) withAccount(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, id string) (any, error)) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := fn(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
