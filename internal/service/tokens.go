package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/metrics"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
)

// clientTokenTTL is the expiry assumed for tokens relayed by the front end,
// which does not report the real lifetime.
const clientTokenTTL = 6 * time.Hour

// TokenManager links marketplace accounts and keeps their tokens current.
//
// LINKING RULES (both entry points):
//   - identity unseen             → create an account owned by the caller
//   - identity owned by the caller → update tokens in place, mark active
//   - identity owned by another    → AlreadyLinked, nothing is written
//
// The ownership check runs before the insert, and the UNIQUE constraint on
// the identity backs it up: an insert that loses a race gets ErrConflict,
// after which the lookup runs once more and takes the update branch.
type TokenManager struct {
	store    repository.Store
	api      MarketplaceAPI
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

func NewTokenManager(store repository.Store, api MarketplaceAPI, observer Observer, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		store:    store,
		api:      api,
		observer: observerOrNop(observer),
		logger:   logger,
		now:      time.Now,
	}
}

// LinkResult is the outcome of a link. Created is false for a re-link.
type LinkResult struct {
	Account *model.MarketplaceAccount `json:"account"`
	Created bool                      `json:"created"`
}

// SaveTokensInput carries tokens obtained by a separate front-end leg.
type SaveTokensInput struct {
	AccessToken       string `json:"access_token"`
	RefreshToken      string `json:"refresh_token"`
	MarketplaceUserID string `json:"user_id"`
}

type linkRequest struct {
	accessToken       string
	refreshToken      string
	marketplaceUserID string
	expiresAt         *time.Time
	alias             func(user *model.User, nickname string) string
}

// AuthCodeURL returns the marketplace authorization URL.
func (m *TokenManager) AuthCodeURL(state string) string {
	return m.api.AuthCodeURL(state)
}

// ExchangeAuthorizationCode trades an authorization code for tokens and
// links the resulting marketplace identity to userID.
func (m *TokenManager) ExchangeAuthorizationCode(ctx context.Context, userID, code string) (*LinkResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.ValidationFailed("code", "authorization code is required")
	}

	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	tok, err := m.api.ExchangeCode(ctx, code)
	if err != nil {
		m.observer.ObserveLink(metrics.LinkFailed)
		return nil, fmt.Errorf("service/tokens: exchanging code: %w", err)
	}
	if tok.UserID == "" {
		m.observer.ObserveLink(metrics.LinkFailed)
		return nil, apperror.ExternalAPI(200, "token response has no user_id")
	}

	var expiresAt *time.Time
	if !tok.ExpiresAt.IsZero() {
		t := tok.ExpiresAt.UTC()
		expiresAt = &t
	}

	return m.link(ctx, user, linkRequest{
		accessToken:       tok.AccessToken,
		refreshToken:      tok.RefreshToken,
		marketplaceUserID: tok.UserID,
		expiresAt:         expiresAt,
		alias: func(_ *model.User, nickname string) string {
			return "Marketplace account - " + nickname
		},
	})
}

// SaveTokensFromClient links an identity from tokens relayed by the front
// end. The expiry is estimated as six hours from now.
func (m *TokenManager) SaveTokensFromClient(ctx context.Context, userID string, in SaveTokensInput) (*LinkResult, error) {
	in.AccessToken = strings.TrimSpace(in.AccessToken)
	in.MarketplaceUserID = strings.TrimSpace(in.MarketplaceUserID)
	if in.AccessToken == "" {
		return nil, apperror.ValidationFailed("access_token", "access_token is required")
	}
	if in.MarketplaceUserID == "" {
		return nil, apperror.ValidationFailed("user_id", "user_id is required")
	}

	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	expiresAt := m.now().UTC().Add(clientTokenTTL)
	return m.link(ctx, user, linkRequest{
		accessToken:       in.AccessToken,
		refreshToken:      strings.TrimSpace(in.RefreshToken),
		marketplaceUserID: in.MarketplaceUserID,
		expiresAt:         &expiresAt,
		alias: func(u *model.User, _ string) string {
			return "Main account - " + u.Username
		},
	})
}

// RefreshAccessToken exchanges the account's refresh token for a new pair.
// token_expires_at only changes when the marketplace reports an expiry.
func (m *TokenManager) RefreshAccessToken(ctx context.Context, userID, accountID string) (*model.MarketplaceAccount, error) {
	acc, err := loadOwnedAccount(ctx, m.store.Accounts(), userID, accountID)
	if err != nil {
		return nil, err
	}
	if acc.RefreshToken == "" {
		return nil, apperror.NoRefreshToken(acc.ID)
	}

	tok, err := m.api.Refresh(ctx, acc.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh rejected",
			slog.String("accountID", acc.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/tokens: refreshing account %s: %w", acc.ID, err)
	}

	acc.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acc.RefreshToken = tok.RefreshToken
	}
	if !tok.ExpiresAt.IsZero() {
		t := tok.ExpiresAt.UTC()
		acc.TokenExpiresAt = &t
	}

	if err := m.store.Accounts().UpdateTokens(ctx, acc); err != nil {
		return nil, fmt.Errorf("service/tokens: saving refreshed tokens: %w", persistErr("save refreshed tokens", err))
	}

	m.logger.Info("access token refreshed", slog.String("accountID", acc.ID))
	return acc, nil
}

func (m *TokenManager) loadUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := m.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("user no longer exists")
		}
		return nil, persistErr("load user", err)
	}
	return user, nil
}

func (m *TokenManager) link(ctx context.Context, user *model.User, req linkRequest) (*LinkResult, error) {
	res, err := m.tryLink(ctx, user, req)
	if errors.Is(err, apperror.ErrConflict) {
		// Another request inserted the same identity between our lookup
		// and our insert. The row exists now; decide again.
		res, err = m.tryLink(ctx, user, req)
	}

	switch {
	case err == nil && res.Created:
		m.observer.ObserveLink(metrics.LinkCreated)
	case err == nil:
		m.observer.ObserveLink(metrics.LinkRelinked)
	case errors.Is(err, apperror.ErrAlreadyLinked):
		m.observer.ObserveLink(metrics.LinkAlreadyLinked)
	default:
		m.observer.ObserveLink(metrics.LinkFailed)
	}
	return res, err
}

func (m *TokenManager) tryLink(ctx context.Context, user *model.User, req linkRequest) (*LinkResult, error) {
	existing, err := m.store.Accounts().GetByMarketplaceUserID(ctx, req.marketplaceUserID)
	switch {
	case err == nil:
		return m.relink(ctx, user, existing, req)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, persistErr("look up marketplace account", err)
	}

	acc := m.newAccount(ctx, user, req)
	err = m.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Accounts().Create(ctx, acc); err != nil {
			return err
		}
		return m.recordLegacy(ctx, tx, user, req)
	})
	if err != nil {
		return nil, persistErr("create marketplace account", err)
	}

	m.logger.Info("marketplace account linked",
		slog.String("userID", user.ID),
		slog.String("accountID", acc.ID),
		slog.String("marketplaceUserID", acc.MarketplaceUserID),
	)
	return &LinkResult{Account: acc, Created: true}, nil
}

func (m *TokenManager) relink(ctx context.Context, user *model.User, acc *model.MarketplaceAccount, req linkRequest) (*LinkResult, error) {
	if acc.UserID != user.ID {
		m.logger.Warn("marketplace account owned by another user",
			slog.String("userID", user.ID),
			slog.String("marketplaceUserID", req.marketplaceUserID),
		)
		return nil, apperror.AlreadyLinked(req.marketplaceUserID)
	}

	acc.AccessToken = req.accessToken
	if req.refreshToken != "" {
		acc.RefreshToken = req.refreshToken
	}
	if req.expiresAt != nil {
		acc.TokenExpiresAt = req.expiresAt
	}

	// Tokens and the active flag are written separately and the row is
	// re-read in between, so alias and cached metrics stay as stored.
	err := m.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Accounts().UpdateTokens(ctx, acc); err != nil {
			return err
		}
		fresh, err := tx.Accounts().GetByID(ctx, acc.ID)
		if err != nil {
			return err
		}
		fresh.IsActive = true
		if err := tx.Accounts().UpdateSettings(ctx, fresh); err != nil {
			return err
		}
		acc = fresh
		return m.recordLegacy(ctx, tx, user, req)
	})
	if err != nil {
		return nil, persistErr("update marketplace account", err)
	}

	m.logger.Info("marketplace account re-linked",
		slog.String("userID", user.ID),
		slog.String("accountID", acc.ID),
	)
	return &LinkResult{Account: acc, Created: false}, nil
}

// newAccount builds a fresh account. The profile fetch is best effort: on
// failure the nickname falls back to a placeholder derived from the id.
func (m *TokenManager) newAccount(ctx context.Context, user *model.User, req linkRequest) *model.MarketplaceAccount {
	acc := &model.MarketplaceAccount{
		UserID:            user.ID,
		MarketplaceUserID: req.marketplaceUserID,
		Nickname:          placeholderNickname(req.marketplaceUserID),
		AccessToken:       req.accessToken,
		RefreshToken:      req.refreshToken,
		TokenExpiresAt:    req.expiresAt,
		IsActive:          true,
		TotalSales:        decimal.Zero,
	}

	profile, err := m.api.GetUser(ctx, req.accessToken, req.marketplaceUserID)
	if err != nil {
		m.logger.Warn("profile fetch failed, using placeholder nickname",
			slog.String("marketplaceUserID", req.marketplaceUserID),
			slog.String("error", err.Error()),
		)
	} else {
		applyProfile(acc, profile)
	}

	acc.Alias = req.alias(user, acc.Nickname)
	return acc
}

// recordLegacy fills the deprecated single-account columns the first time
// a user links anything. The repository refuses to overwrite them.
func (m *TokenManager) recordLegacy(ctx context.Context, tx repository.Store, user *model.User, req linkRequest) error {
	if user.HasLegacyTokens() {
		return nil
	}
	_, err := tx.Users().SetLegacyTokens(ctx, user.ID, req.accessToken, req.refreshToken, req.marketplaceUserID)
	return err
}

func placeholderNickname(marketplaceUserID string) string {
	return "seller_" + marketplaceUserID
}
