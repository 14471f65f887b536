// Package service holds the business rules. Handlers call services,
// services call repositories and the marketplace client; nothing here
// knows about HTTP.
//
//	handler → AuthService          → repository.Store
//	        → TokenManager         → repository.Store + MarketplaceAPI
//	        → MetricsSynchronizer  → repository.Store + MarketplaceAPI
//	        → AccountService       → repository.Store + MarketplaceAPI
//	cmd/migrate-legacy → LegacyMigrator → repository.Store
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/marketplace"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
)

// MarketplaceAPI is the part of *marketplace.Client the services use.
type MarketplaceAPI interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*marketplace.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*marketplace.Token, error)
	GetUser(ctx context.Context, accessToken, userID string) (*marketplace.UserProfile, error)
	GetMe(ctx context.Context, accessToken string) (*marketplace.UserProfile, error)
	CountActiveListings(ctx context.Context, accessToken, userID string) (int, error)
	CompletedTransactions(ctx context.Context, accessToken, userID string) (int, error)
}

var _ MarketplaceAPI = (*marketplace.Client)(nil)

// Observer receives link and refresh outcomes (Prometheus in production).
type Observer interface {
	ObserveLink(result string)
	ObserveRefresh(outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveLink(string)                   {}
func (nopObserver) ObserveRefresh(string, time.Duration) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

// loadOwnedAccount returns the account only when userID owns it. A missing
// account and someone else's account produce the same NotFound error.
func loadOwnedAccount(ctx context.Context, accounts repository.AccountRepository, userID, accountID string) (*model.MarketplaceAccount, error) {
	acc, err := accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("account", accountID)
		}
		return nil, apperror.Persistence("load account", err)
	}
	if acc.UserID != userID {
		return nil, apperror.NotFound("account", accountID)
	}
	return acc, nil
}

// persistErr keeps typed application errors and wraps everything else as
// a persistence failure.
func persistErr(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Persistence(op, err)
}

// applyProfile copies non-empty profile fields onto the account.
func applyProfile(acc *model.MarketplaceAccount, p *marketplace.UserProfile) {
	if p == nil {
		return
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&acc.Nickname, p.Nickname)
	set(&acc.FirstName, p.FirstName)
	set(&acc.LastName, p.LastName)
	set(&acc.Email, p.Email)
	set(&acc.CountryID, p.CountryID)
	set(&acc.SiteID, p.SiteID)
}
