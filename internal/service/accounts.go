package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/marketplace"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
)

const (
	maxAliasLen         = 100
	defaultMetricsRange = 30 * 24 * time.Hour
)

// AccountService manages a user's linked accounts. Every method checks
// ownership; another user's account looks exactly like a missing one.
type AccountService struct {
	store  repository.Store
	api    MarketplaceAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewAccountService(store repository.Store, api MarketplaceAPI, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		api:    api,
		logger: logger,
		now:    time.Now,
	}
}

// List returns all of the user's accounts, active or not.
func (s *AccountService) List(ctx context.Context, userID string) ([]model.MarketplaceAccount, error) {
	accounts, err := s.store.Accounts().ListByUser(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("service/accounts: listing: %w", persistErr("list accounts", err))
	}
	return accounts, nil
}

func (s *AccountService) Get(ctx context.Context, userID, accountID string) (*model.MarketplaceAccount, error) {
	return loadOwnedAccount(ctx, s.store.Accounts(), userID, accountID)
}

// Update applies the user-settable fields. An empty alias is allowed and
// makes the account display its nickname.
func (s *AccountService) Update(ctx context.Context, userID, accountID string, in model.AccountUpdate) (*model.MarketplaceAccount, error) {
	if in.Alias == nil && in.IsActive == nil {
		return nil, apperror.ValidationFailed("", "nothing to update")
	}
	if in.Alias != nil {
		alias := strings.TrimSpace(*in.Alias)
		if utf8.RuneCountInString(alias) > maxAliasLen {
			return nil, apperror.ValidationFailed("alias",
				fmt.Sprintf("alias must be at most %d characters", maxAliasLen))
		}
		in.Alias = &alias
	}

	acc, err := loadOwnedAccount(ctx, s.store.Accounts(), userID, accountID)
	if err != nil {
		return nil, err
	}
	if in.Alias != nil {
		acc.Alias = *in.Alias
	}
	if in.IsActive != nil {
		acc.IsActive = *in.IsActive
	}

	if err := s.store.Accounts().UpdateSettings(ctx, acc); err != nil {
		return nil, fmt.Errorf("service/accounts: updating %s: %w", acc.ID, persistErr("update account", err))
	}
	s.logger.Info("account updated",
		slog.String("userID", userID),
		slog.String("accountID", acc.ID),
		slog.Bool("isActive", acc.IsActive),
	)
	return acc, nil
}

// Delete removes the account together with its snapshots. When the user's
// legacy columns still name this identity they are cleared too, so a later
// legacy migration does not bring the account back.
func (s *AccountService) Delete(ctx context.Context, userID, accountID string) error {
	acc, err := loadOwnedAccount(ctx, s.store.Accounts(), userID, accountID)
	if err != nil {
		return err
	}
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Accounts().Delete(ctx, acc.ID); err != nil {
			return err
		}
		return tx.Users().ClearLegacyTokens(ctx, userID, acc.MarketplaceUserID)
	})
	if err != nil {
		return fmt.Errorf("service/accounts: deleting %s: %w", acc.ID, persistErr("delete account", err))
	}
	s.logger.Info("account deleted",
		slog.String("userID", userID),
		slog.String("accountID", acc.ID),
		slog.String("marketplaceUserID", acc.MarketplaceUserID),
	)
	return nil
}

// DailyMetrics returns snapshots dated on or after since, newest first.
// A zero since means the last 30 days.
func (s *AccountService) DailyMetrics(ctx context.Context, userID, accountID string, since time.Time) ([]model.DailyMetricsSnapshot, error) {
	acc, err := loadOwnedAccount(ctx, s.store.Accounts(), userID, accountID)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		since = s.now().UTC().Add(-defaultMetricsRange)
	}
	snaps, err := s.store.Snapshots().ListSince(ctx, acc.ID, since)
	if err != nil {
		return nil, fmt.Errorf("service/accounts: listing snapshots: %w", persistErr("list daily metrics", err))
	}
	return snaps, nil
}

// RefreshProfile re-reads the profile fields from the marketplace.
func (s *AccountService) RefreshProfile(ctx context.Context, userID, accountID string) (*model.MarketplaceAccount, error) {
	acc, err := loadOwnedAccount(ctx, s.store.Accounts(), userID, accountID)
	if err != nil {
		return nil, err
	}

	profile, err := s.api.GetUser(ctx, acc.AccessToken, acc.MarketplaceUserID)
	if err != nil {
		if errors.Is(err, marketplace.ErrUnauthorized) {
			return nil, apperror.TokenExpired(acc.ID)
		}
		return nil, fmt.Errorf("service/accounts: fetching profile for %s: %w", acc.ID, upstreamErr(err))
	}

	applyProfile(acc, profile)
	if err := s.store.Accounts().UpdateProfile(ctx, acc); err != nil {
		return nil, fmt.Errorf("service/accounts: saving profile for %s: %w", acc.ID, persistErr("save profile", err))
	}
	return acc, nil
}

// MarketplaceMe returns the marketplace profile behind the user's first
// active account.
func (s *AccountService) MarketplaceMe(ctx context.Context, userID string) (*marketplace.UserProfile, error) {
	accounts, err := s.store.Accounts().ListByUser(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("service/accounts: listing: %w", persistErr("list accounts", err))
	}
	if len(accounts) == 0 {
		return nil, &apperror.AppError{
			Err:     apperror.ErrNotFound,
			Message: "no active marketplace account linked",
		}
	}

	acc := accounts[0]
	profile, err := s.api.GetMe(ctx, acc.AccessToken)
	if err != nil {
		if errors.Is(err, marketplace.ErrUnauthorized) {
			return nil, apperror.TokenExpired(acc.ID)
		}
		return nil, fmt.Errorf("service/accounts: fetching /users/me: %w", upstreamErr(err))
	}
	return profile, nil
}
