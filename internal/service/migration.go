package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
)

// MigrationReport counts what a legacy migration run did.
//
//	Scanned    users carrying legacy tokens
//	Created    accounts inserted (or that would be, in a dry run)
//	Skipped    users whose identity already has an account of theirs
//	Conflicted users whose identity is linked to someone else
//	Failed     users whose account could not be written
type MigrationReport struct {
	Scanned    int  `json:"scanned"`
	Created    int  `json:"created"`
	Skipped    int  `json:"skipped"`
	Conflicted int  `json:"conflicted"`
	Failed     int  `json:"failed"`
	DryRun     bool `json:"dryRun"`
}

// LegacyMigrator back-fills marketplace accounts from the legacy
// single-account columns on users. Running it again is a no-op for users
// already migrated.
type LegacyMigrator struct {
	store  repository.Store
	logger *slog.Logger
	dryRun bool
}

type MigratorOption func(*LegacyMigrator)

// WithDryRun makes Run report what it would do without writing.
func WithDryRun(dryRun bool) MigratorOption {
	return func(m *LegacyMigrator) { m.dryRun = dryRun }
}

func NewLegacyMigrator(store repository.Store, logger *slog.Logger, opts ...MigratorOption) *LegacyMigrator {
	m := &LegacyMigrator{store: store, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run migrates every user with legacy tokens. A single user's failure is
// counted and logged; only a failure to list users aborts the run.
func (m *LegacyMigrator) Run(ctx context.Context) (*MigrationReport, error) {
	users, err := m.store.Users().ListWithLegacyTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/migration: listing users: %w", persistErr("list legacy users", err))
	}

	report := &MigrationReport{Scanned: len(users), DryRun: m.dryRun}
	for i := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		user := &users[i]
		created, err := m.migrateUser(ctx, user)
		switch {
		case err == nil && created:
			report.Created++
		case err == nil:
			report.Skipped++
		case errors.Is(err, apperror.ErrAlreadyLinked):
			report.Conflicted++
			m.logger.Warn("legacy identity linked to another user",
				slog.String("userID", user.ID),
				slog.String("marketplaceUserID", user.LegacyMarketplaceUserID),
			)
		default:
			report.Failed++
			m.logger.Error("legacy migration failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("legacy migration finished",
		slog.Bool("dryRun", report.DryRun),
		slog.Int("scanned", report.Scanned),
		slog.Int("created", report.Created),
		slog.Int("skipped", report.Skipped),
		slog.Int("conflicted", report.Conflicted),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (m *LegacyMigrator) migrateUser(ctx context.Context, user *model.User) (bool, error) {
	mid := user.LegacyMarketplaceUserID

	existing, err := m.store.Accounts().GetByMarketplaceUserID(ctx, mid)
	switch {
	case err == nil && existing.UserID == user.ID:
		return false, nil
	case err == nil:
		return false, apperror.AlreadyLinked(mid)
	case !errors.Is(err, apperror.ErrNotFound):
		return false, err
	}

	if m.dryRun {
		return true, nil
	}

	acc := &model.MarketplaceAccount{
		UserID:            user.ID,
		MarketplaceUserID: mid,
		Nickname:          placeholderNickname(mid),
		AccessToken:       user.LegacyAccessToken,
		RefreshToken:      user.LegacyRefreshToken,
		IsActive:          true,
		Alias:             "Main account - " + user.Username,
		TotalSales:        decimal.Zero,
		CreatedAt:         user.CreatedAt,
	}
	if err := m.store.Accounts().Create(ctx, acc); err != nil {
		return false, err
	}

	m.logger.Info("legacy account migrated",
		slog.String("userID", user.ID),
		slog.String("accountID", acc.ID),
	)
	return true, nil
}
