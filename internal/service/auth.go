package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/auth"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 6
)

// AuthService handles registration, login and session checks.
//
// SESSIONS:
// A session token is a signed JWT that is also stored on the user row.
// Authenticate requires both: a valid signature and an exact match with
// the stored value. Logging in again replaces the stored token, so only
// the latest session is valid; logging out clears it.
type AuthService struct {
	store     repository.Store
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	store repository.Store,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the user and the issued session token, so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Profile is what GET /api/profile returns.
type Profile struct {
	User         *model.User `json:"user"`
	Linked       bool        `json:"linked"`
	AccountCount int         `json:"accountCount"`
}

var _ auth.SessionValidator = (*AuthService)(nil)

// Register creates a user with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", minUsernameLen, maxUsernameLen))
	}
	if len(password) < minPasswordLen {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password is too long")
	}

	user := &model.User{Username: username, PasswordHash: hash}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "username already exists",
				Field:   "username",
			}
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", persistErr("create user", err))
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Login verifies credentials and starts a new session.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	invalid := apperror.Unauthorized("invalid username or password")

	user, err := s.store.Users().GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: loading user: %w", persistErr("load user", err))
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("password verification failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, invalid
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	if err := s.store.Users().SetSessionToken(ctx, user.ID, token); err != nil {
		return nil, fmt.Errorf("service/auth: storing session: %w", persistErr("store session", err))
	}
	user.SessionToken = token

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// Logout revokes the user's current session.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.store.Users().SetSessionToken(ctx, userID, ""); err != nil {
		return fmt.Errorf("service/auth: clearing session: %w", persistErr("clear session", err))
	}
	s.logger.Info("user logged out", slog.String("userID", userID))
	return nil
}

// Authenticate implements auth.SessionValidator.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperror.Unauthorized("session is invalid or expired")
	}

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("session is invalid or expired")
		}
		return nil, fmt.Errorf("service/auth: loading user: %w", persistErr("load user", err))
	}
	if user.SessionToken == "" || user.SessionToken != token {
		return nil, apperror.Unauthorized("session has been revoked")
	}
	return user, nil
}

// Profile reports whether the user has linked any account. It reads the
// accounts table, never the legacy columns.
func (s *AuthService) Profile(ctx context.Context, user *model.User) (*Profile, error) {
	n, err := s.store.Accounts().CountByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: counting accounts: %w", persistErr("count accounts", err))
	}
	return &Profile{User: user, Linked: n > 0, AccountCount: n}, nil
}
