// Package marketplace is the client for the marketplace's OAuth and REST API.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. The browser is sent to AuthCodeURL and the seller approves access.
//  2. The marketplace redirects back with a short-lived "code".
//  3. ExchangeCode trades the code for an access/refresh token pair
//     (server-to-server, using the client secret).
//  4. Access tokens expire after a few hours; Refresh trades the stored
//     refresh token for a new pair.
//
// REST calls use the access token as a bearer credential. Status codes are
// translated at this boundary: 401 becomes ErrUnauthorized, any other
// non-200 becomes an apperror.ExternalAPI carrying the upstream body.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sakif/sellerhub/internal/apperror"
)

// ErrUnauthorized means the marketplace rejected the access token (HTTP 401).
var ErrUnauthorized = errors.New("marketplace: access token rejected")

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "SellerHub/1.0"
	maxErrorBody     = 4 << 10
)

// Config holds the client credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// AuthURL is the browser-facing authorization page.
	AuthURL string
	// APIBaseURL hosts both /oauth/token and the REST endpoints.
	APIBaseURL string
	// Timeout bounds every outbound call. Defaults to 10s.
	Timeout   time.Duration
	UserAgent string
	// RequestsPerSecond caps outbound calls across the process; <= 0 disables.
	RequestsPerSecond float64
}

// Recorder observes every outbound call. status is 0 for transport errors.
type Recorder interface {
	MarketplaceRequest(endpoint string, status int)
}

type Option func(*Client)

// WithRecorder attaches a request recorder (Prometheus in production).
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to the marketplace. It is safe for concurrent use.
type Client struct {
	oauth     *oauth2.Config
	http      *http.Client
	baseURL   string
	userAgent string
	timeout   time.Duration
	limiter   *rate.Limiter
	recorder  Recorder
	logger    *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: baseURL + "/oauth/token",
				// The token endpoint expects credentials as form fields.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:      &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		userAgent: userAgent,
		timeout:   timeout,
		limiter:   limiter,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthCodeURL returns the URL the browser should visit to grant access.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("marketplace: exchange: %w", apperror.ExternalAPI(0, err.Error()))
	}
	ctx, cancel := context.WithTimeout(c.oauthContext(ctx), c.timeout)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, c.tokenError("exchange", err)
	}
	c.record("oauth_token", http.StatusOK)
	return toToken(tok, ""), nil
}

// Refresh trades a refresh token for a new token pair. When the response
// carries no refresh token the old one is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("marketplace: refresh: %w", apperror.ExternalAPI(0, err.Error()))
	}
	ctx, cancel := context.WithTimeout(c.oauthContext(ctx), c.timeout)
	defer cancel()

	// An empty access token is never valid, so the source always refreshes.
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.tokenError("refresh", err)
	}
	c.record("oauth_token", http.StatusOK)
	return toToken(tok, refreshToken), nil
}

// GetUser fetches GET /users/{id}.
func (c *Client) GetUser(ctx context.Context, accessToken, userID string) (*UserProfile, error) {
	var profile UserProfile
	if err := c.getJSON(ctx, "users", accessToken, "/users/"+url.PathEscape(userID), nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetMe fetches GET /users/me, the profile the token belongs to.
func (c *Client) GetMe(ctx context.Context, accessToken string) (*UserProfile, error) {
	var profile UserProfile
	if err := c.getJSON(ctx, "users_me", accessToken, "/users/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// CountActiveListings returns paging.total of the active-items search.
func (c *Client) CountActiveListings(ctx context.Context, accessToken, userID string) (int, error) {
	query := url.Values{}
	query.Set("status", "active")
	query.Set("limit", "1")

	var result ItemSearch
	path := "/users/" + url.PathEscape(userID) + "/items/search"
	if err := c.getJSON(ctx, "items_search", accessToken, path, query, &result); err != nil {
		return 0, err
	}
	return result.Paging.Total, nil
}

// CompletedTransactions reads the seller-reputation completed counter.
func (c *Client) CompletedTransactions(ctx context.Context, accessToken, userID string) (int, error) {
	var profile UserProfile
	if err := c.getJSON(ctx, "reputation", accessToken, "/users/"+url.PathEscape(userID), nil, &profile); err != nil {
		return 0, err
	}
	return profile.CompletedTransactions(), nil
}

// getJSON performs an authenticated GET and decodes a 200 body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, accessToken, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("marketplace: %s: %w", endpoint, apperror.ExternalAPI(0, err.Error()))
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("marketplace: building %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	// oauth2.NewClient wraps the base transport and adds
	// "Authorization: Bearer <token>" to every request.
	hc := oauth2.NewClient(c.oauthContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	resp, err := hc.Do(req)
	if err != nil {
		c.record(endpoint, 0)
		return fmt.Errorf("marketplace: %s: %w", endpoint, apperror.ExternalAPI(0, err.Error()))
	}
	defer resp.Body.Close()
	c.record(endpoint, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("marketplace: %s: %w", endpoint, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("marketplace: %s: %w", endpoint, apperror.ExternalAPI(resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("marketplace: decoding %s response: %w", endpoint,
			apperror.ExternalAPI(resp.StatusCode, err.Error()))
	}
	return nil
}

// oauthContext makes x/oauth2 use our HTTP client for token calls and as
// the base transport of bearer clients.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *Client) tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		c.record("oauth_token", status)
		c.logger.Warn("marketplace token request rejected",
			slog.String("op", op),
			slog.Int("status", status),
			slog.String("error_code", re.ErrorCode),
		)
		return fmt.Errorf("marketplace: %s: %w", op, apperror.ExternalAPI(status, string(re.Body)))
	}
	c.record("oauth_token", 0)
	return fmt.Errorf("marketplace: %s: %w", op, apperror.ExternalAPI(0, err.Error()))
}

func (c *Client) record(endpoint string, status int) {
	if c.recorder != nil {
		c.recorder.MarketplaceRequest(endpoint, status)
	}
}

func toToken(tok *oauth2.Token, fallbackRefresh string) *Token {
	t := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		UserID:       extraString(tok.Extra("user_id")),
		ExpiresAt:    tok.Expiry,
	}
	if t.RefreshToken == "" {
		t.RefreshToken = fallbackRefresh
	}
	return t
}

// extraString converts a raw token-response field to a string. JSON numbers
// arrive as float64.
func extraString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}
