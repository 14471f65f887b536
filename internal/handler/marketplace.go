package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/marketplace"
	"github.com/sakif/sellerhub/internal/service"
)

// stateCookieName holds the OAuth state between auth-url and callback.
const stateCookieName = "oauth_state"

const stateCookieTTL = 10 * time.Minute

// Linker is the part of service.TokenManager the handlers use.
type Linker interface {
	AuthCodeURL(state string) string
	ExchangeAuthorizationCode(ctx context.Context, userID, code string) (*service.LinkResult, error)
	SaveTokensFromClient(ctx context.Context, userID string, in service.SaveTokensInput) (*service.LinkResult, error)
}

// MarketplaceProfiler returns the marketplace profile of the user's
// first active account.
type MarketplaceProfiler interface {
	MarketplaceMe(ctx context.Context, userID string) (*marketplace.UserProfile, error)
}

// MarketplaceHandler drives the OAuth account-linking flow.
//
// FLOW:
//  1. GET  /api/marketplace/auth-url  → authorization URL plus a state cookie
//  2. the browser signs in at the marketplace and is redirected back
//  3. GET  /api/marketplace/callback  → code exchanged, account linked
//
// POST /api/marketplace/tokens is the alternative where the front end has
// already obtained tokens and relays them.
type MarketplaceHandler struct {
	linker       Linker
	profiles     MarketplaceProfiler
	cookieSecure bool
	logger       *slog.Logger
}

func NewMarketplaceHandler(linker Linker, profiles MarketplaceProfiler, cookieSecure bool, logger *slog.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{
		linker:       linker,
		profiles:     profiles,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

type authURLResponse struct {
	URL string `json:"url"`
}

// HandleAuthURL returns the marketplace authorization URL.
//
// HTTP: GET /api/marketplace/auth-url
func (h *MarketplaceHandler) HandleAuthURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/marketplace",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, authURLResponse{URL: h.linker.AuthCodeURL(state)})
}

// HandleCallback completes the authorization-code flow.
//
// HTTP: GET /api/marketplace/callback?code=...&state=...
//
// RESPONSES:
//
//	201 → a new account was linked
//	200 → an account this user already had was relinked
//	400 → missing code, marketplace error, or state mismatch
//	409 → the identity belongs to another user
func (h *MarketplaceHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		msg := "authorization was denied: " + e
		if d := q.Get("error_description"); d != "" {
			msg += " (" + d + ")"
		}
		writeError(w, apperror.ValidationFailed("code", msg))
		return
	}

	// The state cookie is only present when the flow started at auth-url.
	if c, err := r.Cookie(stateCookieName); err == nil && c.Value != "" {
		if subtle.ConstantTimeCompare([]byte(c.Value), []byte(q.Get("state"))) != 1 {
			writeError(w, apperror.ValidationFailed("state", "oauth state does not match"))
			return
		}
		h.clearStateCookie(w)
	}

	res, err := h.linker.ExchangeAuthorizationCode(r.Context(), user.ID, q.Get("code"))
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("marketplace account linked",
		slog.String("userId", user.ID),
		slog.String("accountId", res.Account.ID),
		slog.Bool("created", res.Created),
	)
	writeJSON(w, linkStatus(res), res)
}

// HandleSaveTokens links an account from tokens relayed by the client.
//
// HTTP: POST /api/marketplace/tokens
// REQUEST BODY: {"access_token": "...", "refresh_token": "...", "user_id": "123"}
func (h *MarketplaceHandler) HandleSaveTokens(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.SaveTokensInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.linker.SaveTokensFromClient(r.Context(), user.ID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, linkStatus(res), res)
}

// HandleMe proxies the marketplace profile of the first active account.
//
// HTTP: GET /api/marketplace/me
func (h *MarketplaceHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	profile, err := h.profiles.MarketplaceMe(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *MarketplaceHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/api/marketplace",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func linkStatus(res *service.LinkResult) int {
	if res.Created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// pathID reads the {id} route parameter.
func pathID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		return "", apperror.ValidationFailed("id", "account id is required")
	}
	return id, nil
}
