package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketplaceAccount is one linked seller account.
//
// MarketplaceUserID is unique across the whole system: one seller identity
// belongs to exactly one internal user. Tokens are never serialized.
type MarketplaceAccount struct {
	ID                string `json:"id"`
	UserID            string `json:"userId"`
	MarketplaceUserID string `json:"marketplaceUserId"`

	Nickname  string `json:"nickname"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	CountryID string `json:"countryId"`
	SiteID    string `json:"siteId"`

	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`

	IsActive bool   `json:"isActive"`
	Alias    string `json:"alias"`

	// Cached metrics, overwritten on every successful refresh.
	TotalSales        decimal.Decimal `json:"totalSales"`
	TotalOrders       int             `json:"totalOrders"`
	ActiveListings    int             `json:"activeListings"`
	LastMetricsUpdate *time.Time      `json:"lastMetricsUpdate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DisplayName returns the alias, falling back to the nickname.
func (a *MarketplaceAccount) DisplayName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Nickname
}

// AccountUpdate holds the user-settable fields of an account.
// nil means "leave unchanged".
type AccountUpdate struct {
	Alias    *string `json:"alias"`
	IsActive *bool   `json:"isActive"`
}
