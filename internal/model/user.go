// Package model defines the data structures used throughout the application.
package model

import "time"

// User is an internal account that can own many marketplace accounts.
//
// LEGACY FIELDS:
// Before multi-account support a user held exactly one marketplace token
// pair directly on the row. Those columns survive as a compatibility view:
// they are written once, when the user links their very first account,
// and nothing reads them except the legacy migration tool.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	// SessionToken is the currently valid session JWT. Empty after logout.
	SessionToken string `json:"-"`

	// Deprecated: read linked accounts through MarketplaceAccount.
	LegacyAccessToken string `json:"-"`
	// Deprecated: read linked accounts through MarketplaceAccount.
	LegacyRefreshToken string `json:"-"`
	// Deprecated: read linked accounts through MarketplaceAccount.
	LegacyMarketplaceUserID string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasLegacyTokens reports whether the legacy single-account fields are set.
func (u *User) HasLegacyTokens() bool {
	return u.LegacyAccessToken != "" && u.LegacyMarketplaceUserID != ""
}
