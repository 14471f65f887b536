package marketplace

import (
	"strconv"
	"time"
)

// Token is the result of a code or refresh-token exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	// UserID is the marketplace identity the token belongs to.
	UserID string
	// ExpiresAt is zero when the token endpoint did not report expires_in.
	ExpiresAt time.Time
}

// UserProfile is the subset of GET /users/{id} the service reads.
// Every field is optional on the wire.
type UserProfile struct {
	ID               int64             `json:"id"`
	Nickname         string            `json:"nickname"`
	FirstName        string            `json:"first_name"`
	LastName         string            `json:"last_name"`
	Email            string            `json:"email"`
	CountryID        string            `json:"country_id"`
	SiteID           string            `json:"site_id"`
	Permalink        string            `json:"permalink,omitempty"`
	SellerReputation *SellerReputation `json:"seller_reputation,omitempty"`
}

// IDString returns the numeric id as a string, or "" when absent.
func (p *UserProfile) IDString() string {
	if p == nil || p.ID == 0 {
		return ""
	}
	return strconv.FormatInt(p.ID, 10)
}

type SellerReputation struct {
	LevelID      *string       `json:"level_id,omitempty"`
	Transactions *Transactions `json:"transactions,omitempty"`
}

type Transactions struct {
	Completed int `json:"completed"`
	Canceled  int `json:"canceled"`
	Total     int `json:"total"`
}

// CompletedTransactions returns seller_reputation.transactions.completed,
// or 0 when any level is missing.
func (p *UserProfile) CompletedTransactions() int {
	if p == nil || p.SellerReputation == nil || p.SellerReputation.Transactions == nil {
		return 0
	}
	return p.SellerReputation.Transactions.Completed
}

// ItemSearch is the response of GET /users/{id}/items/search.
type ItemSearch struct {
	Paging  Paging   `json:"paging"`
	Results []string `json:"results"`
}

type Paging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}
