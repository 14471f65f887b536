package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used for snapshot dates.
const DateLayout = "2006-01-02"

// DailyMetricsSnapshot holds one account's metrics for one calendar day.
// (AccountID, Date) is unique; a second refresh on the same day updates
// the row in place.
type DailyMetricsSnapshot struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"accountId"`
	Date           string          `json:"date"` // YYYY-MM-DD
	DailySales     decimal.Decimal `json:"dailySales"`
	DailyOrders    int             `json:"dailyOrders"`
	DailyViews     int             `json:"dailyViews"`
	DailyQuestions int             `json:"dailyQuestions"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// DateOf formats t as a snapshot date in UTC.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
