package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanTier represents a subscription tier (e.g. Basic, Pro, Premium).
// Tiers are created and edited only through administrative tooling and are
// never deleted while a subscription period references them.
type PlanTier struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	MonthlyPrice       decimal.Decimal `json:"monthly_price"`
	StorageLimitGB     int             `json:"storage_limit_gb"`
	HasPremiumFeatures bool            `json:"has_premium_features"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
