package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/nimbusvault/backend/internal/models"
	"github.com/nimbusvault/backend/internal/proration"
)

// PlanCatalog defines the behaviour required for listing plan tiers.
type PlanCatalog interface {
	ListPlans(ctx context.Context) ([]models.PlanTier, error)
}

// SubscriptionReader defines the read-side behaviour required from
// subscription storage.
type SubscriptionReader interface {
	Current(ctx context.Context, userID int64) (*models.UserSubscription, error)
	Future(ctx context.Context, userID int64, now time.Time) (*models.UserSubscription, error)
	History(ctx context.Context, userID int64) ([]models.UserSubscription, error)
}

type planPayload struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	MonthlyPrice       string `json:"monthly_price"`
	StorageLimitGB     int    `json:"storage_limit_gb"`
	HasPremiumFeatures bool   `json:"has_premium_features"`
	Discount           string `json:"discount,omitempty"`
	FinalPrice         string `json:"final_price,omitempty"`
}

type currentSubscriptionPayload struct {
	PlanID    int64  `json:"plan_id"`
	PlanName  string `json:"plan_name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ListPlans creates an HTTP handler that returns the plan catalog. For
// authenticated users with an active subscription, each eligible tier is
// annotated with the prorated upgrade price.
func ListPlans(catalog PlanCatalog, subs SubscriptionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()

		plans, err := catalog.ListPlans(r.Context())
		if err != nil {
			log.Printf("ListPlans: failed to list plans: %v", err)
			http.Error(w, "failed to list plans", http.StatusInternalServerError)
			return
		}

		var current *models.UserSubscription
		if userID, ok := UserID(r.Context()); ok {
			current, err = subs.Current(r.Context(), userID)
			if err != nil {
				log.Printf("ListPlans: failed to read current subscription for user %d: %v", userID, err)
				http.Error(w, "failed to read subscription", http.StatusInternalServerError)
				return
			}
			// A period can stay flagged active between its end and the
			// next sweep; an elapsed one has no remaining value to preview.
			if current != nil && !current.EndDate.After(now) {
				current = nil
			}
		}

		payload := map[string]any{}
		tiers := make([]planPayload, 0, len(plans))
		for _, p := range plans {
			tier := planPayload{
				ID:                 p.ID,
				Name:               p.Name,
				MonthlyPrice:       p.MonthlyPrice.StringFixed(2),
				StorageLimitGB:     p.StorageLimitGB,
				HasPremiumFeatures: p.HasPremiumFeatures,
			}
			if current != nil && current.Plan != nil && p.ID != current.PlanID {
				discount, finalPrice := proration.TransitionPrice(current, current.Plan, &p, now)
				if discount.IsPositive() {
					tier.Discount = discount.StringFixed(2)
					tier.FinalPrice = finalPrice.StringFixed(2)
				}
			}
			tiers = append(tiers, tier)
		}
		payload["plans"] = tiers

		if current != nil && current.Plan != nil {
			payload["current_subscription"] = currentSubscriptionPayload{
				PlanID:    current.PlanID,
				PlanName:  current.Plan.Name,
				StartDate: current.StartDate.Format(time.RFC3339),
				EndDate:   current.EndDate.Format(time.RFC3339),
			}
			payload["remaining_days"] = proration.RemainingDays(current.EndDate, now)
			payload["remaining_value"] = proration.RemainingCredit(current.Plan.MonthlyPrice, current.EndDate, now).StringFixed(2)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
	}
}
