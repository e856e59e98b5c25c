package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/nimbusvault/backend/internal/models"
	"github.com/nimbusvault/backend/internal/subscription"
)

// Purchaser defines the behaviour required from the subscription service.
type Purchaser interface {
	Purchase(ctx context.Context, userID, planID int64, now time.Time) (*subscription.Result, error)
}

type purchasePayload struct {
	PlanID int64 `json:"plan_id"`
}

type subscriptionPayload struct {
	ID        int64  `json:"id"`
	PlanID    int64  `json:"plan_id"`
	PlanName  string `json:"plan_name,omitempty"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsActive  bool   `json:"is_active"`
}

func subscriptionJSON(sub *models.UserSubscription) subscriptionPayload {
	p := subscriptionPayload{
		ID:        sub.ID,
		PlanID:    sub.PlanID,
		StartDate: sub.StartDate.Format(time.RFC3339),
		EndDate:   sub.EndDate.Format(time.RFC3339),
		IsActive:  sub.IsActive,
	}
	if sub.Plan != nil {
		p.PlanName = sub.Plan.Name
	}
	return p
}

// MySubscription creates an HTTP handler that returns the caller's
// current subscription.
func MySubscription(subs SubscriptionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		current, err := subs.Current(r.Context(), userID)
		if err != nil {
			log.Printf("MySubscription: failed to read subscription for user %d: %v", userID, err)
			http.Error(w, "failed to read subscription", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if current == nil {
			json.NewEncoder(w).Encode(map[string]any{"detail": "No active subscription."})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"subscription": subscriptionJSON(current)})
	}
}

// SubscriptionHistory creates an HTTP handler that returns the caller's
// full subscription ledger, partitioned into active, future, and past
// periods relative to the request time.
func SubscriptionHistory(subs SubscriptionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		now := time.Now().UTC()

		history, err := subs.History(r.Context(), userID)
		if err != nil {
			log.Printf("SubscriptionHistory: failed to read history for user %d: %v", userID, err)
			http.Error(w, "failed to read subscription history", http.StatusInternalServerError)
			return
		}

		active := make([]subscriptionPayload, 0)
		future := make([]subscriptionPayload, 0)
		past := make([]subscriptionPayload, 0)
		for i := range history {
			sub := &history[i]
			switch {
			case sub.IsCurrentAt(now):
				active = append(active, subscriptionJSON(sub))
			case sub.IsFutureAt(now):
				future = append(future, subscriptionJSON(sub))
			default:
				past = append(past, subscriptionJSON(sub))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"active": active,
			"future": future,
			"past":   past,
		})
	}
}

// PurchaseSubscription creates an HTTP handler that buys a plan for the
// caller, applying upgrade credit or queueing the change as needed.
func PurchaseSubscription(svc Purchaser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var payload purchasePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			log.Printf("PurchaseSubscription: invalid JSON payload: %v", err)
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		if payload.PlanID == 0 {
			http.Error(w, "plan_id is required", http.StatusBadRequest)
			return
		}

		result, err := svc.Purchase(r.Context(), userID, payload.PlanID, time.Now().UTC())
		if err != nil {
			switch {
			case errors.Is(err, subscription.ErrUnknownPlan):
				http.Error(w, "unknown plan", http.StatusBadRequest)
			case errors.Is(err, subscription.ErrPendingChange):
				http.Error(w, "You already have an active and a future subscription. Cannot buy another.", http.StatusBadRequest)
			default:
				log.Printf("PurchaseSubscription: purchase failed for user %d plan %d: %v", userID, payload.PlanID, err)
				http.Error(w, "failed to purchase subscription", http.StatusInternalServerError)
			}
			return
		}

		log.Printf("PurchaseSubscription: user %d plan %d outcome %s", userID, payload.PlanID, result.Outcome)

		body := map[string]any{
			"detail":       result.Detail,
			"final_price":  result.FinalPrice.StringFixed(2),
			"subscription": subscriptionJSON(result.Subscription),
		}
		if result.Discount.IsPositive() {
			body["discount_applied"] = result.Discount.StringFixed(2)
		}
		if result.GapCharge.IsPositive() {
			body["full_gap_charge"] = result.GapCharge.StringFixed(2)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(body)
	}
}
