package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nimbusvault/backend/internal/models"
	"github.com/nimbusvault/backend/internal/proration"
	"github.com/nimbusvault/backend/internal/stripe"
	"github.com/nimbusvault/backend/internal/subscription"
)

// CheckoutClient defines the behaviour required from the Stripe client.
type CheckoutClient interface {
	CreateCheckoutSession(p stripe.CheckoutParams) (sessionID, sessionURL string, err error)
}

// PlanGetter resolves a single plan tier by ID.
type PlanGetter interface {
	GetPlanByID(ctx context.Context, id int64) (*models.PlanTier, error)
}

// UserGetter resolves user accounts for checkout prefill.
type UserGetter interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Confirmer defines the payment confirmation behaviour required from the
// subscription service.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, userID, planID int64, sessionID, paymentIntent string, now time.Time) (*subscription.Result, error)
}

// CheckoutConfig carries the checkout session settings.
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
	Currency   string
}

type checkoutPayload struct {
	PlanID int64 `json:"plan_id"`
}

// CreateCheckout creates an HTTP handler that starts a Stripe Checkout
// session for a plan purchase. The charged amount is the prorated price
// the purchase will settle at once the payment is confirmed.
func CreateCheckout(client CheckoutClient, plans PlanGetter, users UserGetter, subs SubscriptionReader, cfg CheckoutConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		now := time.Now().UTC()

		var payload checkoutPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			log.Printf("CreateCheckout: invalid JSON payload: %v", err)
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		if payload.PlanID == 0 {
			http.Error(w, "plan_id is required", http.StatusBadRequest)
			return
		}

		plan, err := plans.GetPlanByID(r.Context(), payload.PlanID)
		if err != nil {
			log.Printf("CreateCheckout: failed to resolve plan %d: %v", payload.PlanID, err)
			http.Error(w, "unknown plan", http.StatusBadRequest)
			return
		}

		future, err := subs.Future(r.Context(), userID, now)
		if err != nil {
			log.Printf("CreateCheckout: failed to read future subscription for user %d: %v", userID, err)
			http.Error(w, "failed to read subscription", http.StatusInternalServerError)
			return
		}
		if future != nil {
			http.Error(w, "You already have a scheduled subscription change. Wait for it to activate before purchasing again.", http.StatusBadRequest)
			return
		}

		current, err := subs.Current(r.Context(), userID)
		if err != nil {
			log.Printf("CreateCheckout: failed to read current subscription for user %d: %v", userID, err)
			http.Error(w, "failed to read subscription", http.StatusInternalServerError)
			return
		}

		user, err := users.GetUserByID(r.Context(), userID)
		if err != nil {
			log.Printf("CreateCheckout: failed to load user %d: %v", userID, err)
			http.Error(w, "failed to load account", http.StatusInternalServerError)
			return
		}

		amount := plan.MonthlyPrice
		if current != nil && current.Plan != nil && current.PlanID != plan.ID {
			_, amount = proration.TransitionPrice(current, current.Plan, plan, now)
		}
		amountCents := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

		sessionID, sessionURL, err := client.CreateCheckoutSession(stripe.CheckoutParams{
			UserID:        userID,
			PlanID:        plan.ID,
			PlanName:      plan.Name,
			CustomerEmail: user.Email,
			AmountCents:   amountCents,
			Currency:      cfg.Currency,
			SuccessURL:    cfg.SuccessURL,
			CancelURL:     cfg.CancelURL,
		})
		if err != nil {
			log.Printf("CreateCheckout: failed to create session for user %d plan %d: %v", userID, plan.ID, err)
			http.Error(w, "failed to create checkout session", http.StatusBadGateway)
			return
		}

		log.Printf("CreateCheckout: created session %s for user %d plan %d (%s %d cents)",
			sessionID, userID, plan.ID, cfg.Currency, amountCents)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session_id":   sessionID,
			"checkout_url": sessionURL,
		})
	}
}

// StripeWebhook creates an HTTP handler that processes Stripe webhook
// events. Completed checkout sessions are recorded as paid plan changes.
func StripeWebhook(svc Confirmer, webhookSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		event, err := stripe.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"), webhookSecret)
		if err != nil {
			log.Printf("StripeWebhook: rejected event: %v", err)
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		if event.Type == "checkout.session.completed" {
			if err := handleCheckoutCompleted(r.Context(), svc, event); err != nil {
				log.Printf("StripeWebhook: failed to process event %s: %v", event.ID, err)
				http.Error(w, "failed to process event", http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"received": true})
	}
}

func handleCheckoutCompleted(ctx context.Context, svc Confirmer, event *stripe.Event) error {
	session := event.Session()
	if session == nil {
		return errors.New("event has no session object")
	}

	metadata, _ := session["metadata"].(map[string]interface{})
	userIDStr, _ := metadata["user_id"].(string)
	planIDStr, _ := metadata["plan_id"].(string)
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		return errors.New("session metadata missing user_id")
	}
	planID, err := strconv.ParseInt(planIDStr, 10, 64)
	if err != nil {
		return errors.New("session metadata missing plan_id")
	}

	sessionID, _ := session["id"].(string)
	paymentIntent, _ := session["payment_intent"].(string)

	result, err := svc.ConfirmPayment(ctx, userID, planID, sessionID, paymentIntent, time.Now().UTC())
	if err != nil {
		// The payment already succeeded on Stripe's side. A conflicting
		// queued change means this confirmation raced another one;
		// acknowledge the event rather than triggering retries.
		if errors.Is(err, subscription.ErrPendingChange) {
			log.Printf("StripeWebhook: session %s for user %d conflicts with a pending change, acknowledging", sessionID, userID)
			return nil
		}
		return err
	}

	log.Printf("StripeWebhook: session %s confirmed for user %d plan %d (outcome %s)",
		sessionID, userID, planID, result.Outcome)
	return nil
}
