package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nimbusvault/backend/internal/models"
	"github.com/nimbusvault/backend/internal/store"
)

// Catalog resolves plan tiers.
type Catalog interface {
	GetPlanByID(ctx context.Context, id int64) (*models.PlanTier, error)
}

// Ledger is the subscription period storage the service drives.
type Ledger interface {
	Current(ctx context.Context, userID int64) (*models.UserSubscription, error)
	Future(ctx context.Context, userID int64, now time.Time) (*models.UserSubscription, error)
	ApplyTransition(ctx context.Context, now time.Time, t models.LedgerTransition) (*models.UserSubscription, error)
}

// Service applies plan changes to a user's subscription ledger.
type Service struct {
	catalog Catalog
	ledger  Ledger
}

func NewService(catalog Catalog, ledger Ledger) *Service {
	return &Service{catalog: catalog, ledger: ledger}
}

// Result describes the outcome of a purchase or payment confirmation.
// Monetary fields are rounded to two decimal places.
type Result struct {
	Outcome      Outcome
	Detail       string
	Subscription *models.UserSubscription
	Discount     decimal.Decimal
	GapCharge    decimal.Decimal
	FinalPrice   decimal.Decimal
}

// Purchase buys planID for the user, applying upgrade credit or queueing
// a change as the ledger state dictates.
func (s *Service) Purchase(ctx context.Context, userID, planID int64, now time.Time) (*Result, error) {
	plan, err := s.lookupPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	current, future, err := s.readLedger(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	d, err := decide(current, future, plan, now, true)
	if err != nil {
		return nil, err
	}

	return s.apply(ctx, userID, now, d)
}

// ConfirmPayment records a paid checkout session for planID. The future
// period, if any, is not consulted; a change is either applied now or
// queued behind the current period.
func (s *Service) ConfirmPayment(ctx context.Context, userID, planID int64, sessionID, paymentIntent string, now time.Time) (*Result, error) {
	plan, err := s.lookupPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	current, _, err := s.readLedger(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	d, err := decide(current, nil, plan, now, false)
	if err != nil {
		return nil, err
	}
	if d.transition.Create != nil {
		if sessionID != "" {
			d.transition.Create.StripeSessionID = &sessionID
		}
		if paymentIntent != "" {
			d.transition.Create.StripePaymentIntent = &paymentIntent
		}
	}

	return s.apply(ctx, userID, now, d)
}

func (s *Service) lookupPlan(ctx context.Context, planID int64) (*models.PlanTier, error) {
	plan, err := s.catalog.GetPlanByID(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			return nil, ErrUnknownPlan
		}
		return nil, fmt.Errorf("look up plan %d: %w", planID, err)
	}
	return plan, nil
}

func (s *Service) readLedger(ctx context.Context, userID int64, now time.Time) (current, future *models.UserSubscription, err error) {
	current, err = s.ledger.Current(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("read current subscription: %w", err)
	}
	future, err = s.ledger.Future(ctx, userID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("read future subscription: %w", err)
	}
	return current, future, nil
}

func (s *Service) apply(ctx context.Context, userID int64, now time.Time, d *decision) (*Result, error) {
	d.transition.UserID = userID
	created, err := s.ledger.ApplyTransition(ctx, now, d.transition)
	if err != nil {
		if errors.Is(err, store.ErrActivePeriodExists) || errors.Is(err, store.ErrFuturePeriodExists) {
			return nil, ErrPendingChange
		}
		return nil, fmt.Errorf("apply subscription transition: %w", err)
	}
	return &Result{
		Outcome:      d.outcome,
		Detail:       d.detail,
		Subscription: created,
		Discount:     d.discount.Round(2),
		GapCharge:    d.gapCharge.Round(2),
		FinalPrice:   d.finalPrice.Round(2),
	}, nil
}
