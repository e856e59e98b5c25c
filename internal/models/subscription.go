package models

import "time"

// PeriodLength is the duration of a subscription period. Every period created
// by the purchase flow or the payment webhook spans exactly this much time.
const PeriodLength = 30 * 24 * time.Hour

// UserSubscription is one period in a user's subscription ledger: a plan tier
// held from StartDate until EndDate (exclusive) with an active flag. A user
// has at most one active period at any instant.
//
// Whether a period is current, future, or past is never stored; it is derived
// from (StartDate, EndDate, IsActive) and a caller-supplied instant so that
// queries cannot go stale.
type UserSubscription struct {
	ID                  int64      `json:"id"`
	UserID              int64      `json:"user_id"`
	PlanID              int64      `json:"plan_id"`
	StartDate           time.Time  `json:"start_date"`
	EndDate             time.Time  `json:"end_date"`
	IsActive            bool       `json:"is_active"`
	StripeSessionID     *string    `json:"stripe_session_id,omitempty"`
	StripePaymentIntent *string    `json:"stripe_payment_intent,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`

	// Plan is the referenced tier, populated on reads that join the catalog.
	Plan *PlanTier `json:"plan,omitempty"`
}

// IsCurrentAt reports whether the period covers now and is active.
func (s *UserSubscription) IsCurrentAt(now time.Time) bool {
	return !s.StartDate.After(now) && !s.EndDate.Before(now) && s.IsActive
}

// IsFutureAt reports whether the period has not started yet.
func (s *UserSubscription) IsFutureAt(now time.Time) bool {
	return s.StartDate.After(now)
}

// IsPastAt reports whether the period has ended or was deactivated.
func (s *UserSubscription) IsPastAt(now time.Time) bool {
	return s.EndDate.Before(now) || !s.IsActive
}

// LedgerTransition describes one atomic mutation of a user's ledger as decided
// by the purchase logic: optionally deactivate the current period, optionally
// delete a still-future queued period, and create exactly one new period.
//
// The store applies a transition inside a single transaction holding the
// user's ledger lock, re-checking the single-active and single-future
// invariants against current state before the insert.
type LedgerTransition struct {
	UserID         int64
	DeactivateID   *int64
	DeleteFutureID *int64
	Create         *UserSubscription
}

// User identifies an account as supplied by the identity provider. The core
// trusts the resolved user id; token issuance is not handled here.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
