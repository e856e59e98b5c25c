package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nimbusvault/backend/internal/models"
)

// ErrActivePeriodExists is returned when a transition would create a second
// simultaneously active period for a user.
var ErrActivePeriodExists = errors.New("user already has an active subscription period")

// ErrFuturePeriodExists is returned when a transition would queue a second
// not-yet-started period for a user.
var ErrFuturePeriodExists = errors.New("user already has a queued subscription period")

const subscriptionColumns = `
	us.id, us.user_id, us.subscription_type_id, us.start_date, us.end_date, us.is_active,
	us.stripe_session_id, us.stripe_payment_intent, us.created_at, us.updated_at,
	st.id, st.name, st.monthly_price, st.storage_limit_gb, st.has_premium_features, st.created_at, st.updated_at
`

// SubscriptionStore provides database operations for the subscription ledger.
//
// Every write that depends on a read of the same user's active flag runs in a
// transaction holding that user's ledger lock (a Postgres advisory lock keyed
// by user id), so purchase handlers, the payment webhook, and the reconciler
// cannot interleave their check-then-act sequences for one user. Operations
// for different users do not contend.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a new SubscriptionStore instance.
func NewSubscriptionStore(db *sql.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &SubscriptionStore{db: db}, nil
}

// Current returns the user's active period with its plan joined, or nil when
// the user holds none.
func (s *SubscriptionStore) Current(ctx context.Context, userID int64) (*models.UserSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM user_subscriptions us
		JOIN subscription_types st ON st.id = us.subscription_type_id
		WHERE us.user_id = $1 AND us.is_active = TRUE
		ORDER BY us.start_date DESC
		LIMIT 1
	`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get current subscription: %w", err)
	}
	return sub, nil
}

// Future returns the user's earliest not-yet-started period with its plan
// joined, or nil when none is queued.
func (s *SubscriptionStore) Future(ctx context.Context, userID int64, now time.Time) (*models.UserSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM user_subscriptions us
		JOIN subscription_types st ON st.id = us.subscription_type_id
		WHERE us.user_id = $1 AND us.start_date > $2
		ORDER BY us.start_date ASC
		LIMIT 1
	`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, userID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get future subscription: %w", err)
	}
	return sub, nil
}

// History returns all of the user's periods, newest start first, plans joined.
func (s *SubscriptionStore) History(ctx context.Context, userID int64) ([]models.UserSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM user_subscriptions us
		JOIN subscription_types st ON st.id = us.subscription_type_id
		WHERE us.user_id = $1
		ORDER BY us.start_date DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.UserSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

// ApplyTransition executes one purchase-decision outcome as a single atomic
// unit: optional deactivation of the current period, optional deletion of a
// still-future queued period, then the insert of the new period.
//
// Under the user's ledger lock it re-checks the invariant the insert depends
// on: an active insert requires no remaining active period (I1), an inactive
// insert requires no remaining future period (single queued change). A check
// failure rolls the whole transition back and returns ErrActivePeriodExists
// or ErrFuturePeriodExists.
func (s *SubscriptionStore) ApplyTransition(ctx context.Context, now time.Time, t models.LedgerTransition) (*models.UserSubscription, error) {
	if t.Create == nil {
		return nil, errors.New("transition must create a period")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockUserLedger(ctx, tx, t.UserID); err != nil {
		return nil, err
	}

	if t.DeactivateID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE user_subscriptions SET is_active = FALSE, updated_at = now() WHERE id = $1 AND user_id = $2`,
			*t.DeactivateID, t.UserID,
		); err != nil {
			return nil, fmt.Errorf("deactivate period %d: %w", *t.DeactivateID, err)
		}
	}

	if t.DeleteFutureID != nil {
		// The predicate keeps deletion restricted to rows that have not
		// started: the upgrade-subsumption case is the only reachable use.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM user_subscriptions WHERE id = $1 AND user_id = $2 AND start_date > $3`,
			*t.DeleteFutureID, t.UserID, now,
		); err != nil {
			return nil, fmt.Errorf("delete future period %d: %w", *t.DeleteFutureID, err)
		}
	}

	var conflict bool
	if t.Create.IsActive {
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_subscriptions WHERE user_id = $1 AND is_active = TRUE)`,
			t.UserID,
		).Scan(&conflict)
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_subscriptions WHERE user_id = $1 AND start_date > $2)`,
			t.UserID, now,
		).Scan(&conflict)
	}
	if err != nil {
		return nil, fmt.Errorf("check ledger invariant: %w", err)
	}
	if conflict {
		if t.Create.IsActive {
			return nil, ErrActivePeriodExists
		}
		return nil, ErrFuturePeriodExists
	}

	created := *t.Create
	created.UserID = t.UserID
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO user_subscriptions
			(user_id, subscription_type_id, start_date, end_date, is_active, stripe_session_id, stripe_payment_intent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		created.UserID, created.PlanID, created.StartDate, created.EndDate,
		created.IsActive, created.StripeSessionID, created.StripePaymentIntent,
	).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert period: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition tx: %w", err)
	}

	created.Plan = t.Create.Plan
	return &created, nil
}

// ExpireElapsed deactivates every active period whose end has passed and
// returns the number of rows flipped. The flip is one-way and unconditional,
// so running it repeatedly is idempotent.
func (s *SubscriptionStore) ExpireElapsed(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE user_subscriptions SET is_active = FALSE, updated_at = now() WHERE is_active = TRUE AND end_date <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire elapsed periods: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// ActivationCandidates returns inactive periods whose window covers now,
// in ascending start order.
func (s *SubscriptionStore) ActivationCandidates(ctx context.Context, now time.Time) ([]models.UserSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM user_subscriptions us
		JOIN subscription_types st ON st.id = us.subscription_type_id
		WHERE us.is_active = FALSE AND us.start_date <= $1 AND us.end_date > $1
		ORDER BY us.start_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list activation candidates: %w", err)
	}
	defer rows.Close()

	var subs []models.UserSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activation candidate: %w", err)
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

// ActivateIfIdle flips the given period to active if and only if its user has
// no active period at that moment. The check and the flip share the user's
// ledger lock so a concurrent purchase cannot slip between them. Returns
// whether the period was activated.
func (s *SubscriptionStore) ActivateIfIdle(ctx context.Context, periodID, userID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin activation tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockUserLedger(ctx, tx, userID); err != nil {
		return false, err
	}

	var activeExists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_subscriptions WHERE user_id = $1 AND is_active = TRUE)`,
		userID,
	).Scan(&activeExists); err != nil {
		return false, fmt.Errorf("check active period: %w", err)
	}

	if activeExists {
		return false, nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE user_subscriptions SET is_active = TRUE, updated_at = now() WHERE id = $1 AND is_active = FALSE`,
		periodID,
	)
	if err != nil {
		return false, fmt.Errorf("activate period %d: %w", periodID, err)
	}
	affected, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit activation tx: %w", err)
	}

	return affected > 0, nil
}

// lockUserLedger takes the transaction-scoped advisory lock serializing all
// ledger writers for one user. Advisory locks cover the zero-row case where
// SELECT ... FOR UPDATE would have nothing to lock.
func lockUserLedger(ctx context.Context, tx *sql.Tx, userID int64) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("lock ledger for user %d: %w", userID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	var plan models.PlanTier

	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.StartDate, &sub.EndDate, &sub.IsActive,
		&sub.StripeSessionID, &sub.StripePaymentIntent, &sub.CreatedAt, &sub.UpdatedAt,
		&plan.ID, &plan.Name, &plan.MonthlyPrice, &plan.StorageLimitGB,
		&plan.HasPremiumFeatures, &plan.CreatedAt, &plan.UpdatedAt,
	); err != nil {
		return nil, err
	}

	sub.Plan = &plan
	return &sub, nil
}
