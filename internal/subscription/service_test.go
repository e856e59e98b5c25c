package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimbusvault/backend/internal/models"
	"github.com/nimbusvault/backend/internal/store"
)

type fakeCatalog struct {
	plans map[int64]*models.PlanTier
}

func (f *fakeCatalog) GetPlanByID(ctx context.Context, id int64) (*models.PlanTier, error) {
	plan, ok := f.plans[id]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	return plan, nil
}

type fakeLedger struct {
	current *models.UserSubscription
	future  *models.UserSubscription

	applied  *models.LedgerTransition
	applyErr error
}

func (f *fakeLedger) Current(ctx context.Context, userID int64) (*models.UserSubscription, error) {
	return f.current, nil
}

func (f *fakeLedger) Future(ctx context.Context, userID int64, now time.Time) (*models.UserSubscription, error) {
	return f.future, nil
}

func (f *fakeLedger) ApplyTransition(ctx context.Context, now time.Time, t models.LedgerTransition) (*models.UserSubscription, error) {
	f.applied = &t
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	created := *t.Create
	created.ID = 99
	created.UserID = t.UserID
	return &created, nil
}

func newTestService(catalog *fakeCatalog, ledger *fakeLedger) *Service {
	return NewService(catalog, ledger)
}

func TestPurchaseUnknownPlan(t *testing.T) {
	svc := newTestService(&fakeCatalog{plans: map[int64]*models.PlanTier{}}, &fakeLedger{})

	_, err := svc.Purchase(context.Background(), 1, 42, now)
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestPurchaseFirstSubscription(t *testing.T) {
	basic := tier(1, 99)
	ledger := &fakeLedger{}
	svc := newTestService(&fakeCatalog{plans: map[int64]*models.PlanTier{1: basic}}, ledger)

	result, err := svc.Purchase(context.Background(), 7, 1, now)
	if err != nil {
		t.Fatalf("Purchase returned error: %v", err)
	}

	if result.Outcome != OutcomeActivated {
		t.Fatalf("expected outcome %q, got %q", OutcomeActivated, result.Outcome)
	}
	if ledger.applied == nil || ledger.applied.UserID != 7 {
		t.Fatalf("expected transition applied for user 7, got %+v", ledger.applied)
	}
	if result.Subscription == nil || !result.Subscription.IsActive {
		t.Fatal("expected an active subscription in the result")
	}
	if result.FinalPrice.StringFixed(2) != "99.00" {
		t.Fatalf("expected final price 99.00, got %s", result.FinalPrice.StringFixed(2))
	}
}

func TestPurchaseUpgradeRoundsExposedAmounts(t *testing.T) {
	basic := tier(1, 100)
	premium := tier(2, 200)
	current := activePeriod(10, basic, now.Add(10*24*time.Hour))
	ledger := &fakeLedger{current: current}
	svc := newTestService(&fakeCatalog{plans: map[int64]*models.PlanTier{1: basic, 2: premium}}, ledger)

	result, err := svc.Purchase(context.Background(), 7, 2, now)
	if err != nil {
		t.Fatalf("Purchase returned error: %v", err)
	}

	// 100/30 * 10 days keeps full precision internally; the result carries
	// two fraction digits.
	if result.Discount.String() != "33.33" {
		t.Fatalf("expected rounded discount 33.33, got %s", result.Discount)
	}
	if result.FinalPrice.String() != "166.67" {
		t.Fatalf("expected rounded final price 166.67, got %s", result.FinalPrice)
	}
}

func TestPurchaseMapsStoreConflicts(t *testing.T) {
	basic := tier(1, 99)
	catalog := &fakeCatalog{plans: map[int64]*models.PlanTier{1: basic}}

	for _, applyErr := range []error{store.ErrActivePeriodExists, store.ErrFuturePeriodExists} {
		ledger := &fakeLedger{applyErr: applyErr}
		svc := newTestService(catalog, ledger)

		_, err := svc.Purchase(context.Background(), 7, 1, now)
		if !errors.Is(err, ErrPendingChange) {
			t.Fatalf("expected ErrPendingChange for %v, got %v", applyErr, err)
		}
	}
}

func TestPurchaseRejectsWithQueuedChange(t *testing.T) {
	basic := tier(1, 99)
	current := activePeriod(10, basic, now.Add(10*24*time.Hour))
	future := queuedPeriod(11, basic, current.EndDate)
	ledger := &fakeLedger{current: current, future: future}
	svc := newTestService(&fakeCatalog{plans: map[int64]*models.PlanTier{1: basic}}, ledger)

	_, err := svc.Purchase(context.Background(), 7, 1, now)
	if !errors.Is(err, ErrPendingChange) {
		t.Fatalf("expected ErrPendingChange, got %v", err)
	}
	if ledger.applied != nil {
		t.Fatal("rejected purchase must not write to the ledger")
	}
}

func TestConfirmPaymentAttachesStripeReferences(t *testing.T) {
	basic := tier(1, 99)
	ledger := &fakeLedger{}
	svc := newTestService(&fakeCatalog{plans: map[int64]*models.PlanTier{1: basic}}, ledger)

	result, err := svc.ConfirmPayment(context.Background(), 7, 1, "cs_test_123", "pi_test_456", now)
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if result.Outcome != OutcomeActivated {
		t.Fatalf("expected outcome %q, got %q", OutcomeActivated, result.Outcome)
	}

	created := ledger.applied.Create
	if created.StripeSessionID == nil || *created.StripeSessionID != "cs_test_123" {
		t.Fatalf("expected session id on created period, got %v", created.StripeSessionID)
	}
	if created.StripePaymentIntent == nil || *created.StripePaymentIntent != "pi_test_456" {
		t.Fatalf("expected payment intent on created period, got %v", created.StripePaymentIntent)
	}
}

func TestConfirmPaymentIgnoresQueuedPeriod(t *testing.T) {
	basic := tier(1, 99)
	current := activePeriod(10, basic, now.Add(10*24*time.Hour))
	future := queuedPeriod(11, basic, current.EndDate)
	ledger := &fakeLedger{current: current, future: future}
	svc := newTestService(&fakeCatalog{plans: map[int64]*models.PlanTier{1: basic}}, ledger)

	// A confirmation for the same tier queues a renewal even though a
	// direct purchase would be rejected; the payment already happened.
	result, err := svc.ConfirmPayment(context.Background(), 7, 1, "cs_test_789", "", now)
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if result.Outcome != OutcomeQueuedRenewal {
		t.Fatalf("expected outcome %q, got %q", OutcomeQueuedRenewal, result.Outcome)
	}
}

func TestConfirmPaymentConflictSurfacesPendingChange(t *testing.T) {
	basic := tier(1, 99)
	current := activePeriod(10, basic, now.Add(10*24*time.Hour))
	ledger := &fakeLedger{current: current, applyErr: store.ErrFuturePeriodExists}
	svc := newTestService(&fakeCatalog{plans: map[int64]*models.PlanTier{1: basic}}, ledger)

	_, err := svc.ConfirmPayment(context.Background(), 7, 1, "cs_test_1", "", now)
	if !errors.Is(err, ErrPendingChange) {
		t.Fatalf("expected ErrPendingChange, got %v", err)
	}
}
