package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nimbusvault/backend/internal/models"
	"github.com/nimbusvault/backend/internal/proration"
)

// Outcome identifies which transition a purchase resolved to.
type Outcome string

const (
	// OutcomeActivated: no current period existed; a new one starts now.
	OutcomeActivated Outcome = "activated"
	// OutcomeQueuedRenewal: same tier repurchased; a renewal is queued at the
	// current period's end and the current period is untouched.
	OutcomeQueuedRenewal Outcome = "queued_renewal"
	// OutcomeQueuedDowngrade: cheaper tier requested; queued at the current
	// period's end at its own full price, no credit.
	OutcomeQueuedDowngrade Outcome = "queued_downgrade"
	// OutcomeUpgradeAbsorbed: upgrade while a same-tier renewal was queued;
	// the queued period is consumed and its value charged on top.
	OutcomeUpgradeAbsorbed Outcome = "upgrade_absorbed_queue"
	// OutcomeUpgraded: plain upgrade; remaining credit discounts the price.
	OutcomeUpgraded Outcome = "upgraded"
)

// decision is the planned ledger mutation plus its pricing, before any write.
type decision struct {
	outcome    Outcome
	detail     string
	transition models.LedgerTransition

	discount   decimal.Decimal
	gapCharge  decimal.Decimal
	finalPrice decimal.Decimal
}

// decide maps a user's ledger state and a requested plan to exactly one
// transition, evaluated in precedence order:
//
//  1. no current period: activate the plan now
//  2. a queued period exists and this is not the upgrade-over-queued-renewal
//     special case: reject
//  3. same tier as current: queue a renewal
//  4. cheaper than current: queue a downgrade
//  5. upgrade while a same-tier renewal is queued: consume the queued period,
//     charge its remaining value on top of the new plan's price
//  6. plain upgrade: credit the current period's remaining value
//
// futureVisible distinguishes the direct purchase path from the
// payment-confirmation path: confirmation is driven only by the current
// period, so rules 2 and 5 never fire for it and an equal-or-cheaper plan is
// queued while a pricier one replaces the current period immediately. Both
// paths share this one function so the transition rules cannot drift.
func decide(current, future *models.UserSubscription, plan *models.PlanTier, now time.Time, futureVisible bool) (*decision, error) {
	if current == nil {
		return &decision{
			outcome: OutcomeActivated,
			detail:  "Subscription activated.",
			transition: models.LedgerTransition{
				Create: newPeriod(plan, now, now.Add(models.PeriodLength), true),
			},
			finalPrice: plan.MonthlyPrice,
		}, nil
	}

	currentPrice := current.Plan.MonthlyPrice
	isUpgrade := plan.MonthlyPrice.GreaterThan(currentPrice)

	if futureVisible && future != nil {
		if !(isUpgrade && future.PlanID == current.PlanID) {
			return nil, ErrPendingChange
		}
	}

	if plan.ID == current.PlanID {
		start := current.EndDate
		return &decision{
			outcome: OutcomeQueuedRenewal,
			detail:  "Subscription added to queue (same type).",
			transition: models.LedgerTransition{
				Create: newPeriod(plan, start, start.Add(models.PeriodLength), false),
			},
			finalPrice: plan.MonthlyPrice,
		}, nil
	}

	// The confirmation path splits on strict price comparison: anything not
	// strictly pricier than the current plan is queued. The purchase path
	// queues only strict downgrades; an equal-priced different tier falls
	// through to the credited immediate switch below.
	queues := plan.MonthlyPrice.LessThan(currentPrice)
	if !futureVisible && !isUpgrade {
		queues = true
	}
	if queues {
		start := current.EndDate
		return &decision{
			outcome: OutcomeQueuedDowngrade,
			detail:  "Downgrade queued. Will activate after current plan ends.",
			transition: models.LedgerTransition{
				Create: newPeriod(plan, start, start.Add(models.PeriodLength), false),
			},
			finalPrice: plan.MonthlyPrice,
		}, nil
	}

	if futureVisible && future != nil && isUpgrade {
		// The queued same-tier renewal extends the user's paid runway to the
		// future period's end; upgrading now consumes that runway, so its
		// value at the current tier's daily rate is charged on top.
		fullRemainingDays := proration.RemainingDays(future.EndDate, now)
		gapCharge := currentPrice.Div(decimal.NewFromInt(30)).
			Mul(decimal.NewFromInt(int64(fullRemainingDays)))

		return &decision{
			outcome: OutcomeUpgradeAbsorbed,
			detail:  "Upgraded across both queued periods.",
			transition: models.LedgerTransition{
				DeactivateID:   &current.ID,
				DeleteFutureID: &future.ID,
				Create:         newPeriod(plan, now, now.Add(models.PeriodLength), true),
			},
			gapCharge:  gapCharge,
			finalPrice: plan.MonthlyPrice.Add(gapCharge),
		}, nil
	}

	discount, finalPrice := proration.TransitionPrice(current, current.Plan, plan, now)
	return &decision{
		outcome: OutcomeUpgraded,
		detail:  "Upgraded successfully.",
		transition: models.LedgerTransition{
			DeactivateID: &current.ID,
			Create:       newPeriod(plan, now, now.Add(models.PeriodLength), true),
		},
		discount:   discount,
		finalPrice: finalPrice,
	}, nil
}

func newPeriod(plan *models.PlanTier, start, end time.Time, active bool) *models.UserSubscription {
	return &models.UserSubscription{
		PlanID:    plan.ID,
		StartDate: start,
		EndDate:   end,
		IsActive:  active,
		Plan:      plan,
	}
}
