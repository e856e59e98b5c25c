// Package proration computes the remaining value of a running subscription
// period and the price of switching plans mid-cycle. All functions are pure;
// callers pass the instant to evaluate at.
//
// Monetary amounts are decimal throughout. Intermediate values keep full
// precision; rounding to two places happens only where a value leaves the
// system (see Round).
package proration

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nimbusvault/backend/internal/models"
)

var daysPerMonth = decimal.NewFromInt(30)

// RemainingDays returns the number of whole days between now and end.
// Partial days do not count; elapsed periods return 0.
func RemainingDays(end, now time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// RemainingCredit returns the unused value of a period billed at monthlyPrice
// per 30 days: (monthlyPrice / 30) * whole days remaining until end.
func RemainingCredit(monthlyPrice decimal.Decimal, end, now time.Time) decimal.Decimal {
	days := RemainingDays(end, now)
	if days <= 0 {
		return decimal.Zero
	}
	return monthlyPrice.Div(daysPerMonth).Mul(decimal.NewFromInt(int64(days)))
}

// TransitionPrice returns the discount and final price of moving to newPlan.
//
// Without a current period there is no discount and the final price is the
// plan's full monthly price. With one, the remaining credit of the current
// period is applied only when the new plan's price is greater than or equal
// to the current plan's price; strict downgrades earn no credit because they
// are queued to start at the current period's end and billed in full at their
// own cycle. The final price never goes below zero.
func TransitionPrice(current *models.UserSubscription, currentPlan, newPlan *models.PlanTier, now time.Time) (discount, finalPrice decimal.Decimal) {
	if current == nil {
		return decimal.Zero, newPlan.MonthlyPrice
	}

	if newPlan.MonthlyPrice.GreaterThanOrEqual(currentPlan.MonthlyPrice) {
		discount = RemainingCredit(currentPlan.MonthlyPrice, current.EndDate, now)
	} else {
		discount = decimal.Zero
	}

	finalPrice = newPlan.MonthlyPrice.Sub(discount)
	if finalPrice.IsNegative() {
		finalPrice = decimal.Zero
	}
	return discount, finalPrice
}

// Round normalizes an amount for external exposure: two fraction digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
