package subscription

import "errors"

// ErrUnknownPlan is returned when the requested plan id does not exist in the
// catalog. Nothing is written.
var ErrUnknownPlan = errors.New("unknown subscription plan")

// ErrPendingChange is returned when the user already holds a queued future
// period and the requested purchase is not the one transition allowed past it
// (an upgrade absorbing a queued same-tier renewal). Nothing is written.
var ErrPendingChange = errors.New("a scheduled subscription change already exists")
