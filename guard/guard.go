// Package guard enforces the two preconditions every cost-incurring
// operation must pass: the concurrency quota and credit/trial eligibility.
// The two violations are distinct typed errors because the caller's remedy
// differs — wait or delete for quota, pay or upgrade for credit.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

// QuotaError is a rejectable precondition, not a failure: the tenant's
// active-VM count has reached its tier limit.
type QuotaError struct {
	Tier   types.Tier
	Limit  int
	Active int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d active VMs on tier %s", e.Active, e.Limit, e.Tier)
}

// PaymentError signals that the tenant has no spendable credit, no paid
// tier, and no active trial.
type PaymentError struct {
	Balance     int64
	Tier        types.Tier
	TrialEndsAt time.Time
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment required: balance %d, tier %s, trial ended %s",
		e.Balance, e.Tier, e.TrialEndsAt.Format(time.RFC3339))
}

// Guard performs precondition checks against the state store.
type Guard struct {
	store *store.Store
}

// New creates a Guard.
func New(s *store.Store) *Guard {
	return &Guard{store: s}
}

// CheckEligibility verifies the tenant may incur cost: positive credit
// balance, or an active paid tier (unconditionally eligible), or an
// unexpired trial window.
func (g *Guard) CheckEligibility(t *store.Tenant, now time.Time) error {
	if t.CreditBalance > 0 || t.Tier.Paid() || store.TrialActive(t, now) {
		return nil
	}
	return &PaymentError{Balance: t.CreditBalance, Tier: t.Tier, TrialEndsAt: t.TrialEndsAt}
}

// ReserveCreate runs the full create precondition: eligibility first, then
// the quota-checked row reservation. The quota count and the insert are one
// atomic store operation, so N simultaneous creates can never jointly
// exceed the tier limit.
func (g *Guard) ReserveCreate(ctx context.Context, t *store.Tenant, vm *store.VMInstance) error {
	if err := g.CheckEligibility(t, time.Now()); err != nil {
		return err
	}
	limit := t.Tier.VMLimit()
	active, err := g.store.CreateVMInstance(ctx, vm, limit)
	if err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			return &QuotaError{Tier: t.Tier, Limit: limit, Active: active}
		}
		return err
	}
	return nil
}

// Rejection reports whether err is a precondition rejection (quota or
// payment) rather than a provider/store failure.
func Rejection(err error) bool {
	var q *QuotaError
	var p *PaymentError
	return errors.As(err, &q) || errors.As(err, &p)
}
