// Package billing tracks accounting sessions bound to the running periods
// of VM instances. A session opens when a VM enters running and closes when
// it leaves running for any reason; the explicit-stop path and the
// forced-expiry path close through the same code, so identical elapsed
// durations always produce identical costs.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

// Cost converts elapsed whole seconds into smallest currency units at the
// tier's per-minute rate, truncating — never rounding up.
func Cost(seconds int64, tier types.Tier) int64 {
	if seconds <= 0 {
		return 0
	}
	return seconds * tier.CentsPerMinute() / 60
}

// Tracker opens, closes, and settles billing sessions.
type Tracker struct {
	store *store.Store
}

// New creates a Tracker.
func New(s *store.Store) *Tracker {
	return &Tracker{store: s}
}

// Open starts a session for the VM's new running period. An already-open
// session is an invariant violation (store.ErrSessionOpen) and propagates.
func (t *Tracker) Open(ctx context.Context, vm *store.VMInstance, start time.Time) (*store.BillingSession, error) {
	return t.store.OpenSession(ctx, vm, start)
}

// CloseAndSettle closes the VM's open session at end, charging the tenant's
// tier rate, and settles the cost against the tenant's credit balance.
// Closing is idempotent: if the session was already closed (or no session is
// open), nothing is billed again. When the balance cannot cover the accrued
// cost it is drained to zero — the session still records the true cost, the
// balance never goes negative, and the shortfall is logged.
func (t *Tracker) CloseAndSettle(ctx context.Context, vm *store.VMInstance, tier types.Tier, end time.Time) (int64, error) {
	logger := log.WithFunc("billing.CloseAndSettle")

	session, err := t.store.GetOpenSession(ctx, vm.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil // nothing open, nothing to bill
		}
		return 0, err
	}

	cost, closed, err := t.store.CloseSession(ctx, session.ID, end, func(seconds int64) int64 {
		return Cost(seconds, tier)
	})
	if err != nil {
		return 0, err
	}
	if !closed {
		// A concurrent closer already settled it.
		return cost, nil
	}

	if err := t.store.DeductCredit(ctx, vm.TenantID, cost); err != nil {
		if !errors.Is(err, store.ErrInsufficientCredit) {
			return cost, fmt.Errorf("settle session %d: %w", session.ID, err)
		}
		drained, drainErr := t.store.DrainCredit(ctx, vm.TenantID)
		if drainErr != nil {
			return cost, fmt.Errorf("settle session %d: %w", session.ID, drainErr)
		}
		logger.Warnf(ctx, "tenant %s balance drained: session %d cost %d, collected %d",
			vm.TenantID, session.ID, cost, drained)
	}
	return cost, nil
}
