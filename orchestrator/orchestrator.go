// Package orchestrator is the VM lifecycle state machine. Operations follow
// one discipline: read the instance, validate the transition, call the
// provider with no store lock held, then commit the final state with a
// conditional write keyed on the previously observed status — a caller whose
// view went stale gets rejected instead of overwriting a concurrent
// transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/projecteru2/hatchery/billing"
	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/guard"
	"github.com/projecteru2/hatchery/provider"
	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

var (
	// ErrInvalidTransition is a precondition rejection: the operation is not
	// legal from the VM's current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotOwned is returned when the VM exists but belongs to a different
	// tenant. Indistinguishable from not-found at the API surface.
	ErrNotOwned = errors.New("VM not owned by tenant")
	// ErrNoCredential is returned when no live credential exists for the VM.
	ErrNoCredential = errors.New("no live credential")
	// ErrInvalidShape is a precondition rejection: the requested resources
	// are malformed or exceed the tier's ceiling.
	ErrInvalidShape = errors.New("invalid resource shape")
)

// Orchestrator drives VM lifecycle transitions against the store and the
// provider.
type Orchestrator struct {
	conf     *config.Config
	store    *store.Store
	provider provider.Client
	guard    *guard.Guard
	billing  *billing.Tracker
}

// New creates an Orchestrator.
func New(conf *config.Config, s *store.Store, p provider.Client) *Orchestrator {
	return &Orchestrator{
		conf:     conf,
		store:    s,
		provider: p,
		guard:    guard.New(s),
		billing:  billing.New(s),
	}
}

// Billing exposes the session tracker (shared with the reconciliation
// sweeps so both close paths bill identically).
func (o *Orchestrator) Billing() *billing.Tracker { return o.billing }

// Provider exposes the injected provider client so collaborators reuse the
// single instance built at process start.
func (o *Orchestrator) Provider() provider.Client { return o.provider }

// Get returns the tenant's VM instance.
func (o *Orchestrator) Get(ctx context.Context, tenantID, vmID string) (*store.VMInstance, error) {
	return o.ownedVM(ctx, tenantID, vmID)
}

// List returns all of the tenant's VM instances.
func (o *Orchestrator) List(ctx context.Context, tenantID string) ([]store.VMInstance, error) {
	return o.store.ListVMs(ctx, tenantID)
}

// Usage returns the tenant's billing aggregation.
func (o *Orchestrator) Usage(ctx context.Context, tenantID string) (*store.UsageStats, error) {
	if _, err := o.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return o.store.TenantUsage(ctx, tenantID)
}

// ownedVM loads the VM and verifies tenant ownership.
func (o *Orchestrator) ownedVM(ctx context.Context, tenantID, vmID string) (*store.VMInstance, error) {
	vm, err := o.store.GetVM(ctx, vmID)
	if err != nil {
		return nil, err
	}
	if vm.TenantID != tenantID {
		return nil, fmt.Errorf("VM %s: %w", vmID, ErrNotOwned)
	}
	return vm, nil
}

// transitionErr builds a rejection carrying the offending status.
func transitionErr(op string, status types.VMStatus) error {
	return fmt.Errorf("%s from %q: %w", op, status, ErrInvalidTransition)
}
