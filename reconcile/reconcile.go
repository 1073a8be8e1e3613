// Package reconcile keeps persisted VM state consistent with the provider's
// ground truth. Two independently scheduled sweeps share one discipline:
// claim work through the store's conditional updates, run per-VM work
// isolated on a worker pool, log individual failures, and never let one bad
// VM abort the rest.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/orchestrator"
	"github.com/projecteru2/hatchery/provider"
	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

// Result reports what a sweep run did. Affected zero with a nil error means
// nothing needed fixing; Affected zero with an error means the sweep could
// not even look — the two must stay distinguishable.
type Result struct {
	Affected int
	Failed   int
}

// Reconciler runs the expiry sweep and the drift sync.
type Reconciler struct {
	store    *store.Store
	provider provider.Client
	orch     *orchestrator.Orchestrator
	pool     *ants.Pool
}

// New creates a Reconciler with a worker pool of the configured size.
func New(conf *config.Config, s *store.Store, p provider.Client, orch *orchestrator.Orchestrator) (*Reconciler, error) {
	pool, err := ants.NewPool(conf.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("init reconcile pool: %w", err)
	}
	return &Reconciler{store: s, provider: p, orch: orch, pool: pool}, nil
}

// Release frees the worker pool.
func (r *Reconciler) Release() {
	r.pool.Release()
}

// ExpirySweep claims every running VM past its deadline and force-expires
// it. The claim is a conditional running→expiring update, so concurrent
// sweep processes each win disjoint sets. Per-VM provider failures release
// the claim, get logged, and do not stop the remaining claimed VMs.
func (r *Reconciler) ExpirySweep(ctx context.Context) (Result, error) {
	logger := log.WithFunc("reconcile.ExpirySweep")

	claimed, err := r.store.ClaimExpired(ctx, time.Now())
	if err != nil {
		return Result{}, fmt.Errorf("expiry sweep: %w", err)
	}
	if len(claimed) == 0 {
		return Result{}, nil
	}

	// Wait for the submitted work itself, not just its submission: the
	// returned counts must cover every claimed VM, and the caller may tear
	// the pool down right after.
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	res := Result{}
	for i := range claimed {
		vm := claimed[i]
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			if err := r.orch.ForceExpire(ctx, &vm); err != nil {
				logger.Warnf(ctx, "force-expire VM %s: %v", vm.ID, err)
				mu.Lock()
				res.Failed++
				mu.Unlock()
				return
			}
			logger.Infof(ctx, "VM %s expired (deadline %s)", vm.ID, vm.ExpiresAt.Format(time.RFC3339))
			mu.Lock()
			res.Affected++
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			logger.Warnf(ctx, "submit force-expire %s: %v", vm.ID, submitErr)
			mu.Lock()
			res.Failed++
			mu.Unlock()
		}
	}
	wg.Wait()
	return res, nil
}

// DriftSync checks every supposedly running VM (including stale expiry
// claims left by a crashed sweep) against the provider. A confirmed stop
// corrects the record to stopped and closes the billing session; an
// unreachable provider or missing VM marks the record unknown and leaves
// the session open — no financial claim is derived from ambiguous state,
// and an operator can tell "definitely stopped" from "investigate".
func (r *Reconciler) DriftSync(ctx context.Context) (Result, error) {
	logger := log.WithFunc("reconcile.DriftSync")

	vms, err := r.store.ListVMsByStatus(ctx, types.VMStatusRunning, types.VMStatusExpiring)
	if err != nil {
		return Result{}, fmt.Errorf("drift sync: %w", err)
	}
	if len(vms) == 0 {
		return Result{}, nil
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	res := Result{}
	for i := range vms {
		vm := vms[i]
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			changed, err := r.syncOne(ctx, &vm)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warnf(ctx, "drift sync VM %s: %v", vm.ID, err)
				res.Failed++
				return
			}
			if changed {
				res.Affected++
			}
		})
		if submitErr != nil {
			wg.Done()
			logger.Warnf(ctx, "submit drift sync %s: %v", vm.ID, submitErr)
			mu.Lock()
			res.Failed++
			mu.Unlock()
		}
	}
	wg.Wait()
	return res, nil
}

// syncOne reconciles a single VM against the provider's reported status.
func (r *Reconciler) syncOne(ctx context.Context, vm *store.VMInstance) (bool, error) {
	logger := log.WithFunc("reconcile.syncOne")

	status, err := r.provider.GetVMStatus(ctx, vm.Name)
	if err != nil {
		// Unreachable provider or missing VM: not proof the VM stopped.
		logger.Warnf(ctx, "VM %s provider status: %v — marking unknown", vm.ID, err)
		return true, r.markUnknown(ctx, vm)
	}

	switch status {
	case provider.StatusRunning:
		return false, nil // no drift
	case provider.StatusStopped:
		return true, r.markStopped(ctx, vm)
	default:
		logger.Warnf(ctx, "VM %s reports %q — marking unknown", vm.ID, status)
		return true, r.markUnknown(ctx, vm)
	}
}

// markStopped corrects a confirmed-stopped VM and closes its session with
// the same cost formula as an explicit stop.
func (r *Reconciler) markStopped(ctx context.Context, vm *store.VMInstance) error {
	now := time.Now()
	err := r.store.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusStopped, map[string]any{
		"stopped_at": now,
	}, vm.Status)
	if err != nil {
		return err
	}
	tenant, err := r.store.GetTenant(ctx, vm.TenantID)
	if err != nil {
		return err
	}
	_, err = r.orch.Billing().CloseAndSettle(ctx, vm, tenant.Tier, now)
	return err
}

// markUnknown parks the VM in unknown; its billing session stays open
// pending manual review.
func (r *Reconciler) markUnknown(ctx context.Context, vm *store.VMInstance) error {
	return r.store.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusUnknown, nil, vm.Status)
}
