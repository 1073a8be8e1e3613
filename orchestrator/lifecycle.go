package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"
	"gorm.io/gorm"

	"github.com/projecteru2/hatchery/guard"
	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

// Start boots a ready or stopped VM. The tenant must still be eligible to
// incur cost, and taking a running slot is quota-checked atomically at
// commit, just like taking one at create. On provider failure the status is
// left unchanged — the caller sees an operation failure and retries
// explicitly, never silently.
func (o *Orchestrator) Start(ctx context.Context, tenantID, vmID string) error {
	vm, err := o.ownedVM(ctx, tenantID, vmID)
	if err != nil {
		return err
	}
	if vm.Status != types.VMStatusReady && vm.Status != types.VMStatusStopped {
		return transitionErr("start", vm.Status)
	}

	tenant, err := o.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := o.guard.CheckEligibility(tenant, time.Now()); err != nil {
		return err
	}

	if err := o.provider.StartVM(ctx, vm.Name); err != nil {
		return fmt.Errorf("provider start %s: %w", vm.Name, err)
	}

	now := time.Now()
	limit := tenant.Tier.VMLimit()
	// started_at keeps its first value so total session history is never
	// reset by a later restart.
	active, err := o.store.StartVMInstance(ctx, vm, limit, map[string]any{
		"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
	}, types.VMStatusReady, types.VMStatusStopped)
	if err != nil {
		// The slot is full or a concurrent transition won; undo the
		// provider start best-effort.
		logger := log.WithFunc("orchestrator.Start")
		logger.Warnf(ctx, "commit start %s: %v — stopping provider VM", vm.ID, err)
		if stopErr := o.provider.StopVM(ctx, vm.Name); stopErr != nil {
			logger.Warnf(ctx, "undo start %s: %v", vm.Name, stopErr)
		}
		if errors.Is(err, store.ErrQuotaExceeded) {
			return &guard.QuotaError{Tier: tenant.Tier, Limit: limit, Active: active}
		}
		return err
	}

	if _, err := o.billing.Open(ctx, vm, now); err != nil {
		// A second open session means the state machine let two running
		// periods overlap — an internal invariant violation, propagated
		// distinctly so it can be alerted on.
		return err
	}
	return nil
}

// Stop halts a running VM and closes its billing session at the tenant's
// tier rate. On provider failure the VM stays running and the error
// surfaces.
func (o *Orchestrator) Stop(ctx context.Context, tenantID, vmID string) error {
	vm, err := o.ownedVM(ctx, tenantID, vmID)
	if err != nil {
		return err
	}
	if vm.Status != types.VMStatusRunning {
		return transitionErr("stop", vm.Status)
	}

	if err := o.provider.StopVM(ctx, vm.Name); err != nil {
		return fmt.Errorf("provider stop %s: %w", vm.Name, err)
	}

	now := time.Now()
	err = o.store.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusStopped, map[string]any{
		"stopped_at": now,
	}, types.VMStatusRunning)
	if err != nil {
		// Lost the race (e.g. an expiry sweep claimed it). The winner owns
		// the session close.
		return err
	}

	tenant, err := o.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	_, err = o.billing.CloseAndSettle(ctx, vm, tenant.Tier, now)
	return err
}

// ForceExpire finishes off a VM already claimed by an expiry sweep
// (status expiring). Identical effect to Stop except the terminal status is
// expired. Only the reconciliation loop calls this. On provider failure the
// claim is released back to running so the next sweep retries.
func (o *Orchestrator) ForceExpire(ctx context.Context, vm *store.VMInstance) error {
	if vm.Status != types.VMStatusExpiring {
		return transitionErr("force-expire", vm.Status)
	}

	if err := o.provider.StopVM(ctx, vm.Name); err != nil {
		if unclaimErr := o.store.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusRunning, nil,
			types.VMStatusExpiring); unclaimErr != nil {
			log.WithFunc("orchestrator.ForceExpire").Warnf(ctx, "unclaim %s: %v", vm.ID, unclaimErr)
		}
		return fmt.Errorf("provider stop %s: %w", vm.Name, err)
	}

	now := time.Now()
	err := o.store.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusExpired, map[string]any{
		"stopped_at": now,
	}, types.VMStatusExpiring)
	if err != nil {
		return err
	}

	tenant, err := o.store.GetTenant(ctx, vm.TenantID)
	if err != nil {
		return err
	}
	_, err = o.billing.CloseAndSettle(ctx, vm, tenant.Tier, now)
	return err
}

// Delete removes the VM. Valid from any state except a transition in
// progress (provisioning, expiring). A running VM gets an implicit stop
// first; both the stop and the provider delete are best-effort — the local
// record must not stay billable because the provider is unreachable.
func (o *Orchestrator) Delete(ctx context.Context, tenantID, vmID string) error {
	logger := log.WithFunc("orchestrator.Delete")

	vm, err := o.ownedVM(ctx, tenantID, vmID)
	if err != nil {
		return err
	}
	if vm.Status == types.VMStatusProvisioning || vm.Status == types.VMStatusExpiring {
		return transitionErr("delete", vm.Status)
	}

	if vm.Status == types.VMStatusRunning {
		if err := o.provider.StopVM(ctx, vm.Name); err != nil {
			logger.Warnf(ctx, "implicit stop %s before delete: %v", vm.Name, err)
		}
	}

	// Settle whatever session is still open, whatever state the VM is in.
	// A VM parked in unknown by a drift sync still carries one, and deleting
	// the record must not orphan it.
	tenant, err := o.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if _, err := o.billing.CloseAndSettle(ctx, vm, tenant.Tier, time.Now()); err != nil {
		return err
	}

	if err := o.provider.DeleteVM(ctx, vm.Name); err != nil {
		logger.Warnf(ctx, "provider delete %s: %v — removing local record anyway", vm.Name, err)
	}
	return o.store.DeleteVM(ctx, vm.ID)
}

// Extend resets the VM's expiry deadline to now+24h and bumps the extension
// counter. Valid from any non-terminal state; status is unchanged.
func (o *Orchestrator) Extend(ctx context.Context, tenantID, vmID string) (time.Time, error) {
	vm, err := o.ownedVM(ctx, tenantID, vmID)
	if err != nil {
		return time.Time{}, err
	}
	if vm.Status.Terminal() {
		return time.Time{}, transitionErr("extend", vm.Status)
	}
	expiresAt := time.Now().Add(types.VMTTL)
	if err := o.store.ExtendVM(ctx, vm.ID, expiresAt); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}
