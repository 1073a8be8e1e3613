package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/provider"
	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

// Create provisions a new VM for the tenant. The row is reserved first in
// provisioning (quota-checked atomically), then the provider create runs
// with no store lock held, and the outcome lands with a conditional write:
// ready with the provider's identifiers, or failed with the reason in
// metadata. A failed create is terminal for this instance — the caller
// retries with a fresh one; no partial retry is attempted.
func (o *Orchestrator) Create(ctx context.Context, tenantID string, shape types.Shape) (*store.VMInstance, error) {
	logger := log.WithFunc("orchestrator.Create")

	tenant, err := o.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := validateShape(shape, tenant.Tier); err != nil {
		return nil, err
	}

	now := time.Now()
	vm := &store.VMInstance{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Status:    types.VMStatusProvisioning,
		VCPU:      shape.VCPU,
		Memory:    shape.Memory,
		Image:     shape.Image,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(types.VMTTL),
	}
	vm.Name = "hatch-" + strings.ReplaceAll(vm.ID, "-", "")[:12]

	if err := o.guard.ReserveCreate(ctx, tenant, vm); err != nil {
		return nil, err
	}

	result, err := o.provider.CreateVM(ctx, provider.CreateSpec{
		Name:   vm.Name,
		VCPU:   vm.VCPU,
		Memory: vm.Memory,
		Image:  vm.Image,
	})
	if err != nil {
		o.markCreateFailed(ctx, vm, err)
		return nil, fmt.Errorf("provider create %s: %w", vm.Name, err)
	}

	err = o.store.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusReady, map[string]any{
		"provider_id": result.ProviderID,
		"address":     result.Address,
		"port":        result.Port,
	}, types.VMStatusProvisioning)
	if err != nil {
		// The row moved (or vanished) while the provider call was in
		// flight. The provider resource must not stay claimed.
		logger.Warnf(ctx, "finalize create %s: %v — releasing provider resource", vm.ID, err)
		if delErr := o.provider.DeleteVM(ctx, vm.Name); delErr != nil {
			logger.Warnf(ctx, "release provider VM %s: %v", vm.Name, delErr)
		}
		return nil, err
	}

	vm.Status = types.VMStatusReady
	vm.ProviderID = result.ProviderID
	vm.Address = result.Address
	vm.Port = result.Port
	logger.Infof(ctx, "VM %s created for tenant %s (provider id %s)", vm.ID, tenantID, result.ProviderID)
	return vm, nil
}

// markCreateFailed records the failure reason and parks the instance in
// failed. Best-effort: the provider call already failed, so local state is
// the only thing left to fix.
func (o *Orchestrator) markCreateFailed(ctx context.Context, vm *store.VMInstance, cause error) {
	logger := log.WithFunc("orchestrator.markCreateFailed")
	metaErr := o.store.UpdateVMMetadata(ctx, vm.ID, func(md *types.VMMetadata) error {
		md.FailureReason = cause.Error()
		return nil
	})
	if metaErr != nil {
		logger.Warnf(ctx, "record failure reason for %s: %v", vm.ID, metaErr)
	}
	if err := o.store.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusFailed, nil,
		types.VMStatusProvisioning); err != nil {
		logger.Warnf(ctx, "mark %s failed: %v", vm.ID, err)
	}
}

func validateShape(shape types.Shape, tier types.Tier) error {
	if shape.VCPU <= 0 || shape.Memory <= 0 {
		return fmt.Errorf("vcpu and memory must be positive: %w", ErrInvalidShape)
	}
	if shape.Image == "" {
		return fmt.Errorf("image is required: %w", ErrInvalidShape)
	}
	if _, err := name.ParseReference(shape.Image); err != nil {
		return fmt.Errorf("image %q: %v: %w", shape.Image, err, ErrInvalidShape)
	}
	if shape.VCPU > tier.MaxVCPU() {
		return fmt.Errorf("%d vCPUs exceeds tier %s ceiling %d: %w",
			shape.VCPU, tier, tier.MaxVCPU(), ErrInvalidShape)
	}
	if shape.Memory > tier.MaxMemory() {
		return fmt.Errorf("%d bytes exceeds tier %s ceiling %d: %w",
			shape.Memory, tier, tier.MaxMemory(), ErrInvalidShape)
	}
	return nil
}
