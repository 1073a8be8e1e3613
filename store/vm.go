package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/projecteru2/hatchery/types"
)

// CreateVMInstance reserves a VM row for the tenant, enforcing the
// concurrency quota atomically with the insert. Inside one transaction the
// tenant row is written first — that write doubles as a tenant-level lock,
// so the count and the insert cannot interleave with a concurrent create
// for the same tenant. Returns the active count alongside ErrQuotaExceeded
// so callers can report which limit was hit.
func (s *Store) CreateVMInstance(ctx context.Context, vm *VMInstance, limit int) (int64, error) {
	var active int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Tenant{}).Where("id = ?", vm.TenantID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Model(&VMInstance{}).
			Where("tenant_id = ? AND status IN ?", vm.TenantID,
				[]types.VMStatus{types.VMStatusProvisioning, types.VMStatusRunning}).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(limit) {
			return ErrQuotaExceeded
		}

		return translate(tx.Create(vm).Error)
	})
	if err != nil {
		return active, fmt.Errorf("reserve VM %s: %w", vm.Name, err)
	}
	return active + 1, nil
}

// StartVMInstance commits a VM's transition to running with the concurrency
// quota enforced atomically, the same tenant-row-as-lock transaction as
/// CreateVMInstance: the tenant row is written first, then the active count is
// taken, then the conditional status update lands. A tenant already at its
// limit gets ErrQuotaExceeded; a stale caller gets ErrStaleStatus. Returns
// the resulting active count alongside either error.
func (s *Store) StartVMInstance(ctx context.Context, vm *VMInstance, limit int,
	updates map[string]any, from ...types.VMStatus,
) (int64, error) {
	var active int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Tenant{}).Where("id = ?", vm.TenantID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Model(&VMInstance{}).
			Where("tenant_id = ? AND status IN ?", vm.TenantID,
				[]types.VMStatus{types.VMStatusProvisioning, types.VMStatusRunning}).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(limit) {
			return ErrQuotaExceeded
		}

		cols := map[string]any{"status": types.VMStatusRunning, "updated_at": time.Now()}
		for k, v := range updates {
			cols[k] = v
		}
		res = tx.Model(&VMInstance{}).
			Where("id = ? AND status IN ?", vm.ID, from).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}
		return nil
	})
	if err != nil {
		return active, fmt.Errorf("start VM %s: %w", vm.ID, err)
	}
	return active + 1, nil
}

// GetVM fetches a VM instance by ID.
func (s *Store) GetVM(ctx context.Context, id string) (*VMInstance, error) {
	var vm VMInstance
	if err := s.db.WithContext(ctx).First(&vm, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get VM %s: %w", id, translate(err))
	}
	return &vm, nil
}

// ListVMs returns the tenant's VM instances ordered by creation time.
func (s *Store) ListVMs(ctx context.Context, tenantID string) ([]VMInstance, error) {
	var vms []VMInstance
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).Order("created_at").Find(&vms).Error
	if err != nil {
		return nil, fmt.Errorf("list VMs for %s: %w", tenantID, err)
	}
	return vms, nil
}

// ListVMsByStatus returns every VM instance in one of the given statuses.
func (s *Store) ListVMsByStatus(ctx context.Context, statuses ...types.VMStatus) ([]VMInstance, error) {
	var vms []VMInstance
	err := s.db.WithContext(ctx).Where("status IN ?", statuses).Find(&vms).Error
	if err != nil {
		return nil, fmt.Errorf("list VMs by status: %w", err)
	}
	return vms, nil
}

// UpdateVMStatusFrom transitions a VM's status with a conditional update:
// the write lands only if the row is still in one of the expected source
// statuses. A caller holding a stale view gets ErrStaleStatus instead of
// silently overwriting a concurrent transition. Extra column writes ride in
// updates (e.g. stopped_at, provider fields).
func (s *Store) UpdateVMStatusFrom(ctx context.Context, id string, to types.VMStatus,
	updates map[string]any, from ...types.VMStatus,
) error {
	cols := map[string]any{"status": to, "updated_at": time.Now()}
	for k, v := range updates {
		cols[k] = v
	}
	res := s.db.WithContext(ctx).Model(&VMInstance{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("transition VM %s to %s: %w", id, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transition VM %s to %s: %w", id, to, ErrStaleStatus)
	}
	return nil
}

// ClaimExpired claims every running VM whose deadline has passed (expires_at
// <= now — a VM expiring exactly now is eligible). Each candidate is claimed
// with a conditional running→expiring update, so when several sweep processes
// race, each VM goes to exactly one of them. The returned rows are the ones
// this caller won.
func (s *Store) ClaimExpired(ctx context.Context, now time.Time) ([]VMInstance, error) {
	var candidates []VMInstance
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", types.VMStatusRunning, now).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("select expired VMs: %w", err)
	}

	claimed := make([]VMInstance, 0, len(candidates))
	for _, vm := range candidates {
		res := s.db.WithContext(ctx).Model(&VMInstance{}).
			Where("id = ? AND status = ?", vm.ID, types.VMStatusRunning).
			Updates(map[string]any{"status": types.VMStatusExpiring, "updated_at": time.Now()})
		if res.Error != nil {
			return claimed, fmt.Errorf("claim VM %s: %w", vm.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue // another sweep got there first
		}
		vm.Status = types.VMStatusExpiring
		claimed = append(claimed, vm)
	}
	return claimed, nil
}

// UpdateVMMetadata applies fn to the VM's metadata document inside a
// transaction. The transaction writes the row before reading it, which takes
// the row lock and serializes concurrent metadata mutations (credential
// issue/consume, extension counting). fn returning an error aborts without
// writing.
func (s *Store) UpdateVMMetadata(ctx context.Context, id string, fn func(*types.VMMetadata) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&VMInstance{}).Where("id = ?", id).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var vm VMInstance
		if err := tx.First(&vm, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if err := fn(&vm.Metadata); err != nil {
			return err
		}
		return tx.Model(&VMInstance{}).Where("id = ?", id).
			Select("metadata").Updates(&VMInstance{Metadata: vm.Metadata}).Error
	})
	if err != nil {
		return fmt.Errorf("update VM %s metadata: %w", id, err)
	}
	return nil
}

// ExtendVM pushes the VM's expiry deadline out and bumps the extension
// counter in one transaction. Valid from any non-terminal status.
func (s *Store) ExtendVM(ctx context.Context, id string, expiresAt time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&VMInstance{}).
			Where("id = ? AND status NOT IN ?", id,
				[]types.VMStatus{types.VMStatusFailed, types.VMStatusExpired}).
			Updates(map[string]any{"expires_at": expiresAt, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}

		var vm VMInstance
		if err := tx.First(&vm, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		vm.Metadata.ExtensionCount++
		return tx.Model(&VMInstance{}).Where("id = ?", id).
			Select("metadata").Updates(&VMInstance{Metadata: vm.Metadata}).Error
	})
	if err != nil {
		return fmt.Errorf("extend VM %s: %w", id, err)
	}
	return nil
}

// DeleteVM removes the VM instance record. Billing sessions are left in
// place — usage aggregation must survive instance deletion.
func (s *Store) DeleteVM(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&VMInstance{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete VM %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete VM %s: %w", id, ErrNotFound)
	}
	return nil
}
