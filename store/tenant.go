package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/projecteru2/hatchery/types"
)

// CreateTenant inserts a new tenant.
func (s *Store) CreateTenant(ctx context.Context, t *Tenant) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create tenant: %w", translate(err))
	}
	return nil
}

// GetTenant fetches a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, translate(err))
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by creation time.
func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	var ts []Tenant
	if err := s.db.WithContext(ctx).Order("created_at").Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return ts, nil
}

// AddCredit tops up a tenant's balance.
func (s *Store) AddCredit(ctx context.Context, id string, amount int64) error {
	res := s.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", id).
		Update("credit_balance", gorm.Expr("credit_balance + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("add credit for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("add credit for %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeductCredit subtracts amount from the tenant's balance as a single
// conditional update: balance = balance - amount WHERE balance >= amount.
// Two racing deductions can never jointly overdraw — the second one's WHERE
// clause no longer matches. Zero rows affected means the deduction failed and
// no side effect may proceed.
func (s *Store) DeductCredit(ctx context.Context, id string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("deduct credit for %s: negative amount %d", id, amount)
	}
	if amount == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&Tenant{}).
		Where("id = ? AND credit_balance >= ?", id, amount).
		Update("credit_balance", gorm.Expr("credit_balance - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("deduct credit for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deduct %d from %s: %w", amount, id, ErrInsufficientCredit)
	}
	return nil
}

// DrainCredit zeroes the tenant's balance and returns what was drained.
// Used when an accrued session cost exceeds the remaining balance: the
// balance invariant (never negative) wins over full collection.
func (s *Store) DrainCredit(ctx context.Context, id string) (int64, error) {
	var drained int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t Tenant
		// The conditional zeroing below is what serializes racing drains;
		// this read only captures the amount for reporting.
		if err := tx.First(&t, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		res := tx.Model(&Tenant{}).
			Where("id = ? AND credit_balance = ?", id, t.CreditBalance).
			Update("credit_balance", 0)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Balance moved under us; the concurrent writer owns settlement.
			return nil
		}
		drained = t.CreditBalance
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("drain credit for %s: %w", id, err)
	}
	return drained, nil
}

// SetTier changes a tenant's tier.
func (s *Store) SetTier(ctx context.Context, id string, tier types.Tier) error {
	res := s.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", id).Update("tier", tier)
	if res.Error != nil {
		return fmt.Errorf("set tier for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set tier for %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountActiveVMs counts the tenant's VMs currently consuming capacity.
// Only {provisioning, running} count against the concurrency quota; a ready
// or stopped VM holds no active capacity.
func (s *Store) CountActiveVMs(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&VMInstance{}).
		Where("tenant_id = ? AND status IN ?", tenantID,
			[]types.VMStatus{types.VMStatusProvisioning, types.VMStatusRunning}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count active VMs for %s: %w", tenantID, err)
	}
	return n, nil
}

// DeleteTenant removes a tenant; owned VM instances and billing sessions go
// with it via the schema's ON DELETE CASCADE.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Tenant{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete tenant %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete tenant %s: %w", id, ErrNotFound)
	}
	return nil
}

// TrialActive reports whether the tenant's trial window covers now.
func TrialActive(t *Tenant, now time.Time) bool {
	return now.Before(t.TrialEndsAt)
}
