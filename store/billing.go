package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/projecteru2/hatchery/types"
)

// OpenSession opens a billing session for the VM. At most one open session
// per VM may exist; finding one already open means the state machine let two
// running periods overlap and is reported as ErrSessionOpen.
func (s *Store) OpenSession(ctx context.Context, vm *VMInstance, start time.Time) (*BillingSession, error) {
	session := &BillingSession{
		TenantID:  vm.TenantID,
		VMID:      vm.ID,
		StartedAt: start,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize against a concurrent open for the same VM.
		res := tx.Model(&VMInstance{}).Where("id = ?", vm.ID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var n int64
		if err := tx.Model(&BillingSession{}).
			Where("vm_id = ? AND ended_at IS NULL", vm.ID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrSessionOpen
		}
		return tx.Create(session).Error
	})
	if err != nil {
		return nil, fmt.Errorf("open session for VM %s: %w", vm.ID, err)
	}
	return session, nil
}

// GetOpenSession returns the VM's open billing session, or ErrNotFound.
func (s *Store) GetOpenSession(ctx context.Context, vmID string) (*BillingSession, error) {
	var session BillingSession
	err := s.db.WithContext(ctx).
		Where("vm_id = ? AND ended_at IS NULL", vmID).
		First(&session).Error
	if err != nil {
		return nil, fmt.Errorf("open session for VM %s: %w", vmID, translate(err))
	}
	return &session, nil
}

// CloseSession closes a billing session, computing duration and cost with
// costFn at close time from the session's own start (never cached earlier,
// so sessions left open across restarts still bill correctly). The closing
// write is conditional on the session still being open: a second close finds
// zero rows and returns the already-recorded cost — a no-op, never a second
// charge.
func (s *Store) CloseSession(ctx context.Context, sessionID uint, end time.Time,
	costFn func(seconds int64) int64,
) (cost int64, closed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session BillingSession
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			return translate(err)
		}
		if !session.Open() {
			cost = session.CostCents
			return nil
		}

		seconds := int64(end.Sub(session.StartedAt).Seconds()) // truncated
		if seconds < 0 {
			seconds = 0
		}
		c := costFn(seconds)

		res := tx.Model(&BillingSession{}).
			Where("id = ? AND ended_at IS NULL", sessionID).
			Updates(map[string]any{
				"ended_at":      end,
				"duration_secs": seconds,
				"cost_cents":    c,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to a concurrent close; report its result.
			var again BillingSession
			if err := tx.First(&again, "id = ?", sessionID).Error; err != nil {
				return translate(err)
			}
			cost = again.CostCents
			return nil
		}
		cost, closed = c, true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("close session %d: %w", sessionID, err)
	}
	return cost, closed, nil
}

// UsageStats is the per-tenant aggregation over billing sessions.
type UsageStats struct {
	TotalVMs     int64 `json:"total_vms"`
	RunningVMs   int64 `json:"running_vms"`
	TotalSeconds int64 `json:"total_seconds"`
	TotalCost    int64 `json:"total_cost"`
}

// TenantUsage sums the tenant's closed billing sessions and counts its
// current VM instances.
func (s *Store) TenantUsage(ctx context.Context, tenantID string) (*UsageStats, error) {
	var stats UsageStats
	db := s.db.WithContext(ctx)

	if err := db.Model(&VMInstance{}).
		Where("tenant_id = ?", tenantID).
		Count(&stats.TotalVMs).Error; err != nil {
		return nil, fmt.Errorf("usage for %s: %w", tenantID, err)
	}
	if err := db.Model(&VMInstance{}).
		Where("tenant_id = ? AND status = ?", tenantID, types.VMStatusRunning).
		Count(&stats.RunningVMs).Error; err != nil {
		return nil, fmt.Errorf("usage for %s: %w", tenantID, err)
	}

	row := db.Model(&BillingSession{}).
		Select("COALESCE(SUM(duration_secs), 0), COALESCE(SUM(cost_cents), 0)").
		Where("tenant_id = ? AND ended_at IS NOT NULL", tenantID).
		Row()
	if err := row.Scan(&stats.TotalSeconds, &stats.TotalCost); err != nil {
		return nil, fmt.Errorf("usage for %s: %w", tenantID, err)
	}
	return &stats, nil
}
