package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

func newTestGuard(t *testing.T) (*Guard, *store.Store) {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	s, err := store.Open(conf)
	require.NoError(t, err)
	return New(s), s
}

func TestCheckEligibility(t *testing.T) {
	g, _ := newTestGuard(t)
	now := time.Now()

	tests := []struct {
		name   string
		tenant store.Tenant
		ok     bool
	}{
		{"positive balance", store.Tenant{Tier: types.TierStandard, CreditBalance: 1}, true},
		{"paid tier no balance", store.Tenant{Tier: types.TierPro}, true},
		{"enterprise no balance", store.Tenant{Tier: types.TierEnterprise}, true},
		{"active trial", store.Tenant{Tier: types.TierStandard, TrialEndsAt: now.Add(time.Hour)}, true},
		{"nothing", store.Tenant{Tier: types.TierStandard, TrialEndsAt: now.Add(-time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckEligibility(&tt.tenant, now)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			var pe *PaymentError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, tt.tenant.Tier, pe.Tier)
		})
	}
}

func TestReserveCreateQuota(t *testing.T) {
	g, s := newTestGuard(t)
	ctx := context.Background()

	tenant := &store.Tenant{ID: "tenant-1", OwnerID: "owner-1", Tier: types.TierStandard, CreditBalance: 100}
	require.NoError(t, s.CreateTenant(ctx, tenant))

	vm := func(n string) *store.VMInstance {
		return &store.VMInstance{
			ID: "vm-" + n, TenantID: tenant.ID, Name: "hatch-" + n,
			Status: types.VMStatusProvisioning, VCPU: 1, Memory: 1 << 30,
			Image: "ubuntu:24.04", ExpiresAt: time.Now().Add(time.Hour),
		}
	}

	// standard tier allows one active VM
	require.NoError(t, g.ReserveCreate(ctx, tenant, vm("a")))

	err := g.ReserveCreate(ctx, tenant, vm("b"))
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, types.TierStandard, qe.Tier)
	require.Equal(t, 1, qe.Limit)
	require.Equal(t, int64(1), qe.Active)
}

func TestReserveCreateIneligible(t *testing.T) {
	g, s := newTestGuard(t)
	ctx := context.Background()

	tenant := &store.Tenant{ID: "tenant-broke", OwnerID: "owner-1", Tier: types.TierStandard}
	require.NoError(t, s.CreateTenant(ctx, tenant))

	err := g.ReserveCreate(ctx, tenant, &store.VMInstance{
		ID: "vm-x", TenantID: tenant.ID, Name: "hatch-x",
		Status: types.VMStatusProvisioning, VCPU: 1, Memory: 1 << 30,
		Image: "ubuntu:24.04", ExpiresAt: time.Now().Add(time.Hour),
	})
	var pe *PaymentError
	require.ErrorAs(t, err, &pe)

	// the eligibility rejection must short-circuit the reservation
	n, cntErr := s.CountActiveVMs(ctx, tenant.ID)
	require.NoError(t, cntErr)
	require.Zero(t, n)
}

func TestRejection(t *testing.T) {
	require.True(t, Rejection(&QuotaError{}))
	require.True(t, Rejection(&PaymentError{}))
	require.True(t, Rejection(errors.Join(errors.New("wrapped"), &QuotaError{})))
	require.False(t, Rejection(errors.New("provider timeout")))
	require.False(t, Rejection(nil))
}
