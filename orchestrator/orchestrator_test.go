package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/guard"
	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

func newTestOrch(t *testing.T, fake *fakeProvider) (*Orchestrator, *store.Store) {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	s, err := store.Open(conf)
	require.NoError(t, err)
	return New(conf, s, fake), s
}

func addTenant(t *testing.T, s *store.Store, id string, tier types.Tier, credits int64) *store.Tenant {
	t.Helper()
	tenant := &store.Tenant{ID: id, OwnerID: "owner-" + id, Tier: tier, CreditBalance: credits}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func stdShape() types.Shape {
	return types.Shape{VCPU: 2, Memory: 2 << 30, Image: "ubuntu:24.04"}
}

func TestCreate(t *testing.T) {
	fake := &fakeProvider{}
	o, _ := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, o.store, "t1", types.TierStandard, 100)

	before := time.Now()
	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	require.Equal(t, types.VMStatusReady, vm.Status)
	require.Equal(t, "prov-"+vm.Name, vm.ProviderID)
	require.Equal(t, "10.0.0.5", vm.Address)
	require.Equal(t, 2222, vm.Port)
	require.Contains(t, vm.Name, "hatch-")
	require.WithinDuration(t, before.Add(types.VMTTL), vm.ExpiresAt, 5*time.Second)

	got, err := o.Get(ctx, "t1", vm.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusReady, got.Status)
}

func TestCreateUnknownTenant(t *testing.T) {
	o, _ := newTestOrch(t, &fakeProvider{})
	_, err := o.Create(context.Background(), "nope", stdShape())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateInvalidShape(t *testing.T) {
	o, _ := newTestOrch(t, &fakeProvider{})
	ctx := context.Background()
	addTenant(t, o.store, "t1", types.TierStandard, 100)

	tests := []struct {
		name  string
		shape types.Shape
	}{
		{"zero vcpu", types.Shape{VCPU: 0, Memory: 1 << 30, Image: "ubuntu:24.04"}},
		{"negative memory", types.Shape{VCPU: 1, Memory: -1, Image: "ubuntu:24.04"}},
		{"missing image", types.Shape{VCPU: 1, Memory: 1 << 30}},
		{"malformed image", types.Shape{VCPU: 1, Memory: 1 << 30, Image: "UPPER CASE??"}},
		{"vcpu over tier ceiling", types.Shape{VCPU: 4, Memory: 1 << 30, Image: "ubuntu:24.04"}},
		{"memory over tier ceiling", types.Shape{VCPU: 1, Memory: 8 << 30, Image: "ubuntu:24.04"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Create(ctx, "t1", tt.shape)
			require.ErrorIs(t, err, ErrInvalidShape)
		})
	}
}

func TestCreateQuotaRejected(t *testing.T) {
	fake := &fakeProvider{}
	o, _ := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, o.store, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	// a ready VM holds no active capacity, so a second create still fits
	_, err = o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	// once one runs, the standard tier's single slot is taken
	require.NoError(t, o.Start(ctx, "t1", vm.ID))
	_, err = o.Create(ctx, "t1", stdShape())
	var qe *guard.QuotaError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, 1, qe.Limit)
}

func TestCreateProviderFailure(t *testing.T) {
	fake := &fakeProvider{createErr: errors.New("capacity exhausted")}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	_, err := o.Create(ctx, "t1", stdShape())
	require.Error(t, err)

	vms, err := s.ListVMs(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, vms, 1)
	require.Equal(t, types.VMStatusFailed, vms[0].Status)
	require.Contains(t, vms[0].Metadata.FailureReason, "capacity exhausted")

	// a failed instance frees its slot immediately
	fake.createErr = nil
	_, err = o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	require.NoError(t, o.Start(ctx, "t1", vm.ID))

	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	session, err := s.GetOpenSession(ctx, vm.ID)
	require.NoError(t, err)
	require.True(t, session.Open())

	// starting a running VM is rejected
	require.ErrorIs(t, o.Start(ctx, "t1", vm.ID), ErrInvalidTransition)

	require.NoError(t, o.Stop(ctx, "t1", vm.ID))

	got, err = s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusStopped, got.Status)
	require.NotNil(t, got.StoppedAt)

	_, err = s.GetOpenSession(ctx, vm.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	// stopping again is rejected
	require.ErrorIs(t, o.Stop(ctx, "t1", vm.ID), ErrInvalidTransition)

	// restart keeps the original started_at
	firstStart := *got.StartedAt
	require.NoError(t, o.Start(ctx, "t1", vm.ID))
	got, err = s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.WithinDuration(t, firstStart, *got.StartedAt, time.Second)
}

func TestStartEnforcesQuota(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	first, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
	second, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	require.NoError(t, o.Start(ctx, "t1", first.ID))

	// the standard tier's single running slot is taken
	err = o.Start(ctx, "t1", second.ID)
	var qe *guard.QuotaError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, 1, qe.Limit)
	require.Equal(t, int64(1), qe.Active)

	// the losing start left no running VM, no session, and released the
	// provider resource
	got, err := s.GetVM(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusReady, got.Status)
	_, err = s.GetOpenSession(ctx, second.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, 1, fake.stopCount())

	n, err := s.CountActiveVMs(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// stopping the first frees the slot
	require.NoError(t, o.Stop(ctx, "t1", first.ID))
	require.NoError(t, o.Start(ctx, "t1", second.ID))
}

func TestStartIneligibleTenant(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 1)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	// exhaust the balance before starting
	require.NoError(t, s.DeductCredit(ctx, "t1", 1))

	err = o.Start(ctx, "t1", vm.ID)
	var pe *guard.PaymentError
	require.ErrorAs(t, err, &pe)

	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusReady, got.Status)
}

func TestStartProviderFailure(t *testing.T) {
	fake := &fakeProvider{startErr: errors.New("hypervisor busy")}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	require.Error(t, o.Start(ctx, "t1", vm.ID))

	// status unchanged, no session opened
	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusReady, got.Status)
	_, err = s.GetOpenSession(ctx, vm.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStopProviderFailure(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx, "t1", vm.ID))

	fake.stopErr = errors.New("hypervisor busy")
	require.Error(t, o.Stop(ctx, "t1", vm.ID))

	// still running, still billing
	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusRunning, got.Status)
	_, err = s.GetOpenSession(ctx, vm.ID)
	require.NoError(t, err)
}

func TestTenantIsolation(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)
	addTenant(t, s, "t2", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	_, err = o.Get(ctx, "t2", vm.ID)
	require.ErrorIs(t, err, ErrNotOwned)
	require.ErrorIs(t, o.Start(ctx, "t2", vm.ID), ErrNotOwned)
	require.ErrorIs(t, o.Delete(ctx, "t2", vm.ID), ErrNotOwned)
	_, err = o.IssueCredential(ctx, "t2", vm.ID)
	require.ErrorIs(t, err, ErrNotOwned)
}

func TestDelete(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx, "t1", vm.ID))

	// deleting a running VM stops it implicitly and closes its session
	require.NoError(t, o.Delete(ctx, "t1", vm.ID))
	require.Equal(t, 1, fake.stopCount())
	require.Equal(t, 1, fake.deleteCount())

	_, err = s.GetVM(ctx, vm.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetOpenSession(ctx, vm.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteAfterUnknownSettlesSession(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx, "t1", vm.ID))

	// a drift sync that could not confirm provider state parks the VM
	require.NoError(t, s.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusUnknown, nil, types.VMStatusRunning))

	require.NoError(t, o.Delete(ctx, "t1", vm.ID))

	_, err = s.GetVM(ctx, vm.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	// the session opened at start went with it, closed and settled rather
	// than left open against a record that no longer exists
	_, err = s.GetOpenSession(ctx, vm.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteSurvivesProviderFailure(t *testing.T) {
	fake := &fakeProvider{deleteErr: errors.New("provider down")}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	// the local record must not stay billable because the provider is down
	require.NoError(t, o.Delete(ctx, "t1", vm.ID))
	_, err = s.GetVM(ctx, vm.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteBlockedMidTransition(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	for _, status := range []types.VMStatus{types.VMStatusProvisioning, types.VMStatusExpiring} {
		require.NoError(t, s.UpdateVMStatusFrom(ctx, vm.ID, status, nil, vm.Status))
		require.ErrorIs(t, o.Delete(ctx, "t1", vm.ID), ErrInvalidTransition)
		require.NoError(t, s.UpdateVMStatusFrom(ctx, vm.ID, vm.Status, nil, status))
	}
}

func TestExtend(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	deadline, err := o.Extend(ctx, "t1", vm.ID)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(types.VMTTL), deadline, 5*time.Second)

	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Metadata.ExtensionCount)

	// terminal VMs cannot be extended
	require.NoError(t, s.UpdateVMStatusFrom(ctx, vm.ID, types.VMStatusFailed, nil, types.VMStatusReady))
	_, err = o.Extend(ctx, "t1", vm.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestForceExpire(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx, "t1", vm.ID))

	claimed, err := s.ClaimExpired(ctx, time.Now().Add(types.VMTTL+time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, o.ForceExpire(ctx, &claimed[0]))

	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusExpired, got.Status)
	require.NotNil(t, got.StoppedAt)
	_, err = s.GetOpenSession(ctx, vm.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestForceExpireUnclaimsOnProviderFailure(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx, "t1", vm.ID))

	claimed, err := s.ClaimExpired(ctx, time.Now().Add(types.VMTTL+time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	fake.stopErr = errors.New("provider down")
	require.Error(t, o.ForceExpire(ctx, &claimed[0]))

	// the claim is released so the next sweep retries
	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Equal(t, types.VMStatusRunning, got.Status)
	_, err = s.GetOpenSession(ctx, vm.ID)
	require.NoError(t, err)
}

func TestUsage(t *testing.T) {
	fake := &fakeProvider{}
	o, s := newTestOrch(t, fake)
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)

	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx, "t1", vm.ID))
	require.NoError(t, o.Stop(ctx, "t1", vm.ID))

	stats, err := o.Usage(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalVMs)
	require.Zero(t, stats.RunningVMs)

	_, err = o.Usage(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}
