package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

func startedVM(t *testing.T, o *Orchestrator, s *store.Store) *store.VMInstance {
	t.Helper()
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)
	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx, "t1", vm.ID))
	return vm
}

func TestCredentialRoundTrip(t *testing.T) {
	o, s := newTestOrch(t, &fakeProvider{})
	ctx := context.Background()
	vm := startedVM(t, o, s)

	issued, err := o.IssueCredential(ctx, "t1", vm.ID)
	require.NoError(t, err)
	require.Len(t, issued.Secret, 32)
	require.WithinDuration(t, time.Now().Add(types.CredentialTTL), issued.ExpiresAt, 5*time.Second)

	got, err := o.RetrieveCredential(ctx, "t1", vm.ID)
	require.NoError(t, err)
	require.Equal(t, issued.Secret, got.Secret)

	// consumed on first retrieval
	_, err = o.RetrieveCredential(ctx, "t1", vm.ID)
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestCredentialOnlyWhileRunning(t *testing.T) {
	o, s := newTestOrch(t, &fakeProvider{})
	ctx := context.Background()
	addTenant(t, s, "t1", types.TierStandard, 100)
	vm, err := o.Create(ctx, "t1", stdShape())
	require.NoError(t, err)

	_, err = o.IssueCredential(ctx, "t1", vm.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCredentialReissueOverwrites(t *testing.T) {
	o, s := newTestOrch(t, &fakeProvider{})
	ctx := context.Background()
	vm := startedVM(t, o, s)

	first, err := o.IssueCredential(ctx, "t1", vm.ID)
	require.NoError(t, err)
	second, err := o.IssueCredential(ctx, "t1", vm.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	got, err := o.RetrieveCredential(ctx, "t1", vm.ID)
	require.NoError(t, err)
	require.Equal(t, second.Secret, got.Secret)

	_, err = o.RetrieveCredential(ctx, "t1", vm.ID)
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestCredentialExpiryConsumes(t *testing.T) {
	o, s := newTestOrch(t, &fakeProvider{})
	ctx := context.Background()
	vm := startedVM(t, o, s)

	_, err := o.IssueCredential(ctx, "t1", vm.ID)
	require.NoError(t, err)

	// age the credential past its TTL
	require.NoError(t, s.UpdateVMMetadata(ctx, vm.ID, func(md *types.VMMetadata) error {
		md.Credential.ExpiresAt = time.Now().Add(-time.Second)
		return nil
	}))

	_, err = o.RetrieveCredential(ctx, "t1", vm.ID)
	require.ErrorIs(t, err, ErrNoCredential)

	// the expired credential was removed, not left behind
	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	require.Nil(t, got.Metadata.Credential)
}
