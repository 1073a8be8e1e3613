package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/projecteru2/hatchery/types"
)

// IssueCredential generates a one-time connection secret for a running VM
// with a fixed 5-minute TTL, overwriting any prior credential — at most one
// may be live per VM.
func (o *Orchestrator) IssueCredential(ctx context.Context, tenantID, vmID string) (*types.Credential, error) {
	vm, err := o.ownedVM(ctx, tenantID, vmID)
	if err != nil {
		return nil, err
	}
	if vm.Status != types.VMStatusRunning {
		return nil, transitionErr("issue credential", vm.Status)
	}

	cred := &types.Credential{
		Secret:    generateSecret(),
		ExpiresAt: time.Now().Add(types.CredentialTTL),
	}
	err = o.store.UpdateVMMetadata(ctx, vm.ID, func(md *types.VMMetadata) error {
		md.Credential = cred
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// RetrieveCredential returns the VM's live credential and consumes it —
// every successful retrieval invalidates the secret, and an expired
// credential is deleted instead of handed out. There is no peek.
func (o *Orchestrator) RetrieveCredential(ctx context.Context, tenantID, vmID string) (*types.Credential, error) {
	vm, err := o.ownedVM(ctx, tenantID, vmID)
	if err != nil {
		return nil, err
	}

	var cred types.Credential
	var live bool
	err = o.store.UpdateVMMetadata(ctx, vm.ID, func(md *types.VMMetadata) error {
		if md.Credential == nil {
			return nil
		}
		if !time.Now().Before(md.Credential.ExpiresAt) {
			// Consumed by the expiry check: the removal must persist, so
			// this is not an error path for the write.
			md.Credential = nil
			return nil
		}
		cred = *md.Credential
		md.Credential = nil
		live = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, fmt.Errorf("VM %s: %w", vmID, ErrNoCredential)
	}
	return &cred, nil
}

// generateSecret returns a 32-character hex secret (16 bytes of entropy).
func generateSecret() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
