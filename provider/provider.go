// Package provider defines the contract with the external VM-hosting
// service. The provider has no transactional guarantees: every result is a
// plain success/failure value the orchestrator must reconcile against store
// state before committing — a "success" is never authoritative on its own.
package provider

import (
	"context"
	"errors"
)

// ErrVMNotFound is returned when the provider does not know the VM name.
// Callers must treat it differently from transport failure: a missing VM is
// not proof the VM stopped.
var ErrVMNotFound = errors.New("VM not found on provider")

// Status is the provider's view of a VM.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
)

// CreateSpec describes the VM to create.
type CreateSpec struct {
	Name   string
	VCPU   int
	Memory int64 // bytes
	Image  string
}

// CreateResult is the provider's answer to a successful create.
type CreateResult struct {
	ProviderID string
	Address    string
	Port       int
}

// Client is the thin request/response wrapper around the provider API.
// Constructed once at process start and injected into every component that
// needs it. All calls may time out or fail; none panic.
type Client interface {
	CreateVM(ctx context.Context, spec CreateSpec) (*CreateResult, error)
	StartVM(ctx context.Context, name string) error
	StopVM(ctx context.Context, name string) error
	DeleteVM(ctx context.Context, name string) error
	GetVMStatus(ctx context.Context, name string) (Status, error)
}
