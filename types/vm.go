package types

import "time"

// VMStatus is the lifecycle state of a VM instance.
type VMStatus string

const (
	VMStatusProvisioning VMStatus = "provisioning" // row reserved, provider create in flight
	VMStatusReady        VMStatus = "ready"        // provider confirmed creation, not started
	VMStatusRunning      VMStatus = "running"      // guest is up, billing session open
	VMStatusStopped      VMStatus = "stopped"      // stopped by the user
	VMStatusExpiring     VMStatus = "expiring"     // claimed by an expiry sweep, stop in flight
	VMStatusExpired      VMStatus = "expired"      // force-stopped past its deadline
	VMStatusFailed       VMStatus = "failed"       // provider create failed
	VMStatusUnknown      VMStatus = "unknown"      // drift sync could not confirm provider state
)

// Terminal reports whether s permits no further lifecycle transitions
// other than deletion.
func (s VMStatus) Terminal() bool {
	return s == VMStatusFailed || s == VMStatusExpired
}

const (
	// VMTTL is the lifetime granted on creation and on each extension.
	VMTTL = 24 * time.Hour

	// CredentialTTL is the lifetime of an ephemeral access credential.
	CredentialTTL = 5 * time.Minute
)

// Shape describes the resources requested for a VM. Immutable after creation.
type Shape struct {
	VCPU   int    `json:"vcpu"`
	Memory int64  `json:"memory"` // bytes
	Image  string `json:"image"`
}

// Credential is a single-use, time-boxed access secret for a running VM.
// It lives in the VM's metadata and is removed on first retrieval or on
// expiry check, whichever comes first.
type Credential struct {
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VMMetadata is the free-form document attached to a VM instance. Modeled as
// a struct of optional sub-records rather than an open map so that what can
// legally be stored there is checked at compile time. Callers must tolerate
// every field being absent.
type VMMetadata struct {
	Credential     *Credential `json:"credential,omitempty"`
	FailureReason  string      `json:"failure_reason,omitempty"`
	ExtensionCount int         `json:"extension_count,omitempty"`
}
