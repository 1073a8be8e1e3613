package store

import (
	"time"

	"github.com/projecteru2/hatchery/types"
)

// Tenant is the isolation and billing boundary. A tenant is never
// hard-deleted while it owns resources; deleting one cascades to its VM
// instances and billing sessions.
type Tenant struct {
	ID      string     `gorm:"primaryKey"`
	OwnerID string     `gorm:"index;not null"`
	Tier    types.Tier `gorm:"not null"`

	// CreditBalance is in the smallest currency unit. Never negative: every
	// deduction is an atomic conditional update.
	CreditBalance int64 `gorm:"not null;default:0"`

	TrialEndsAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	VMs      []VMInstance     `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
	Sessions []BillingSession `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
}

// VMInstance is the orchestrated unit. Tenant, name, and shape are immutable
// after creation; status is mutated only through conditional updates keyed on
// the previous status.
type VMInstance struct {
	ID       string `gorm:"primaryKey"`
	TenantID string `gorm:"index;not null"`

	// Name is the provider-facing name, globally unique.
	Name string `gorm:"uniqueIndex;not null"`

	Status types.VMStatus `gorm:"index;not null"`

	// Shape, flattened into columns.
	VCPU   int    `gorm:"not null"`
	Memory int64  `gorm:"not null"` // bytes
	Image  string `gorm:"not null"`

	// Set once the provider confirms creation/readiness.
	ProviderID string
	Address    string
	Port       int

	Metadata types.VMMetadata `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	StoppedAt *time.Time

	// ExpiresAt is refreshed to now+24h on creation and on every extension.
	// A running VM past this deadline is eligible for forced expiry.
	ExpiresAt time.Time `gorm:"index;not null"`
}

// Shape returns the immutable resource shape of the instance.
func (v *VMInstance) Shape() types.Shape {
	return types.Shape{VCPU: v.VCPU, Memory: v.Memory, Image: v.Image}
}

// BillingSession is one accounting interval bound to a single running period
// of one VM. At most one session per VM is open (EndedAt null) at a time.
// Sessions reference the VM by plain ID, not a foreign key: they must survive
// VM deletion so usage aggregation stays complete. They cascade away with the
// owning tenant.
type BillingSession struct {
	ID       uint   `gorm:"primaryKey"`
	TenantID string `gorm:"index;not null"`
	VMID     string `gorm:"index;not null"`

	StartedAt time.Time `gorm:"not null"`
	EndedAt   *time.Time

	// Set at close time, never mutated afterwards.
	DurationSecs int64
	CostCents    int64
}

// Open reports whether the session has not been closed yet.
func (s *BillingSession) Open() bool { return s.EndedAt == nil }
