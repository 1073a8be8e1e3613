package types

// Tier is a tenant's subscription tier. Each tier maps to a fixed
// concurrent-VM limit, a resource ceiling, and a per-minute billing rate.
type Tier string

const (
	TierStandard   Tier = "standard"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierStandard, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Paid reports whether t is a paid tier. Paid tenants are eligible for
// cost-incurring operations regardless of credit balance.
func (t Tier) Paid() bool {
	return t == TierPro || t == TierEnterprise
}

// VMLimit is the maximum number of VMs a tenant may have in
// {provisioning, running} at once.
func (t Tier) VMLimit() int {
	switch t {
	case TierPro:
		return 3
	case TierEnterprise:
		return 10
	default:
		return 1
	}
}

// MaxVCPU is the per-VM vCPU ceiling for the tier.
func (t Tier) MaxVCPU() int {
	switch t {
	case TierPro:
		return 8
	case TierEnterprise:
		return 32
	default:
		return 2
	}
}

// MaxMemory is the per-VM memory ceiling for the tier, in bytes.
func (t Tier) MaxMemory() int64 {
	switch t {
	case TierPro:
		return 16 << 30
	case TierEnterprise:
		return 64 << 30
	default:
		return 4 << 30
	}
}

// CentsPerMinute is the billing rate for a running VM, in the smallest
// currency unit per minute. Both explicit stop and forced expiry bill with
// this rate, so identical elapsed durations always cost the same.
func (t Tier) CentsPerMinute() int64 {
	switch t {
	case TierPro:
		return 10
	case TierEnterprise:
		return 20
	default:
		return 5
	}
}
