// Package tenant resolves and caches the organizational tenant for the
// current session. Resolution happens once; afterwards every read is a cheap
// cache hit, and readiness never regresses until the session is torn down.
package tenant

import (
	id "schoolhub/pkg/domain"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Tenant is the cached metadata for the session's organization.
type Tenant struct {
	ID     id.TenantID
	Name   string
	Status Status
}

// IsActive reports whether the tenant may serve scoped reads.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}
