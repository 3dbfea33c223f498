// Package access decides which query path a principal may use: the
// tenant-scoped gateway or the direct role-linked bypass. The decision is
// made once per session, gated so no fetch races ahead of it, and may only
// move in one direction.
package access

// Path is the resolved access path for a principal.
type Path string

const (
	PathUnresolved       Path = "unresolved"
	PathTenantScoped     Path = "tenant_scoped"
	PathDirectRoleLinked Path = "direct_role_linked"
)

// String implements fmt.Stringer; the value doubles as a cache key segment.
func (p Path) String() string {
	return string(p)
}

// Resolved reports whether the path has left the unresolved state.
func (p Path) Resolved() bool {
	return p == PathTenantScoped || p == PathDirectRoleLinked
}

// CanTransition is the single source of truth for path moves. Direct access
// is authoritative and final: once a principal is direct-role-linked it never
// falls back to tenant scoping in the same session. Tenant scoping may be
// abandoned in favor of the direct path (emergency promotion), never the
// reverse.
func (p Path) CanTransition(to Path) bool {
	if p == to {
		return true
	}
	switch p {
	case PathUnresolved:
		return to == PathTenantScoped || to == PathDirectRoleLinked
	case PathTenantScoped:
		return to == PathDirectRoleLinked
	case PathDirectRoleLinked:
		return false
	}
	return false
}
