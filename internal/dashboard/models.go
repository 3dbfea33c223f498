// Package dashboard assembles the role dashboard for one principal session.
// It owns the session lifecycle: paint cached state first, resolve the access
// path, fetch along it, refine in the background, and keep the view current
// through coalesced refreshes.
package dashboard

import (
	"schoolhub/internal/direct"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StateHydrating   State = "hydrating"
	StateResolving   State = "resolving"
	StateFetching    State = "fetching"
	StateProvisional State = "rendered_provisional"
	StateRefining    State = "refining"
	StateFinal       State = "rendered_final"
	StateRefreshing  State = "refreshing"
	StateError       State = "error"
	StateClosed      State = "closed"
)

// Rendered reports whether the state carries presentable data.
func (s State) Rendered() bool {
	switch s {
	case StateProvisional, StateRefining, StateFinal, StateRefreshing:
		return true
	}
	return false
}

// Notification is a tenant-wide announcement row.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Data is the dashboard payload. Both access paths produce the same shape;
// Notifications stay empty on the direct path, which has no tenant scope to
// read them under.
type Data struct {
	Profile       *direct.Profile          `json:"profile,omitempty"`
	Assignments   []direct.Assignment      `json:"assignments,omitempty"`
	Schedule      []direct.ScheduleEntry   `json:"schedule,omitempty"`
	Members       []direct.Member          `json:"members,omitempty"`
	ClassCounts   map[string]int           `json:"class_counts,omitempty"`
	Attendance    direct.AttendanceSummary `json:"attendance"`
	Notifications []Notification           `json:"notifications,omitempty"`

	// Refined is set once the post-paint aggregation has replaced the
	// provisional member set.
	Refined bool `json:"refined"`
}

// View is the renderable projection of the controller at one moment.
type View struct {
	State   State
	Data    *Data
	Err     error
	Loading bool
	IsStale bool
}
