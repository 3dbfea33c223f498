// Package direct resolves a principal's role-owned resources through direct
// foreign-key relationships. It is the bypass path: none of its reads consult
// tenant readiness, so a linked principal keeps working even when the tenant
// context has not resolved or has errored.
package direct

import (
	"time"

	id "schoolhub/pkg/domain"
)

// Profile is the role-linked record for a principal (a teacher row reached
// via the users.linked_teacher_id relationship).
type Profile struct {
	ID            id.ProfileID
	PrincipalID   id.PrincipalID
	TenantID      id.TenantID
	Name          string
	Qualification string
	Phone         string
}

// Assignment is one owned class/subject pair, deduplicated by group identity.
type Assignment struct {
	ClassID     id.ClassID
	SubjectID   id.SubjectID
	ClassName   string
	Section     string
	SubjectName string
}

// GroupKey identifies the assignment's class/subject group.
func (a Assignment) GroupKey() string {
	return a.ClassID.String() + "/" + a.SubjectID.String()
}

// ScheduleEntry is one timetable slot for the profile.
type ScheduleEntry struct {
	ClassID     id.ClassID
	SubjectID   id.SubjectID
	ClassName   string
	Section     string
	SubjectName string
	DayOfWeek   string
	StartTime   string
	EndTime     string
}

// Member is a student reachable through an owned class.
type Member struct {
	ID        id.StudentID
	ClassID   id.ClassID
	Name      string
	RollNo    int
	ClassName string
	Section   string
}

// AttendanceSummary is the same-day presence ratio over owned members.
// Degraded marks the documented fallback used when attendance rows were
// unreadable; the ratio is then 0/0 and PresentRate is 0.
type AttendanceSummary struct {
	Date     time.Time
	Present  int
	Total    int
	Degraded bool
}

// PresentRate returns the presence percentage, 0 when no members are tracked.
func (a AttendanceSummary) PresentRate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Present) / float64(a.Total) * 100
}
