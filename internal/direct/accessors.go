package direct

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"schoolhub/internal/backend"
	"schoolhub/internal/sentinel"
	id "schoolhub/pkg/domain"
)

var attendanceDegradations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "schoolhub_direct_attendance_degradations_total",
	Help: "Attendance summaries served with the fallback ratio",
})

const dateLayout = "2006-01-02"

// Accessors is the direct role-linked accessor set. Each method is
// independently callable; dashboard assembly issues them concurrently and
// merges results.
type Accessors struct {
	backend backend.Client
	logger  *slog.Logger
	clock   func() time.Time
}

// Option configures the accessor set.
type Option func(*Accessors)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Accessors) {
		a.logger = logger
	}
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(a *Accessors) {
		a.clock = clock
	}
}

// New creates the accessor set over the given query client.
func New(client backend.Client, opts ...Option) *Accessors {
	a := &Accessors{backend: client, logger: slog.Default(), clock: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetOwnProfile resolves the role-linked profile for a principal. A missing
// link returns sentinel.ErrNotLinked; the path resolver treats that as the
// signal to fall back to tenant scoping.
func (a *Accessors) GetOwnProfile(ctx context.Context, principalID id.PrincipalID) (*Profile, error) {
	users, err := a.backend.Select(ctx, backend.Query{
		Resource: "users",
		Filters:  []backend.Filter{backend.Eq("id", principalID.String())},
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("load user record: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %s: %w", principalID, sentinel.ErrNotLinked)
	}

	linkedID := users[0].String("linked_teacher_id")
	if linkedID == "" {
		return nil, fmt.Errorf("user %s has no role link: %w", principalID, sentinel.ErrNotLinked)
	}
	profileID, err := id.ParseProfileID(linkedID)
	if err != nil {
		return nil, fmt.Errorf("malformed role link for user %s: %w", principalID, err)
	}

	teachers, err := a.backend.Select(ctx, backend.Query{
		Resource: "teachers",
		Filters:  []backend.Filter{backend.Eq("id", profileID.String())},
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("load linked profile: %w", err)
	}
	if len(teachers) == 0 {
		// A dangling link is still not-linked from the resolver's view.
		return nil, fmt.Errorf("linked profile %s missing: %w", profileID, sentinel.ErrNotLinked)
	}

	row := teachers[0]
	profile := &Profile{
		ID:            profileID,
		PrincipalID:   principalID,
		Name:          row.String("name"),
		Qualification: row.String("qualification"),
		Phone:         row.String("phone"),
	}
	if tenantID, err := id.ParseTenantID(row.String("tenant_id")); err == nil {
		profile.TenantID = tenantID
	}
	return profile, nil
}

// GetOwnedAssignments resolves the class/subject pairs the profile teaches,
// deduplicated by group identity.
func (a *Accessors) GetOwnedAssignments(ctx context.Context, profileID id.ProfileID) ([]Assignment, error) {
	links, err := a.backend.Select(ctx, backend.Query{
		Resource: "teacher_subjects",
		Filters:  []backend.Filter{backend.Eq("teacher_id", profileID.String())},
	})
	if err != nil {
		return nil, fmt.Errorf("load subject links: %w", err)
	}
	if len(links) == 0 {
		return nil, nil
	}

	subjectIDs := make([]any, 0, len(links))
	for _, link := range links {
		if sid := link.String("subject_id"); sid != "" {
			subjectIDs = append(subjectIDs, sid)
		}
	}
	subjects, err := a.fetchByIDs(ctx, "subjects", subjectIDs)
	if err != nil {
		return nil, err
	}

	classIDs := make([]any, 0, len(subjects))
	for _, subj := range subjects {
		if cid := subj.String("class_id"); cid != "" {
			classIDs = append(classIDs, cid)
		}
	}
	classes, err := a.fetchByIDs(ctx, "classes", classIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Assignment
	for _, subj := range subjects {
		classID, err := id.ParseClassID(subj.String("class_id"))
		if err != nil {
			continue
		}
		subjectID, err := id.ParseSubjectID(subj.ID())
		if err != nil {
			continue
		}
		assignment := Assignment{
			ClassID:     classID,
			SubjectID:   subjectID,
			SubjectName: subj.String("name"),
		}
		if class, ok := classes[classID.String()]; ok {
			assignment.ClassName = class.String("class_name")
			assignment.Section = class.String("section")
		}
		if seen[assignment.GroupKey()] {
			continue
		}
		seen[assignment.GroupKey()] = true
		out = append(out, assignment)
	}
	return out, nil
}

// GetSchedule resolves the profile's timetable, time-ordered, optionally
// restricted to one day-of-week label.
func (a *Accessors) GetSchedule(ctx context.Context, profileID id.ProfileID, dayFilter string) ([]ScheduleEntry, error) {
	q := backend.Query{
		Resource: "timetable_entries",
		Filters:  []backend.Filter{backend.Eq("teacher_id", profileID.String())},
		OrderBy:  "start_time",
	}
	if dayFilter != "" {
		q = q.WithFilter(backend.Eq("day_of_week", dayFilter))
	}
	rows, err := a.backend.Select(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	subjectIDs := make([]any, 0, len(rows))
	classIDs := make([]any, 0, len(rows))
	for _, row := range rows {
		if sid := row.String("subject_id"); sid != "" {
			subjectIDs = append(subjectIDs, sid)
		}
		if cid := row.String("class_id"); cid != "" {
			classIDs = append(classIDs, cid)
		}
	}
	subjects, err := a.fetchByIDs(ctx, "subjects", subjectIDs)
	if err != nil {
		return nil, err
	}
	classes, err := a.fetchByIDs(ctx, "classes", classIDs)
	if err != nil {
		return nil, err
	}

	out := make([]ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		entry := ScheduleEntry{
			DayOfWeek: row.String("day_of_week"),
			StartTime: row.String("start_time"),
			EndTime:   row.String("end_time"),
		}
		if classID, err := id.ParseClassID(row.String("class_id")); err == nil {
			entry.ClassID = classID
			if class, ok := classes[classID.String()]; ok {
				entry.ClassName = class.String("class_name")
				entry.Section = class.String("section")
			}
		}
		if subjectID, err := id.ParseSubjectID(row.String("subject_id")); err == nil {
			entry.SubjectID = subjectID
			if subj, ok := subjects[subjectID.String()]; ok {
				entry.SubjectName = subj.String("name")
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetOwnedMembers resolves the deduplicated set of students reachable through
// the profile's assigned classes.
func (a *Accessors) GetOwnedMembers(ctx context.Context, profileID id.ProfileID) ([]Member, error) {
	assignments, err := a.GetOwnedAssignments(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	classIDs := make([]any, 0, len(assignments))
	classSeen := make(map[string]bool)
	classNames := make(map[string]Assignment)
	for _, assignment := range assignments {
		key := assignment.ClassID.String()
		classNames[key] = assignment
		if !classSeen[key] {
			classSeen[key] = true
			classIDs = append(classIDs, key)
		}
	}

	rows, err := a.backend.Select(ctx, backend.Query{
		Resource: "students",
		Filters:  []backend.Filter{backend.In("class_id", classIDs)},
		OrderBy:  "name",
	})
	if err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}

	seen := make(map[string]bool)
	var out []Member
	for _, row := range rows {
		studentID, err := id.ParseStudentID(row.ID())
		if err != nil || seen[studentID.String()] {
			continue
		}
		seen[studentID.String()] = true

		member := Member{ID: studentID, Name: row.String("name")}
		if n, ok := row["roll_no"].(int); ok {
			member.RollNo = n
		}
		if classID, err := id.ParseClassID(row.String("class_id")); err == nil {
			member.ClassID = classID
			if assignment, ok := classNames[classID.String()]; ok {
				member.ClassName = assignment.ClassName
				member.Section = assignment.Section
			}
		}
		out = append(out, member)
	}
	return out, nil
}

// ListClassMembers resolves the students of one class, ordered by name. The
// progressive aggregator fans this out per class after the provisional paint.
func (a *Accessors) ListClassMembers(ctx context.Context, classID id.ClassID) ([]Member, error) {
	rows, err := a.backend.Select(ctx, backend.Query{
		Resource: "students",
		Filters:  []backend.Filter{backend.Eq("class_id", classID.String())},
		OrderBy:  "name",
	})
	if err != nil {
		return nil, fmt.Errorf("load class %s students: %w", classID, err)
	}

	out := make([]Member, 0, len(rows))
	for _, row := range rows {
		studentID, err := id.ParseStudentID(row.ID())
		if err != nil {
			continue
		}
		member := Member{ID: studentID, ClassID: classID, Name: row.String("name")}
		if n, ok := row["roll_no"].(int); ok {
			member.RollNo = n
		}
		out = append(out, member)
	}
	return out, nil
}

// GetAttendanceSummary computes the same-day presence ratio over owned
// members. When attendance rows are unreadable it degrades to the fallback
// ratio (0 of 0, Degraded=true) and logs, rather than failing the dashboard.
func (a *Accessors) GetAttendanceSummary(ctx context.Context, profileID id.ProfileID) (AttendanceSummary, error) {
	today := a.clock().Truncate(24 * time.Hour)
	summary := AttendanceSummary{Date: today}

	members, err := a.GetOwnedMembers(ctx, profileID)
	if err != nil {
		return a.degrade(ctx, summary, profileID, err), nil
	}
	if len(members) == 0 {
		return summary, nil
	}

	memberIDs := make([]any, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID.String())
	}

	rows, err := a.backend.Select(ctx, backend.Query{
		Resource: "student_attendance",
		Filters: []backend.Filter{
			backend.Eq("date", today.Format(dateLayout)),
			backend.In("student_id", memberIDs),
		},
	})
	if err != nil {
		return a.degrade(ctx, summary, profileID, err), nil
	}

	summary.Total = len(rows)
	for _, row := range rows {
		if row.String("status") == "Present" {
			summary.Present++
		}
	}
	return summary, nil
}

func (a *Accessors) degrade(ctx context.Context, summary AttendanceSummary, profileID id.ProfileID, err error) AttendanceSummary {
	attendanceDegradations.Inc()
	a.logger.WarnContext(ctx, "attendance summary degraded to fallback ratio",
		"profile_id", profileID,
		"error", err,
	)
	summary.Degraded = true
	summary.Present = 0
	summary.Total = 0
	return summary
}

// fetchByIDs loads rows by id and indexes them by id string. Empty input
// yields an empty map without a backend round trip.
func (a *Accessors) fetchByIDs(ctx context.Context, resource string, ids []any) (map[string]backend.Record, error) {
	out := make(map[string]backend.Record)
	if len(ids) == 0 {
		return out, nil
	}
	unique := make([]any, 0, len(ids))
	seen := make(map[any]bool)
	for _, v := range ids {
		if !seen[v] {
			seen[v] = true
			unique = append(unique, v)
		}
	}
	rows, err := a.backend.Select(ctx, backend.Query{
		Resource: resource,
		Filters:  []backend.Filter{backend.In("id", unique)},
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", resource, err)
	}
	for _, row := range rows {
		out[row.ID()] = row
	}
	return out, nil
}

// SortSchedule orders entries by class label then start time, matching the
// grouped presentation the dashboard renders.
func SortSchedule(entries []ScheduleEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ClassName != entries[j].ClassName {
			return classOrderKey(entries[i].ClassName) < classOrderKey(entries[j].ClassName)
		}
		return entries[i].StartTime < entries[j].StartTime
	})
}

// classOrderKey ranks class labels the way the school orders them:
// Nursery, KG, then numbered classes.
func classOrderKey(className string) int {
	if className == "" {
		return 9999
	}
	if len(className) >= 7 && className[:7] == "Nursery" {
		return 0
	}
	if len(className) >= 2 && className[:2] == "KG" {
		return 1
	}
	n := 0
	found := false
	for _, r := range className {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
			found = true
		} else if found {
			break
		}
	}
	if found {
		return 2 + n
	}
	return 9999
}
