package direct

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"schoolhub/internal/backend"
	"schoolhub/internal/sentinel"
	id "schoolhub/pkg/domain"
)

// AccessorsSuite tests the direct role-linked accessor set.
//
// Justification: this is the bypass path. It must work with zero tenant
// context, deduplicate by group and member identity, and degrade attendance
// instead of failing.
type AccessorsSuite struct {
	suite.Suite
	ctx       context.Context
	mem       *backend.Memory
	accessors *Accessors

	principalID id.PrincipalID
	profileID   id.ProfileID
	class1      id.ClassID
	class2      id.ClassID
}

func TestAccessorsSuite(t *testing.T) {
	suite.Run(t, new(AccessorsSuite))
}

func (s *AccessorsSuite) SetupTest() {
	s.ctx = context.Background()
	s.mem = backend.NewMemory()
	s.accessors = New(s.mem, WithClock(func() time.Time {
		return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	}))

	s.principalID = id.PrincipalID(uuid.New())
	s.profileID = id.ProfileID(uuid.New())
	s.class1 = id.ClassID(uuid.New())
	s.class2 = id.ClassID(uuid.New())

	// Principal linked to a teacher profile; no tenant rows are seeded on
	// purpose: the direct path must not need them.
	s.mem.Seed("users", backend.Record{
		"id":                s.principalID.String(),
		"linked_teacher_id": s.profileID.String(),
	})
	s.mem.Seed("teachers", backend.Record{
		"id":            s.profileID.String(),
		"name":          "R. Iyer",
		"qualification": "M.Sc.",
	})

	subj1 := uuid.NewString()
	subj2 := uuid.NewString()
	subj3 := uuid.NewString()
	s.mem.Seed("subjects",
		backend.Record{"id": subj1, "name": "Mathematics", "class_id": s.class1.String()},
		backend.Record{"id": subj2, "name": "Physics", "class_id": s.class2.String()},
		backend.Record{"id": subj3, "name": "Mathematics", "class_id": s.class2.String()},
	)
	s.mem.Seed("classes",
		backend.Record{"id": s.class1.String(), "class_name": "Class 8", "section": "A"},
		backend.Record{"id": s.class2.String(), "class_name": "Class 9", "section": "B"},
	)
	s.mem.Seed("teacher_subjects",
		backend.Record{"id": uuid.NewString(), "teacher_id": s.profileID.String(), "subject_id": subj1},
		backend.Record{"id": uuid.NewString(), "teacher_id": s.profileID.String(), "subject_id": subj2},
		backend.Record{"id": uuid.NewString(), "teacher_id": s.profileID.String(), "subject_id": subj3},
		// Duplicate link rows must not duplicate assignments.
		backend.Record{"id": uuid.NewString(), "teacher_id": s.profileID.String(), "subject_id": subj1},
	)

	s.mem.Seed("students",
		backend.Record{"id": uuid.NewString(), "name": "Asha", "class_id": s.class1.String(), "roll_no": 1},
		backend.Record{"id": uuid.NewString(), "name": "Bilal", "class_id": s.class1.String(), "roll_no": 2},
		backend.Record{"id": uuid.NewString(), "name": "Chitra", "class_id": s.class2.String(), "roll_no": 1},
	)
}

func (s *AccessorsSuite) TestGetOwnProfile() {
	s.Run("resolves linked profile without tenant context", func() {
		profile, err := s.accessors.GetOwnProfile(s.ctx, s.principalID)
		s.Require().NoError(err)
		s.Equal(s.profileID, profile.ID)
		s.Equal("R. Iyer", profile.Name)
	})

	s.Run("unlinked principal returns not linked", func() {
		other := id.PrincipalID(uuid.New())
		s.mem.Seed("users", backend.Record{"id": other.String()})

		_, err := s.accessors.GetOwnProfile(s.ctx, other)
		s.True(errors.Is(err, sentinel.ErrNotLinked))
	})

	s.Run("unknown principal returns not linked", func() {
		_, err := s.accessors.GetOwnProfile(s.ctx, id.PrincipalID(uuid.New()))
		s.True(errors.Is(err, sentinel.ErrNotLinked))
	})

	s.Run("dangling link returns not linked", func() {
		dangling := id.PrincipalID(uuid.New())
		s.mem.Seed("users", backend.Record{
			"id":                dangling.String(),
			"linked_teacher_id": uuid.NewString(),
		})

		_, err := s.accessors.GetOwnProfile(s.ctx, dangling)
		s.True(errors.Is(err, sentinel.ErrNotLinked))
	})
}

func (s *AccessorsSuite) TestGetOwnedAssignments() {
	assignments, err := s.accessors.GetOwnedAssignments(s.ctx, s.profileID)
	s.Require().NoError(err)
	s.Len(assignments, 3, "deduplicated by class/subject group")

	keys := make(map[string]bool)
	for _, a := range assignments {
		keys[a.GroupKey()] = true
		s.NotEmpty(a.ClassName)
		s.NotEmpty(a.SubjectName)
	}
	s.Len(keys, 3)
}

func (s *AccessorsSuite) TestGetSchedule() {
	s.mem.Seed("timetable_entries",
		backend.Record{
			"id": uuid.NewString(), "teacher_id": s.profileID.String(),
			"class_id": s.class1.String(), "day_of_week": "Monday",
			"start_time": "10:00", "end_time": "10:45",
		},
		backend.Record{
			"id": uuid.NewString(), "teacher_id": s.profileID.String(),
			"class_id": s.class1.String(), "day_of_week": "Monday",
			"start_time": "08:00", "end_time": "08:45",
		},
		backend.Record{
			"id": uuid.NewString(), "teacher_id": s.profileID.String(),
			"class_id": s.class2.String(), "day_of_week": "Tuesday",
			"start_time": "09:00", "end_time": "09:45",
		},
	)

	s.Run("time ordered", func() {
		entries, err := s.accessors.GetSchedule(s.ctx, s.profileID, "")
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		s.Equal("08:00", entries[0].StartTime)
	})

	s.Run("day filter restricts entries", func() {
		entries, err := s.accessors.GetSchedule(s.ctx, s.profileID, "Monday")
		s.Require().NoError(err)
		s.Len(entries, 2)
		for _, e := range entries {
			s.Equal("Monday", e.DayOfWeek)
		}
	})
}

func (s *AccessorsSuite) TestGetOwnedMembers() {
	members, err := s.accessors.GetOwnedMembers(s.ctx, s.profileID)
	s.Require().NoError(err)
	s.Len(members, 3, "students deduplicated across overlapping class groups")

	seen := make(map[string]bool)
	for _, m := range members {
		s.False(seen[m.ID.String()])
		seen[m.ID.String()] = true
	}
}

func (s *AccessorsSuite) TestGetAttendanceSummary() {
	members, err := s.accessors.GetOwnedMembers(s.ctx, s.profileID)
	s.Require().NoError(err)
	s.Require().Len(members, 3)

	s.mem.Seed("student_attendance",
		backend.Record{"id": uuid.NewString(), "student_id": members[0].ID.String(), "date": "2026-03-09", "status": "Present"},
		backend.Record{"id": uuid.NewString(), "student_id": members[1].ID.String(), "date": "2026-03-09", "status": "Absent"},
		// Different day, must be excluded.
		backend.Record{"id": uuid.NewString(), "student_id": members[2].ID.String(), "date": "2026-03-08", "status": "Present"},
	)

	summary, err := s.accessors.GetAttendanceSummary(s.ctx, s.profileID)
	s.Require().NoError(err)
	s.False(summary.Degraded)
	s.Equal(2, summary.Total)
	s.Equal(1, summary.Present)
	s.InDelta(50.0, summary.PresentRate(), 0.01)
}

func (s *AccessorsSuite) TestAttendanceDegradesOnBackendFailure() {
	failing := &failingBackend{Memory: s.mem, failOn: "student_attendance"}
	accessors := New(failing, WithClock(func() time.Time {
		return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	}))

	summary, err := accessors.GetAttendanceSummary(s.ctx, s.profileID)
	s.Require().NoError(err, "degradation must not surface as an error")
	s.True(summary.Degraded)
	s.Zero(summary.Total)
	s.Zero(summary.PresentRate())
}

// failingBackend fails Select for one resource to exercise degradation.
type failingBackend struct {
	*backend.Memory
	failOn string
}

func (f *failingBackend) Select(ctx context.Context, q backend.Query) ([]backend.Record, error) {
	if q.Resource == f.failOn {
		return nil, errors.New("attendance store unavailable")
	}
	return f.Memory.Select(ctx, q)
}
