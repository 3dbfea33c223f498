// Package seeder populates the backend with demo school data for local
// development. The fixed UUIDs below pair with cmd/tokengen so a freshly
// seeded server accepts tokens minted for the demo principals.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"schoolhub/internal/backend"
)

// Fixed demo identities. tokengen prints tokens for these out of the box.
const (
	DemoTenantID = "11111111-1111-1111-1111-111111111111"

	// DemoTenantPrincipal reaches the dashboard through tenant scoping.
	DemoTenantPrincipal = "22222222-2222-2222-2222-222222222222"

	// DemoDirectPrincipal carries a direct role link and no tenant.
	DemoDirectPrincipal = "33333333-3333-3333-3333-333333333333"
)

// Seeder populates the query backend with demo data.
type Seeder struct {
	backend backend.Client
	logger  *slog.Logger
	clock   func() time.Time
}

// New creates a seeder over the given query client.
func New(client backend.Client, logger *slog.Logger) *Seeder {
	return &Seeder{backend: client, logger: logger, clock: time.Now}
}

// SeedAll inserts one demo tenant with two teachers, two classes, students,
// today's attendance, a timetable, and announcements.
func (s *Seeder) SeedAll(ctx context.Context) error {
	s.logger.Info("seeding demo data...")

	directTeacherID := uuid.NewString()
	tenantTeacherID := uuid.NewString()
	classFiveID := uuid.NewString()
	classKGID := uuid.NewString()
	scienceID := uuid.NewString()
	rhymesID := uuid.NewString()

	if err := s.insert(ctx, "tenants",
		backend.Record{"id": DemoTenantID, "name": "Green Valley Public School", "status": "active"},
	); err != nil {
		return err
	}

	if err := s.insert(ctx, "users",
		backend.Record{"id": DemoTenantPrincipal, "tenant_id": DemoTenantID},
		backend.Record{"id": DemoDirectPrincipal, "linked_teacher_id": directTeacherID},
	); err != nil {
		return err
	}

	if err := s.insert(ctx, "teachers",
		backend.Record{
			"id": directTeacherID, "name": "R. Iyer",
			"qualification": "M.Sc. Physics", "phone": "98400 00001",
		},
		backend.Record{
			"id": tenantTeacherID, "tenant_id": DemoTenantID,
			"user_id": DemoTenantPrincipal, "name": "S. Rao",
			"qualification": "B.Ed.", "phone": "98400 00002",
		},
	); err != nil {
		return err
	}

	if err := s.insert(ctx, "classes",
		backend.Record{"id": classFiveID, "tenant_id": DemoTenantID, "class_name": "5", "section": "A"},
		backend.Record{"id": classKGID, "tenant_id": DemoTenantID, "class_name": "KG", "section": "B"},
	); err != nil {
		return err
	}

	if err := s.insert(ctx, "subjects",
		backend.Record{"id": scienceID, "tenant_id": DemoTenantID, "class_id": classFiveID, "name": "Science"},
		backend.Record{"id": rhymesID, "tenant_id": DemoTenantID, "class_id": classKGID, "name": "Rhymes"},
	); err != nil {
		return err
	}

	if err := s.insert(ctx, "teacher_subjects",
		backend.Record{"id": uuid.NewString(), "tenant_id": DemoTenantID, "teacher_id": directTeacherID, "subject_id": scienceID},
		backend.Record{"id": uuid.NewString(), "tenant_id": DemoTenantID, "teacher_id": directTeacherID, "subject_id": rhymesID},
		backend.Record{"id": uuid.NewString(), "tenant_id": DemoTenantID, "teacher_id": tenantTeacherID, "subject_id": scienceID},
	); err != nil {
		return err
	}

	students, err := s.seedStudents(ctx, classFiveID, classKGID)
	if err != nil {
		return err
	}
	if err := s.seedAttendance(ctx, students); err != nil {
		return err
	}
	if err := s.seedTimetable(ctx, directTeacherID, tenantTeacherID, classFiveID, classKGID, scienceID, rhymesID); err != nil {
		return err
	}

	if err := s.insert(ctx, "notifications",
		backend.Record{
			"id": uuid.NewString(), "tenant_id": DemoTenantID,
			"title": "Sports day", "message": "Annual sports day this Friday.",
			"created_at": s.clock().UTC().Format(time.RFC3339),
		},
		backend.Record{
			"id": uuid.NewString(), "tenant_id": DemoTenantID,
			"title": "PTM", "message": "Parent-teacher meetings next week.",
			"created_at": s.clock().UTC().Format(time.RFC3339),
		},
	); err != nil {
		return err
	}

	s.logger.Info("demo data seeded successfully",
		"tenant_principal", DemoTenantPrincipal,
		"direct_principal", DemoDirectPrincipal,
	)
	return nil
}

func (s *Seeder) seedStudents(ctx context.Context, classFiveID, classKGID string) ([]string, error) {
	names := []struct {
		name    string
		classID string
		roll    int
	}{
		{"Asha Menon", classFiveID, 1},
		{"Ravi Kumar", classFiveID, 2},
		{"Zoya Khan", classFiveID, 3},
		{"Arjun Nair", classKGID, 1},
		{"Meera Pillai", classKGID, 2},
	}

	ids := make([]string, 0, len(names))
	for _, n := range names {
		studentID := uuid.NewString()
		ids = append(ids, studentID)
		if err := s.insert(ctx, "students", backend.Record{
			"id": studentID, "tenant_id": DemoTenantID,
			"class_id": n.classID, "name": n.name, "roll_no": n.roll,
		}); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *Seeder) seedAttendance(ctx context.Context, studentIDs []string) error {
	today := s.clock().Truncate(24 * time.Hour).Format("2006-01-02")
	for i, studentID := range studentIDs {
		status := "Present"
		if i%4 == 3 {
			status = "Absent"
		}
		if err := s.insert(ctx, "student_attendance", backend.Record{
			"id": uuid.NewString(), "tenant_id": DemoTenantID,
			"student_id": studentID, "date": today, "status": status,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) seedTimetable(ctx context.Context, directTeacherID, tenantTeacherID, classFiveID, classKGID, scienceID, rhymesID string) error {
	entries := []backend.Record{
		{
			"teacher_id": directTeacherID, "class_id": classFiveID, "subject_id": scienceID,
			"day_of_week": "Monday", "start_time": "09:00", "end_time": "09:45",
		},
		{
			"teacher_id": directTeacherID, "class_id": classKGID, "subject_id": rhymesID,
			"day_of_week": "Monday", "start_time": "10:00", "end_time": "10:30",
		},
		{
			"teacher_id": tenantTeacherID, "class_id": classFiveID, "subject_id": scienceID,
			"day_of_week": "Tuesday", "start_time": "11:00", "end_time": "11:45",
		},
	}
	for _, entry := range entries {
		entry["id"] = uuid.NewString()
		entry["tenant_id"] = DemoTenantID
		if err := s.insert(ctx, "timetable_entries", entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) insert(ctx context.Context, resource string, records ...backend.Record) error {
	for _, rec := range records {
		if _, err := s.backend.Insert(ctx, resource, rec); err != nil {
			return fmt.Errorf("seed %s: %w", resource, err)
		}
	}
	return nil
}
