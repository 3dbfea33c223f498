// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "schoolhub/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a PrincipalID where a TenantID is expected.
type (
	TenantID    uuid.UUID
	PrincipalID uuid.UUID
	ProfileID   uuid.UUID
	ClassID     uuid.UUID
	SubjectID   uuid.UUID
	StudentID   uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseTenantID(s string) (TenantID, error) {
	id, err := parseUUID(s, "tenant ID")
	return TenantID(id), err
}

func ParsePrincipalID(s string) (PrincipalID, error) {
	id, err := parseUUID(s, "principal ID")
	return PrincipalID(id), err
}

func ParseProfileID(s string) (ProfileID, error) {
	id, err := parseUUID(s, "profile ID")
	return ProfileID(id), err
}

func ParseClassID(s string) (ClassID, error) {
	id, err := parseUUID(s, "class ID")
	return ClassID(id), err
}

func ParseSubjectID(s string) (SubjectID, error) {
	id, err := parseUUID(s, "subject ID")
	return SubjectID(id), err
}

func ParseStudentID(s string) (StudentID, error) {
	id, err := parseUUID(s, "student ID")
	return StudentID(id), err
}

// String methods - for logging and cache keys.

func (id TenantID) String() string    { return uuid.UUID(id).String() }
func (id PrincipalID) String() string { return uuid.UUID(id).String() }
func (id ProfileID) String() string   { return uuid.UUID(id).String() }
func (id ClassID) String() string     { return uuid.UUID(id).String() }
func (id SubjectID) String() string   { return uuid.UUID(id).String() }
func (id StudentID) String() string   { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id TenantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PrincipalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ProfileID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ClassID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id StudentID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic.
// Nil UUIDs are allowed here; use IsNil() at the service layer so store
// lookups can return proper "not found" errors for consistency.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
