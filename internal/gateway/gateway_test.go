package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"schoolhub/internal/backend"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
)

// fixedTenant is a TenantSource with a scriptable readiness flag.
type fixedTenant struct {
	tenantID id.TenantID
	ready    bool
}

func (f *fixedTenant) TenantID() (id.TenantID, bool) {
	return f.tenantID, f.ready
}

// GatewaySuite tests tenant injection and post-hoc verification.
//
// Justification: the gateway is the isolation choke point. Injection on
// every call and abort-on-mismatch are the properties that make the
// tenant-scoped path safe.
type GatewaySuite struct {
	suite.Suite
	ctx      context.Context
	mem      *backend.Memory
	tenantID id.TenantID
	otherID  id.TenantID
	gateway  *Gateway
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctx = context.Background()
	s.mem = backend.NewMemory()
	s.tenantID = id.TenantID(uuid.New())
	s.otherID = id.TenantID(uuid.New())
	s.gateway = New(s.mem, &fixedTenant{tenantID: s.tenantID, ready: true})

	s.mem.Seed("notifications",
		backend.Record{"id": "n1", "tenant_id": s.tenantID.String(), "title": "Sports day"},
		backend.Record{"id": "n2", "tenant_id": s.tenantID.String(), "title": "PTM"},
		backend.Record{"id": "n3", "tenant_id": s.otherID.String(), "title": "Foreign"},
	)
}

func (s *GatewaySuite) TestReadInjectsTenantFilter() {
	rows, err := s.gateway.Read(s.ctx, backend.Query{Resource: "notifications"})
	s.Require().NoError(err)
	s.Len(rows, 2)
	for _, row := range rows {
		s.Equal(s.tenantID.String(), row.String("tenant_id"))
	}
}

func (s *GatewaySuite) TestReadComposesWithCallerFilters() {
	rows, err := s.gateway.Read(s.ctx, backend.Query{
		Resource: "notifications",
		Filters:  []backend.Filter{backend.Eq("title", "PTM")},
	})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("n2", rows[0].ID())
}

func (s *GatewaySuite) TestReadKeepsTenantColumnInProjection() {
	rows, err := s.gateway.Read(s.ctx, backend.Query{
		Resource:   "notifications",
		Projection: []string{"id", "title"},
	})
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	for _, row := range rows {
		// Verification needs the tenant column even when the caller did not
		// ask for it.
		s.Equal(s.tenantID.String(), row.String("tenant_id"))
		s.NotEmpty(row.String("title"))
	}
}

func (s *GatewaySuite) TestProjectedMismatchStillAborts() {
	leaky := &unfilteredBackend{Memory: s.mem}
	g := New(leaky, &fixedTenant{tenantID: s.tenantID, ready: true})

	rows, err := g.Read(s.ctx, backend.Query{
		Resource:   "notifications",
		Projection: []string{"id", "title"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrityMismatch))
	s.Nil(rows)
}

func (s *GatewaySuite) TestReadWithoutReadyTenant() {
	g := New(s.mem, &fixedTenant{ready: false})
	_, err := g.Read(s.ctx, backend.Query{Resource: "notifications"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantUnavailable))
}

func (s *GatewaySuite) TestMismatchAbortsWithNoRows() {
	// A backend that ignores the tenant filter simulates a scoping defect
	// in the remote store.
	leaky := &unfilteredBackend{Memory: s.mem}
	g := New(leaky, &fixedTenant{tenantID: s.tenantID, ready: true})

	rows, err := g.Read(s.ctx, backend.Query{Resource: "notifications"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrityMismatch))
	s.Nil(rows, "a mismatch must return zero rows, not a filtered subset")
}

func (s *GatewaySuite) TestMismatchIsDistinctFromAccessDenied() {
	leaky := &unfilteredBackend{Memory: s.mem}
	g := New(leaky, &fixedTenant{tenantID: s.tenantID, ready: true})

	_, err := g.Read(s.ctx, backend.Query{Resource: "notifications"})
	s.Require().Error(err)
	s.False(dErrors.HasCode(err, dErrors.CodeAccessDenied))
	s.False(dErrors.HasCode(err, dErrors.CodeTenantUnavailable))
}

func (s *GatewaySuite) TestCreateStampsTenant() {
	created, err := s.gateway.Create(s.ctx, "personal_tasks", backend.Record{
		"task_title": "Grade homework",
		// A forged tenant id must be overwritten.
		"tenant_id": s.otherID.String(),
	})
	s.Require().NoError(err)
	s.Equal(s.tenantID.String(), created.String("tenant_id"))

	rows, err := s.gateway.Read(s.ctx, backend.Query{Resource: "personal_tasks"})
	s.Require().NoError(err)
	s.Len(rows, 1)
}

func (s *GatewaySuite) TestUpdateStripsTenantFromPatch() {
	updated, err := s.gateway.Update(s.ctx, "notifications", "n1", backend.Record{
		"title":     "Sports day (rescheduled)",
		"tenant_id": s.otherID.String(),
	})
	s.Require().NoError(err)
	s.Equal("Sports day (rescheduled)", updated.String("title"))
	s.Equal(s.tenantID.String(), updated.String("tenant_id"), "patch must not move the row across tenants")
}

func (s *GatewaySuite) TestUpdateVerifiesReturnedRow() {
	_, err := s.gateway.Update(s.ctx, "notifications", "n3", backend.Record{"title": "Hijacked"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrityMismatch))
}

// unfilteredBackend drops all filters on Select to simulate a store that
// fails to scope by tenant.
type unfilteredBackend struct {
	*backend.Memory
}

func (u *unfilteredBackend) Select(ctx context.Context, q backend.Query) ([]backend.Record, error) {
	q.Filters = nil
	return u.Memory.Select(ctx, q)
}
