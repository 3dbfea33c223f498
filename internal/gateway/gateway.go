// Package gateway is the tenant-scoped query path. Every read and write is
// stamped with the session tenant and every returned row is verified against
// it; there is no way through this package to issue an unscoped query.
package gateway

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"schoolhub/internal/backend"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
)

var (
	gatewayReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_gateway_reads_total",
		Help: "Tenant-scoped reads by resource",
	}, []string{"resource"})
	integrityViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_gateway_integrity_violations_total",
		Help: "Rows returned with a tenant id differing from the session tenant",
	}, []string{"resource"})
)

const tenantField = "tenant_id"

// TenantSource yields the resolved session tenant. The gateway refuses to
// operate before readiness.
type TenantSource interface {
	TenantID() (id.TenantID, bool)
}

// Violation records one row that failed tenant verification.
type Violation struct {
	Resource string
	RowID    string
	TenantID string
}

// Gateway wraps the backend client with tenant injection and verification.
type Gateway struct {
	backend backend.Client
	tenants TenantSource
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Gateway instance.
type Option func(*Gateway)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New creates a tenant-scoped gateway.
func New(client backend.Client, tenants TenantSource, opts ...Option) *Gateway {
	g := &Gateway{
		backend: client,
		tenants: tenants,
		logger:  slog.Default(),
		tracer:  otel.Tracer("schoolhub/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Read executes a declarative query with the tenant filter injected, then
// verifies every returned row. A single foreign row aborts the read with
// data_integrity_mismatch and zero rows; silent filtering would hide the
// leak the verification exists to catch.
func (g *Gateway) Read(ctx context.Context, q backend.Query) ([]backend.Record, error) {
	tenantID, err := g.requireTenant()
	if err != nil {
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "gateway.Read",
		trace.WithAttributes(attribute.String("resource", q.Resource)))
	defer span.End()

	scoped := q.WithFilter(backend.Eq(tenantField, tenantID.String()))
	if len(scoped.Projection) > 0 {
		// The tenant column must survive any projection or the returned rows
		// could not be verified.
		scoped = scoped.WithProjection(tenantField)
	}
	rows, err := g.backend.Select(ctx, scoped)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "tenant-scoped read failed")
	}
	gatewayReads.WithLabelValues(q.Resource).Inc()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	if violations := g.verify(q.Resource, tenantID, rows); len(violations) > 0 {
		return nil, g.integrityFailure(ctx, q.Resource, tenantID, violations)
	}
	return rows, nil
}

// Create persists a record stamped with the session tenant. A caller-supplied
// tenant id is overwritten, never trusted.
func (g *Gateway) Create(ctx context.Context, resource string, rec backend.Record) (backend.Record, error) {
	tenantID, err := g.requireTenant()
	if err != nil {
		return nil, err
	}

	stamped := rec.Clone()
	stamped[tenantField] = tenantID.String()
	created, err := g.backend.Insert(ctx, resource, stamped)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "tenant-scoped create failed")
	}
	return created, nil
}

// Update patches a row. The tenant id is stripped from the patch so a write
// can never move a row across tenants, and the updated row is verified.
func (g *Gateway) Update(ctx context.Context, resource string, rowID string, patch backend.Record) (backend.Record, error) {
	tenantID, err := g.requireTenant()
	if err != nil {
		return nil, err
	}

	safe := patch.Clone()
	delete(safe, tenantField)
	updated, err := g.backend.Update(ctx, resource, rowID, safe)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "tenant-scoped update failed")
	}

	if violations := g.verify(resource, tenantID, []backend.Record{updated}); len(violations) > 0 {
		return nil, g.integrityFailure(ctx, resource, tenantID, violations)
	}
	return updated, nil
}

// AsClient exposes the gateway through the backend client interface, so query
// helpers written against the raw client run tenant-scoped without change.
func (g *Gateway) AsClient() backend.Client {
	return scopedClient{g}
}

type scopedClient struct {
	g *Gateway
}

func (c scopedClient) Select(ctx context.Context, q backend.Query) ([]backend.Record, error) {
	return c.g.Read(ctx, q)
}

func (c scopedClient) Insert(ctx context.Context, resource string, rec backend.Record) (backend.Record, error) {
	return c.g.Create(ctx, resource, rec)
}

func (c scopedClient) Update(ctx context.Context, resource string, rowID string, patch backend.Record) (backend.Record, error) {
	return c.g.Update(ctx, resource, rowID, patch)
}

func (g *Gateway) requireTenant() (id.TenantID, error) {
	tenantID, ready := g.tenants.TenantID()
	if !ready {
		return id.TenantID{}, dErrors.New(dErrors.CodeTenantUnavailable, "tenant context is not ready")
	}
	return tenantID, nil
}

func (g *Gateway) verify(resource string, tenantID id.TenantID, rows []backend.Record) []Violation {
	expected := tenantID.String()
	var violations []Violation
	for _, row := range rows {
		if got := row.String(tenantField); got != expected {
			violations = append(violations, Violation{
				Resource: resource,
				RowID:    row.ID(),
				TenantID: got,
			})
		}
	}
	return violations
}

func (g *Gateway) integrityFailure(ctx context.Context, resource string, tenantID id.TenantID, violations []Violation) error {
	integrityViolations.WithLabelValues(resource).Add(float64(len(violations)))
	for _, v := range violations {
		g.logger.ErrorContext(ctx, "tenant integrity violation",
			"resource", v.Resource,
			"row_id", v.RowID,
			"row_tenant_id", v.TenantID,
			"expected_tenant_id", tenantID,
		)
	}
	return dErrors.New(dErrors.CodeIntegrityMismatch, "read returned rows outside the session tenant")
}
