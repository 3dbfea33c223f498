package tenant

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"schoolhub/internal/backend"
	"schoolhub/internal/sentinel"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
)

var tenantResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "schoolhub_tenant_resolutions_total",
	Help: "Tenant resolution attempts by outcome",
}, []string{"outcome"})

// Provider resolves the active tenant for a session exactly once and caches
// it. Constructor-injected and session-scoped so tests and sessions never
// share state.
type Provider struct {
	backend backend.Client
	logger  *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	ready    bool
	tenantID id.TenantID
	tenant   *Tenant
	lastErr  error
}

// Option configures a Provider instance.
type Option func(*Provider)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewProvider creates a tenant provider backed by the given query client.
func NewProvider(client backend.Client, opts ...Option) *Provider {
	p := &Provider{backend: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve looks up the principal's tenant and caches it for the session.
// Concurrent first calls collapse into one backend query. A failed
// resolution is not cached: a later call retries, since the tenant may
// become available (the recoverable half of tenant_unavailable).
func (p *Provider) Resolve(ctx context.Context, principalID id.PrincipalID) (id.TenantID, error) {
	p.mu.RLock()
	if p.ready {
		tenantID := p.tenantID
		p.mu.RUnlock()
		return tenantID, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do(principalID.String(), func() (any, error) {
		return p.resolve(ctx, principalID)
	})
	if err != nil {
		return id.TenantID{}, err
	}
	return v.(id.TenantID), nil
}

func (p *Provider) resolve(ctx context.Context, principalID id.PrincipalID) (id.TenantID, error) {
	rows, err := p.backend.Select(ctx, backend.Query{
		Resource: "users",
		Filters:  []backend.Filter{backend.Eq("id", principalID.String())},
		Limit:    1,
	})
	if err != nil {
		return id.TenantID{}, p.fail(ctx, principalID, dErrors.Wrap(err, dErrors.CodeTenantUnavailable, "failed to load user record"))
	}
	if len(rows) == 0 {
		return id.TenantID{}, p.fail(ctx, principalID, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeTenantUnavailable, "user record not found"))
	}

	tenantIDStr := rows[0].String("tenant_id")
	if tenantIDStr == "" {
		return id.TenantID{}, p.fail(ctx, principalID, dErrors.New(dErrors.CodeTenantUnavailable, "user has no tenant assigned"))
	}
	tenantID, err := id.ParseTenantID(tenantIDStr)
	if err != nil {
		return id.TenantID{}, p.fail(ctx, principalID, dErrors.Wrap(err, dErrors.CodeTenantUnavailable, "user carries a malformed tenant id"))
	}

	meta := p.loadMetadata(ctx, tenantID)

	p.mu.Lock()
	p.ready = true
	p.tenantID = tenantID
	p.tenant = meta
	p.lastErr = nil
	p.mu.Unlock()

	tenantResolutions.WithLabelValues("resolved").Inc()
	p.logger.InfoContext(ctx, "tenant resolved",
		"tenant_id", tenantID,
		"principal_id", principalID,
	)
	return tenantID, nil
}

// loadMetadata fetches display metadata. Metadata is best-effort: a missing
// tenants row does not block readiness, since scoped queries only need the id.
func (p *Provider) loadMetadata(ctx context.Context, tenantID id.TenantID) *Tenant {
	rows, err := p.backend.Select(ctx, backend.Query{
		Resource: "tenants",
		Filters:  []backend.Filter{backend.Eq("id", tenantID.String())},
		Limit:    1,
	})
	if err != nil || len(rows) == 0 {
		if err != nil {
			p.logger.WarnContext(ctx, "failed to load tenant metadata", "tenant_id", tenantID, "error", err)
		}
		return &Tenant{ID: tenantID, Status: StatusActive}
	}
	status := Status(rows[0].String("status"))
	if status == "" {
		status = StatusActive
	}
	return &Tenant{
		ID:     tenantID,
		Name:   rows[0].String("name"),
		Status: status,
	}
}

func (p *Provider) fail(ctx context.Context, principalID id.PrincipalID, err error) error {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	tenantResolutions.WithLabelValues("unavailable").Inc()
	p.logger.WarnContext(ctx, "tenant resolution failed",
		"principal_id", principalID,
		"error", err,
	)
	return err
}

// TenantID returns the cached tenant id and whether resolution has completed.
func (p *Provider) TenantID() (id.TenantID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tenantID, p.ready
}

// Ready reports whether the tenant has been resolved for this session.
func (p *Provider) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// Tenant returns cached tenant metadata, or nil before resolution.
func (p *Provider) Tenant() *Tenant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tenant
}

// Err returns the most recent resolution error, nil once resolved.
func (p *Provider) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Reset clears the cached tenant. Only session teardown should call this;
// readiness never regresses mid-session.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	p.tenantID = id.TenantID{}
	p.tenant = nil
	p.lastErr = nil
}

// IsUnavailable reports whether err represents a tenant_unavailable condition.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if dErrors.HasCode(err, dErrors.CodeTenantUnavailable) {
		return true
	}
	return errors.Is(err, sentinel.ErrUnavailable)
}
