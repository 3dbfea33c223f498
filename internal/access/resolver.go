package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"schoolhub/internal/direct"
	"schoolhub/internal/sentinel"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
)

var (
	pathResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_access_path_resolutions_total",
		Help: "Access path resolutions by resulting path",
	}, []string{"path"})
	emergencyPromotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_access_emergency_promotions_total",
		Help: "Emergency promotion attempts by outcome",
	}, []string{"outcome"})
)

// ProfileFinder is the direct-link probe the resolver decides with.
type ProfileFinder interface {
	GetOwnProfile(ctx context.Context, principalID id.PrincipalID) (*direct.Profile, error)
}

// Resolver owns the access path for one principal's session. It is the only
// component allowed to move the path; callers that hit tenant_unavailable ask
// it for promotion instead of re-checking the role link themselves.
type Resolver struct {
	profiles ProfileFinder
	logger   *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	path     Path
	profile  *direct.Profile
	resolved chan struct{} // closed once the path leaves Unresolved
}

// Option configures a Resolver instance.
type Option func(*Resolver)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over the given direct-link probe.
func NewResolver(profiles ProfileFinder, opts ...Option) *Resolver {
	r := &Resolver{
		profiles: profiles,
		logger:   slog.Default(),
		path:     PathUnresolved,
		resolved: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolvePath determines the access path for the principal. The first call
// queries the role link; subsequent calls return the cached path without
// touching the backend. Concurrent first calls collapse into one probe.
func (r *Resolver) ResolvePath(ctx context.Context, principalID id.PrincipalID) (Path, error) {
	r.mu.Lock()
	if r.path.Resolved() {
		path := r.path
		r.mu.Unlock()
		return path, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("resolve:"+principalID.String(), func() (any, error) {
		return r.resolve(ctx, principalID)
	})
	if err != nil {
		return PathUnresolved, err
	}
	return v.(Path), nil
}

func (r *Resolver) resolve(ctx context.Context, principalID id.PrincipalID) (Path, error) {
	profile, err := r.profiles.GetOwnProfile(ctx, principalID)
	switch {
	case err == nil:
		return r.transition(ctx, principalID, PathDirectRoleLinked, profile)
	case errors.Is(err, sentinel.ErrNotLinked):
		return r.transition(ctx, principalID, PathTenantScoped, nil)
	default:
		// The probe itself failed; leave the path unresolved so the next
		// call retries instead of locking in a guess.
		return PathUnresolved, dErrors.Wrap(err, dErrors.CodeInternal, "failed to probe role link")
	}
}

// Promote performs the just-in-time direct-link check after a tenant-scoped
// operation failed with tenant_unavailable. If the principal qualifies, the
// path becomes direct-role-linked and the caller retries once through the
// direct accessors; otherwise the failure is terminal for this attempt.
func (r *Resolver) Promote(ctx context.Context, principalID id.PrincipalID) (Path, error) {
	r.mu.Lock()
	if r.path == PathDirectRoleLinked {
		r.mu.Unlock()
		return PathDirectRoleLinked, nil
	}
	r.mu.Unlock()

	profile, err := r.profiles.GetOwnProfile(ctx, principalID)
	if err != nil {
		emergencyPromotions.WithLabelValues("denied").Inc()
		r.logger.WarnContext(ctx, "emergency promotion denied",
			"principal_id", principalID,
			"error", err,
		)
		if errors.Is(err, sentinel.ErrNotLinked) {
			return r.Path(), dErrors.New(dErrors.CodeAccessDenied, "principal has neither a ready tenant context nor a direct role link")
		}
		return r.Path(), dErrors.Wrap(err, dErrors.CodeAccessDenied, "emergency promotion probe failed")
	}

	emergencyPromotions.WithLabelValues("promoted").Inc()
	return r.transition(ctx, principalID, PathDirectRoleLinked, profile)
}

// transition applies the path move under the CanTransition rule.
func (r *Resolver) transition(ctx context.Context, principalID id.PrincipalID, to Path, profile *direct.Profile) (Path, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.path.CanTransition(to) {
		return r.path, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("illegal access path transition %s -> %s", r.path, to))
	}
	already := r.path.Resolved()
	r.path = to
	if profile != nil {
		r.profile = profile
	}
	if !already {
		close(r.resolved)
	}

	pathResolutions.WithLabelValues(to.String()).Inc()
	r.logger.InfoContext(ctx, "access path resolved",
		"principal_id", principalID,
		"path", to,
	)
	return to, nil
}

// Path returns the current path without blocking.
func (r *Resolver) Path() Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Profile returns the cached role-linked profile, present only on the direct path.
func (r *Resolver) Profile() (*direct.Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile, r.profile != nil
}

// Wait blocks until the path is resolved or the context ends. Fetch paths
// gate on this so no data access races ahead of resolution.
func (r *Resolver) Wait(ctx context.Context) error {
	r.mu.Lock()
	ch := r.resolved
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate forces re-resolution on the next ResolvePath call. This is the
// explicit override path; implicit code never demotes a resolved path.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path.Resolved() {
		r.resolved = make(chan struct{})
	}
	r.path = PathUnresolved
	r.profile = nil
}
