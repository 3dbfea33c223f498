package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"schoolhub/internal/access"
	"schoolhub/internal/aggregate"
	"schoolhub/internal/backend"
	"schoolhub/internal/direct"
	"schoolhub/internal/feed"
	"schoolhub/internal/gateway"
	"schoolhub/internal/refresh"
	"schoolhub/internal/snapshot"
	"schoolhub/internal/tenant"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
)

var (
	sessionStates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_dashboard_state_transitions_total",
		Help: "Dashboard controller state entries",
	}, []string{"state"})
	staleDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolhub_dashboard_stale_discards_total",
		Help: "Async results dropped because the session moved on",
	})
)

// feedCategories are the change families that trigger a coalesced refresh.
var feedCategories = []string{"notifications", "attendance", "timetable", "students"}

// Deps wires one controller. Everything here is session-scoped except the
// shared backend-facing collaborators.
type Deps struct {
	PrincipalID  id.PrincipalID
	Tenants      *tenant.Provider
	Resolver     *access.Resolver
	Gateway      *gateway.Gateway
	Direct       *direct.Accessors
	Cache        *snapshot.Cache
	Aggregator   *aggregate.Scheduler
	Feed         feed.Source
	Registry     *refresh.Registry
	RefreshQuiet time.Duration
	Logger       *slog.Logger
}

// RefreshName is the registry name a principal's dashboard refresh is bound
// under while the session is open.
func RefreshName(principalID id.PrincipalID) string {
	return "dashboard:" + principalID.String()
}

// Controller drives one principal's dashboard session. All reads of the view
// go through View; all mutation happens on the controller's own goroutines
// under one mutex.
type Controller struct {
	principalID id.PrincipalID
	tenants     *tenant.Provider
	resolver    *access.Resolver
	gateway     *gateway.Gateway
	scoped      *direct.Accessors
	direct      *direct.Accessors
	cache       *snapshot.Cache
	aggregator  *aggregate.Scheduler
	// scopedAggregator mirrors aggregator but reads through the gateway, so
	// tenant-path refinement stays inside the tenant scope.
	scopedAggregator *aggregate.Scheduler
	coalescer        *refresh.Coalescer
	registry         *refresh.Registry
	unregister       func()
	logger           *slog.Logger

	refineCtx    context.Context
	refineCancel context.CancelFunc

	mu         sync.Mutex
	state      State
	data       *Data
	err        error
	stale      bool
	opened     bool
	closed     bool
	generation int
}

// New creates a controller for one session.
func New(deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	refineCtx, refineCancel := context.WithCancel(context.Background())
	scoped := direct.New(deps.Gateway.AsClient(), direct.WithLogger(logger))
	c := &Controller{
		principalID:      deps.PrincipalID,
		tenants:          deps.Tenants,
		resolver:         deps.Resolver,
		gateway:          deps.Gateway,
		scoped:           scoped,
		direct:           deps.Direct,
		cache:            deps.Cache,
		aggregator:       deps.Aggregator,
		scopedAggregator: aggregate.NewScheduler(scoped, deps.Aggregator.Delay(), aggregate.WithLogger(logger)),
		registry:         deps.Registry,
		logger:           logger,
		refineCtx:        refineCtx,
		refineCancel:     refineCancel,
		state:            StateIdle,
	}
	c.coalescer = refresh.NewCoalescer(deps.Feed, c.coalescedRefresh, deps.RefreshQuiet,
		refresh.WithLogger(logger))
	return c
}

// Open runs the session startup sequence: paint the cached snapshot if one
// exists, resolve the access path, fetch along it, and render provisionally.
// Refinement and the change-feed subscription continue in the background
// after Open returns.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return dErrors.New(dErrors.CodeInvalidInput, "controller already opened")
	}
	c.opened = true
	c.mu.Unlock()

	c.setState(StateHydrating)
	c.hydrate(ctx)

	if err := c.openFetch(ctx); err != nil {
		return err
	}

	if err := c.coalescer.Start(feedCategories...); err != nil {
		c.logger.WarnContext(ctx, "change feed subscription failed; live refresh disabled",
			"error", err)
	}
	if c.registry != nil {
		unregister := c.registry.Register(RefreshName(c.principalID), c.Refresh)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			unregister()
			return nil
		}
		c.unregister = unregister
		c.mu.Unlock()
	}
	return nil
}

// openFetch is the resolve-and-fetch sequence, shared by Open and Retry.
func (c *Controller) openFetch(ctx context.Context) error {
	c.setState(StateResolving)
	path, err := c.resolver.ResolvePath(ctx, c.principalID)
	if err != nil {
		return c.failSession(ctx, err)
	}

	c.setState(StateFetching)
	data, tenantStr, err := c.fetch(ctx, path)
	if err != nil {
		return c.failSession(ctx, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.data = data
	c.err = nil
	c.stale = false
	gen := c.generation
	c.mu.Unlock()
	c.setState(StateProvisional)

	mode := c.resolver.Path()
	c.cache.Save(mode, tenantStr, c.principalID, data)

	go c.refine(gen, mode, tenantStr, assignedClassIDs(data.Assignments))
	return nil
}

// hydrate paints the last saved snapshot before any network work. Only a
// fresh snapshot qualifies; expired entries read as a miss in the cache and
// the session starts blank. The paint is flagged stale until the live fetch
// replaces it.
func (c *Controller) hydrate(ctx context.Context) {
	snap, ok := c.cache.LoadLast(ctx, c.principalID)
	if !ok {
		return
	}
	var data Data
	if err := json.Unmarshal(snap.Payload, &data); err != nil {
		c.logger.WarnContext(ctx, "cached snapshot unreadable", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = &data
	c.stale = true
}

// fetch loads the dashboard along the given path. A tenant_unavailable
// failure on the tenant-scoped path triggers exactly one promotion attempt;
// if the principal qualifies, the fetch retries once through the direct
// accessors, otherwise the failure stands.
func (c *Controller) fetch(ctx context.Context, path access.Path) (*Data, string, error) {
	if path == access.PathDirectRoleLinked {
		profile, ok := c.resolver.Profile()
		if !ok {
			return nil, "", dErrors.New(dErrors.CodeInvariantViolation, "direct path without a cached profile")
		}
		data, err := c.assemble(ctx, c.direct, profile)
		return data, "", err
	}

	tenantID, err := c.tenants.Resolve(ctx, c.principalID)
	if err != nil {
		if !tenant.IsUnavailable(err) {
			return nil, "", err
		}
		if _, perr := c.resolver.Promote(ctx, c.principalID); perr != nil {
			return nil, "", perr
		}
		c.logger.InfoContext(ctx, "session promoted to direct access",
			"principal_id", c.principalID)
		return c.fetch(ctx, access.PathDirectRoleLinked)
	}

	profile, err := c.scopedProfile(ctx)
	if err != nil {
		return nil, "", err
	}
	data, err := c.assemble(ctx, c.scoped, profile)
	if err != nil {
		return nil, "", err
	}
	data.Notifications, err = c.notifications(ctx)
	if err != nil {
		return nil, "", err
	}
	return data, tenantID.String(), nil
}

// scopedProfile finds the staff row for the principal inside the tenant.
func (c *Controller) scopedProfile(ctx context.Context) (*direct.Profile, error) {
	rows, err := c.gateway.Read(ctx, backend.Query{
		Resource: "teachers",
		Filters:  []backend.Filter{backend.Eq("user_id", c.principalID.String())},
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no staff profile for principal in tenant")
	}

	row := rows[0]
	profileID, err := id.ParseProfileID(row.ID())
	if err != nil {
		return nil, fmt.Errorf("malformed staff profile id: %w", err)
	}
	profile := &direct.Profile{
		ID:            profileID,
		PrincipalID:   c.principalID,
		Name:          row.String("name"),
		Qualification: row.String("qualification"),
		Phone:         row.String("phone"),
	}
	if tenantID, err := id.ParseTenantID(row.String("tenant_id")); err == nil {
		profile.TenantID = tenantID
	}
	return profile, nil
}

// assemble issues the four dashboard reads concurrently and merges them.
func (c *Controller) assemble(ctx context.Context, acc *direct.Accessors, profile *direct.Profile) (*Data, error) {
	data := &Data{Profile: profile}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		assignments, err := acc.GetOwnedAssignments(gctx, profile.ID)
		if err != nil {
			return err
		}
		data.Assignments = assignments
		return nil
	})
	g.Go(func() error {
		schedule, err := acc.GetSchedule(gctx, profile.ID, "")
		if err != nil {
			return err
		}
		direct.SortSchedule(schedule)
		data.Schedule = schedule
		return nil
	})
	g.Go(func() error {
		members, err := acc.GetOwnedMembers(gctx, profile.ID)
		if err != nil {
			return err
		}
		data.Members = members
		return nil
	})
	g.Go(func() error {
		attendance, err := acc.GetAttendanceSummary(gctx, profile.ID)
		if err != nil {
			return err
		}
		data.Attendance = attendance
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Controller) notifications(ctx context.Context) ([]Notification, error) {
	rows, err := c.gateway.Read(ctx, backend.Query{
		Resource:   "notifications",
		OrderBy:    "created_at",
		Descending: true,
		Limit:      20,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, Notification{
			ID:        row.ID(),
			Title:     row.String("title"),
			Message:   row.String("message"),
			CreatedAt: row.String("created_at"),
		})
	}
	return out, nil
}

// refine runs the post-paint aggregation and, if the session is still on the
// same generation, replaces the provisional member view and re-saves the
// snapshot.
func (c *Controller) refine(gen int, mode access.Path, tenantStr string, classIDs []id.ClassID) {
	c.mu.Lock()
	if c.closed || gen != c.generation || c.state != StateProvisional {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.setState(StateRefining)

	aggregator := c.aggregator
	if mode == access.PathTenantScoped {
		aggregator = c.scopedAggregator
	}
	result, err := aggregator.Run(c.refineCtx, classIDs)
	if err != nil {
		// Only cancellation reaches here; the session is closing.
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		staleDiscards.Inc()
		return
	}
	// Copy on write so a view handed out before refinement never mutates
	// under the reader.
	refined := *c.data
	if len(result.Members) > 0 || !result.Degraded {
		refined.Members = result.Members
	}
	refined.ClassCounts = make(map[string]int, len(result.ClassCounts))
	for classID, n := range result.ClassCounts {
		refined.ClassCounts[classID.String()] = n
	}
	refined.Refined = true
	c.data = &refined
	data := c.data
	c.mu.Unlock()
	c.setState(StateFinal)

	c.cache.Save(mode, tenantStr, c.principalID, data)
}

// Refresh refetches along the already resolved path. The rendered data stays
// on screen throughout; a failed refresh marks it stale instead of blanking
// it.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	if !prev.Rendered() {
		c.mu.Unlock()
		return dErrors.New(dErrors.CodeInvalidInput, "nothing rendered to refresh")
	}
	gen := c.generation
	c.mu.Unlock()
	c.setState(StateRefreshing)

	// A coalesced refresh can land while a promotion is still moving the
	// path; the fetch must not race ahead of the resolver.
	if err := c.resolver.Wait(ctx); err != nil {
		c.restoreState(prev)
		return err
	}
	path := c.resolver.Path()
	data, tenantStr, err := c.fetch(ctx, path)

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		staleDiscards.Inc()
		return nil
	}
	if err != nil {
		c.stale = true
		c.mu.Unlock()
		c.restoreState(prev)
		c.logger.WarnContext(ctx, "refresh failed; keeping last rendered data",
			"error", err)
		return err
	}

	if c.data != nil && c.data.Refined {
		// The refetch carries the full member union; only the per-class
		// counts need to survive from the last aggregation.
		data.ClassCounts = c.data.ClassCounts
		data.Refined = true
	}
	c.data = data
	c.err = nil
	c.stale = false
	refined := data.Refined
	c.mu.Unlock()

	if refined {
		c.setState(StateFinal)
	} else {
		c.setState(StateProvisional)
	}
	c.cache.Save(c.resolver.Path(), tenantStr, c.principalID, data)
	return nil
}

// Retry restarts the resolve-and-fetch sequence after a terminal error.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateError {
		c.mu.Unlock()
		return dErrors.New(dErrors.CodeInvalidInput, "retry is only valid from the error state")
	}
	c.err = nil
	c.mu.Unlock()

	return c.openFetch(ctx)
}

// Close tears the session down. In-flight async results are discarded, the
// feed subscription ends, and pending snapshot writes are flushed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	c.state = StateClosed
	unregister := c.unregister
	c.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	c.refineCancel()
	c.coalescer.Stop()
	c.cache.Flush()
}

// View returns the current renderable projection.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		State:   c.state,
		Data:    c.data,
		Err:     c.err,
		Loading: c.state == StateHydrating || c.state == StateResolving || c.state == StateFetching,
		IsStale: c.stale,
	}
}

func (c *Controller) coalescedRefresh(ctx context.Context) error {
	return c.Refresh(ctx)
}

func (c *Controller) failSession(ctx context.Context, err error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	c.err = err
	if c.data != nil {
		// Whatever was painted from the snapshot stays, flagged stale.
		c.stale = true
	}
	c.mu.Unlock()
	c.setState(StateError)

	c.logger.ErrorContext(ctx, "dashboard session failed",
		"principal_id", c.principalID,
		"error", err,
	)
	return err
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	sessionStates.WithLabelValues(string(s)).Inc()
}

func (c *Controller) restoreState(s State) {
	c.mu.Lock()
	if !c.closed && c.state == StateRefreshing {
		c.state = s
	}
	c.mu.Unlock()
}

func assignedClassIDs(assignments []direct.Assignment) []id.ClassID {
	out := make([]id.ClassID, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, a.ClassID)
	}
	return out
}
