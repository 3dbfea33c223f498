package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"schoolhub/internal/access"
	"schoolhub/internal/aggregate"
	"schoolhub/internal/backend"
	"schoolhub/internal/direct"
	"schoolhub/internal/feed"
	"schoolhub/internal/gateway"
	"schoolhub/internal/platform/middleware"
	"schoolhub/internal/refresh"
	"schoolhub/internal/snapshot"
	"schoolhub/internal/tenant"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
	httpErrors "schoolhub/pkg/http-errors"
)

// SessionFactory builds one controller per principal. The tenant provider,
// path resolver, and gateway are session-scoped; everything else is shared.
type SessionFactory struct {
	Backend      backend.Client
	Direct       *direct.Accessors
	Cache        *snapshot.Cache
	Aggregator   *aggregate.Scheduler
	Feed         feed.Source
	Registry     *refresh.Registry
	RefreshQuiet time.Duration
	Logger       *slog.Logger
}

// NewSession wires a controller for the principal.
func (f *SessionFactory) NewSession(principalID id.PrincipalID) *Controller {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tenants := tenant.NewProvider(f.Backend, tenant.WithLogger(logger))
	resolver := access.NewResolver(f.Direct, access.WithLogger(logger))
	gw := gateway.New(f.Backend, tenants, gateway.WithLogger(logger))

	return New(Deps{
		PrincipalID:  principalID,
		Tenants:      tenants,
		Resolver:     resolver,
		Gateway:      gw,
		Direct:       f.Direct,
		Cache:        f.Cache,
		Aggregator:   f.Aggregator,
		Feed:         f.Feed,
		Registry:     f.Registry,
		RefreshQuiet: f.RefreshQuiet,
		Logger:       logger,
	})
}

// Handler exposes the dashboard over HTTP, one live controller per principal.
type Handler struct {
	factory *SessionFactory
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[id.PrincipalID]*Controller
}

// NewHandler creates the HTTP surface over the session factory.
func NewHandler(factory *SessionFactory, logger *slog.Logger) *Handler {
	return &Handler{
		factory:  factory,
		logger:   logger,
		sessions: make(map[id.PrincipalID]*Controller),
	}
}

// Routes mounts the dashboard endpoints. The router is expected to run the
// auth middleware first; every handler reads the principal from the context.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/dashboard", h.getDashboard)
	r.Post("/dashboard/refresh", h.refresh)
	r.Post("/dashboard/retry", h.retry)
	r.Delete("/dashboard", h.closeSession)
}

// Shutdown closes every live session.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Controller, 0, len(h.sessions))
	for _, c := range h.sessions {
		sessions = append(sessions, c)
	}
	h.sessions = make(map[id.PrincipalID]*Controller)
	h.mu.Unlock()

	for _, c := range sessions {
		c.Close()
	}
}

func (h *Handler) getDashboard(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}

	controller, opened := h.session(principalID)
	if !opened {
		// Open failure still renders: the view carries the error state and
		// any stale snapshot that was painted.
		if err := controller.Open(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "dashboard open failed",
				"principal_id", principalID,
				"error", err,
			)
		}
	}
	h.renderView(w, controller.View())
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}
	controller, opened := h.lookup(principalID)
	if !opened {
		httpErrors.Render(w, dErrors.New(dErrors.CodeNotFound, "no open dashboard session"))
		return
	}
	if err := controller.Refresh(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "manual refresh failed",
			"principal_id", principalID,
			"error", err,
		)
	}
	h.renderView(w, controller.View())
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}
	controller, opened := h.lookup(principalID)
	if !opened {
		httpErrors.Render(w, dErrors.New(dErrors.CodeNotFound, "no open dashboard session"))
		return
	}
	if err := controller.Retry(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "retry failed",
			"principal_id", principalID,
			"error", err,
		)
	}
	h.renderView(w, controller.View())
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	controller, opened := h.sessions[principalID]
	delete(h.sessions, principalID)
	h.mu.Unlock()

	if opened {
		controller.Close()
	}
	w.WriteHeader(http.StatusNoContent)
}

// session returns the principal's controller, creating one on first use. The
// second return reports whether it already existed (and is therefore open).
func (h *Handler) session(principalID id.PrincipalID) (*Controller, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.sessions[principalID]; ok {
		return c, true
	}
	c := h.factory.NewSession(principalID)
	h.sessions[principalID] = c
	return c, false
}

func (h *Handler) lookup(principalID id.PrincipalID) (*Controller, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.sessions[principalID]
	return c, ok
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (id.PrincipalID, bool) {
	principalID := middleware.GetPrincipalID(r.Context())
	if principalID.IsNil() {
		httpErrors.Render(w, dErrors.New(dErrors.CodeUnauthorized, "request is not authenticated"))
		return id.PrincipalID{}, false
	}
	return principalID, true
}

type viewBody struct {
	State   State      `json:"state"`
	Loading bool       `json:"loading"`
	IsStale bool       `json:"is_stale"`
	Data    *Data      `json:"data,omitempty"`
	Error   *viewError `json:"error,omitempty"`
}

type viewError struct {
	Code    dErrors.Code `json:"code"`
	Message string       `json:"message"`
}

func (h *Handler) renderView(w http.ResponseWriter, view View) {
	body := viewBody{
		State:   view.State,
		Loading: view.Loading,
		IsStale: view.IsStale,
		Data:    view.Data,
	}
	if view.Err != nil {
		body.Error = &viewError{Code: httpErrors.CodeOf(view.Err), Message: view.Err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode dashboard view", "error", err)
	}
}
