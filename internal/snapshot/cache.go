package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"schoolhub/internal/access"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
)

// SchemaVersion is bumped whenever the dashboard payload shape changes.
// Entries written under an older version read as a plain miss.
const SchemaVersion = 3

// retention bounds how long envelopes sit in storage. It only has to outlive
// the freshness TTL; anything older reads as a miss and is never painted.
const retention = 24 * time.Hour

var (
	snapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_snapshot_loads_total",
		Help: "Snapshot cache loads by outcome",
	}, []string{"outcome"})
	snapshotSaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolhub_snapshot_save_failures_total",
		Help: "Background snapshot writes that failed",
	})
)

// Snapshot is the versioned envelope persisted per (mode, tenant, principal).
type Snapshot struct {
	Version     int             `json:"version"`
	Mode        access.Path     `json:"mode"`
	TenantID    string          `json:"tenant_id,omitempty"`
	PrincipalID string          `json:"principal_id"`
	SavedAt     time.Time       `json:"saved_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Cache stores the last successfully rendered dashboard state. Reads are
// validated for schema version and freshness; writes are fire-and-forget so
// persistence trouble never blocks a render.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	clock  func() time.Time

	saves sync.WaitGroup
}

// Option configures a Cache instance.
type Option func(*Cache)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// NewCache creates a snapshot cache over the given store.
func NewCache(store Store, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttl:    ttl,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the storage key. The access path is part of the key so the
// tenant-scoped and direct renditions of the same principal never collide,
// and the schema version is part of the key so a version bump starts cold.
func Key(mode access.Path, tenantID string, principalID id.PrincipalID) string {
	if tenantID == "" {
		tenantID = "-"
	}
	return fmt.Sprintf("snapshot:%s:%s:%s:v%d", mode, tenantID, principalID, SchemaVersion)
}

func lastKey(principalID id.PrincipalID) string {
	return "snapshot:last:" + principalID.String()
}

// Load returns the fresh snapshot for the exact (mode, tenant, principal)
// triple. Absent, expired, and version-mismatched entries are all the same
// miss; the caller proceeds to a live fetch either way.
func (c *Cache) Load(ctx context.Context, mode access.Path, tenantID string, principalID id.PrincipalID) (*Snapshot, bool) {
	snap, ok := c.read(ctx, Key(mode, tenantID, principalID))
	if !ok {
		return nil, false
	}
	if !c.Fresh(snap) {
		snapshotLoads.WithLabelValues("miss_expired").Inc()
		return nil, false
	}
	snapshotLoads.WithLabelValues("hit").Inc()
	return snap, true
}

// LoadLast returns the principal's most recently saved snapshot, following
// the last-used-key pointer. The same miss rules as Load apply: an expired or
// version-mismatched entry is absent, never a best-effort paint.
func (c *Cache) LoadLast(ctx context.Context, principalID id.PrincipalID) (*Snapshot, bool) {
	key, found, err := c.store.Get(ctx, lastKey(principalID))
	if err != nil || !found {
		if err != nil {
			c.logger.WarnContext(ctx, "snapshot pointer read failed", "error", err)
		}
		snapshotLoads.WithLabelValues("miss_absent").Inc()
		return nil, false
	}
	snap, ok := c.read(ctx, key)
	if !ok {
		return nil, false
	}
	if !c.Fresh(snap) {
		snapshotLoads.WithLabelValues("miss_expired").Inc()
		return nil, false
	}
	snapshotLoads.WithLabelValues("hit").Inc()
	return snap, true
}

// Fresh reports whether the snapshot is within the retention window for a
// trusted paint.
func (c *Cache) Fresh(snap *Snapshot) bool {
	return c.clock().Sub(snap.SavedAt) <= c.ttl
}

// Save persists the payload in the background. Failures are logged and
// counted but never surfaced; the render that produced the payload has
// already succeeded.
func (c *Cache) Save(mode access.Path, tenantID string, principalID id.PrincipalID, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.recordSaveFailure(context.Background(), dErrors.Wrap(err, dErrors.CodePersistence, "failed to encode snapshot payload"))
		return
	}

	snap := Snapshot{
		Version:     SchemaVersion,
		Mode:        mode,
		TenantID:    tenantID,
		PrincipalID: principalID.String(),
		SavedAt:     c.clock(),
		Payload:     raw,
	}
	envelope, err := json.Marshal(snap)
	if err != nil {
		c.recordSaveFailure(context.Background(), dErrors.Wrap(err, dErrors.CodePersistence, "failed to encode snapshot envelope"))
		return
	}

	key := Key(mode, tenantID, principalID)
	c.saves.Add(1)
	go func() {
		defer c.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.store.Set(ctx, key, string(envelope), retention); err != nil {
			c.recordSaveFailure(ctx, dErrors.Wrap(err, dErrors.CodePersistence, "failed to persist snapshot"))
			return
		}
		if err := c.store.Set(ctx, lastKey(principalID), key, retention); err != nil {
			c.recordSaveFailure(ctx, dErrors.Wrap(err, dErrors.CodePersistence, "failed to persist snapshot pointer"))
		}
	}()
}

// Flush waits for in-flight background saves. Used at shutdown and in tests.
func (c *Cache) Flush() {
	c.saves.Wait()
}

func (c *Cache) read(ctx context.Context, key string) (*Snapshot, bool) {
	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "snapshot read failed", "key", key, "error", err)
		snapshotLoads.WithLabelValues("miss_error").Inc()
		return nil, false
	}
	if !found {
		snapshotLoads.WithLabelValues("miss_absent").Inc()
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(value), &snap); err != nil {
		c.logger.WarnContext(ctx, "snapshot envelope is corrupt", "key", key, "error", err)
		snapshotLoads.WithLabelValues("miss_decode").Inc()
		return nil, false
	}
	if snap.Version != SchemaVersion {
		snapshotLoads.WithLabelValues("miss_version").Inc()
		return nil, false
	}
	return &snap, true
}

func (c *Cache) recordSaveFailure(ctx context.Context, err error) {
	snapshotSaveFailures.Inc()
	c.logger.WarnContext(ctx, "snapshot save failed", "error", err)
}
