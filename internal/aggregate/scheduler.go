// Package aggregate refines the provisional dashboard after the first paint.
// The provisional render ships with whatever one round trip could establish;
// this package then fans out per-class member queries, unions the results,
// and hands the richer view back for a second render.
package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"schoolhub/internal/direct"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
)

var (
	aggregationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_aggregation_runs_total",
		Help: "Progressive aggregation runs by outcome",
	}, []string{"outcome"})
	aggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "schoolhub_aggregation_duration_seconds",
		Help:    "Wall time of the per-class fan-out, excluding the start delay",
		Buckets: prometheus.DefBuckets,
	})
)

// maxParallelClasses bounds the fan-out so a profile with many assignments
// does not flood the backend right after paint.
const maxParallelClasses = 4

// ClassLister is the per-class member query the scheduler fans out over.
type ClassLister interface {
	ListClassMembers(ctx context.Context, classID id.ClassID) ([]direct.Member, error)
}

// Result is the refined member view produced by one aggregation run.
type Result struct {
	// Members is the union across all classes, deduplicated by student id
	// and ordered by name.
	Members []direct.Member
	// ClassCounts maps each class to its member count, including classes
	// whose query failed (counted as zero).
	ClassCounts map[id.ClassID]int
	// Degraded is set when at least one class query failed and its members
	// are missing from the union.
	Degraded bool
	// Degradation carries the first per-class failure, coded
	// aggregation_degraded. Informational only; a degraded run still
	// succeeds.
	Degradation error
}

// Scheduler runs the post-paint aggregation. The start delay keeps the
// fan-out off the critical path of the provisional render.
type Scheduler struct {
	lister ClassLister
	delay  time.Duration
	logger *slog.Logger
}

// Option configures a Scheduler instance.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler creates a scheduler over the given class lister.
func NewScheduler(lister ClassLister, delay time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		lister: lister,
		delay:  delay,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delay reports the configured start delay, so callers can build a sibling
// scheduler over a different lister with the same timing.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Run waits out the start delay, then queries every class in parallel and
// unions the members. Per-class failures degrade the result instead of
// failing it; only context cancellation aborts the run entirely.
func (s *Scheduler) Run(ctx context.Context, classIDs []id.ClassID) (*Result, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		aggregationRuns.WithLabelValues("cancelled").Inc()
		return nil, ctx.Err()
	}

	unique := make([]id.ClassID, 0, len(classIDs))
	seen := make(map[id.ClassID]bool)
	for _, classID := range classIDs {
		if !seen[classID] {
			seen[classID] = true
			unique = append(unique, classID)
		}
	}

	started := time.Now()
	result := &Result{ClassCounts: make(map[id.ClassID]int, len(unique))}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelClasses)
	for _, classID := range unique {
		classID := classID
		g.Go(func() error {
			members, err := s.lister.ListClassMembers(gctx, classID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				degradation := dErrors.Wrap(err, dErrors.CodeAggregation, "class member aggregation failed")
				s.logger.WarnContext(gctx, "class aggregation degraded",
					"class_id", classID,
					"error", degradation,
				)
				result.ClassCounts[classID] = 0
				result.Degraded = true
				if result.Degradation == nil {
					result.Degradation = degradation
				}
				return nil
			}
			result.ClassCounts[classID] = len(members)
			result.Members = append(result.Members, members...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		aggregationRuns.WithLabelValues("cancelled").Inc()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		aggregationRuns.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	result.Members = dedupe(result.Members)
	aggregationDuration.Observe(time.Since(started).Seconds())
	if result.Degraded {
		aggregationRuns.WithLabelValues("degraded").Inc()
	} else {
		aggregationRuns.WithLabelValues("ok").Inc()
	}
	return result, nil
}

func dedupe(members []direct.Member) []direct.Member {
	seen := make(map[id.StudentID]bool, len(members))
	out := members[:0]
	for _, m := range members {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
