// Package refresh turns bursts of change-feed events into single refetches.
// One event starts a quiet window, further events restart it, and the refetch
// runs only once the feed has been silent for the whole window.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"schoolhub/internal/feed"
)

var (
	coalescedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolhub_refresh_coalesced_events_total",
		Help: "Feed events absorbed into an already pending refresh",
	})
	refreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolhub_refresh_runs_total",
		Help: "Coalesced refresh executions by outcome",
	}, []string{"outcome"})
)

// Func performs one full refetch of the live dashboard data.
type Func func(ctx context.Context) error

type state int

const (
	stateIdle state = iota
	statePending
	stateRunning
)

// Coalescer debounces feed events into serialized refresh runs. At most one
// refresh executes at a time; events arriving mid-run book exactly one
// follow-up run, however many there are.
type Coalescer struct {
	source  feed.Source
	refresh Func
	quiet   time.Duration
	logger  *slog.Logger

	mu           sync.Mutex
	state        state
	followUp     bool
	timer        *time.Timer
	stopped      bool
	unsubscribes []func()

	wg sync.WaitGroup
}

// Option configures a Coalescer instance.
type Option func(*Coalescer)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coalescer) {
		c.logger = logger
	}
}

// NewCoalescer creates a coalescer over the given feed source.
func NewCoalescer(source feed.Source, refresh Func, quiet time.Duration, opts ...Option) *Coalescer {
	c := &Coalescer{
		source:  source,
		refresh: refresh,
		quiet:   quiet,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the given feed categories.
func (c *Coalescer) Start(categories ...string) error {
	for _, category := range categories {
		unsubscribe, err := c.source.Subscribe(category, c.onEvent)
		if err != nil {
			c.teardown()
			return err
		}
		c.mu.Lock()
		c.unsubscribes = append(c.unsubscribes, unsubscribe)
		c.mu.Unlock()
	}
	return nil
}

// Stop unsubscribes, cancels any pending window, and waits for an in-flight
// refresh to finish. No refresh starts after Stop returns.
func (c *Coalescer) Stop() {
	c.teardown()
	c.wg.Wait()
}

func (c *Coalescer) teardown() {
	c.mu.Lock()
	c.stopped = true
	c.followUp = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsubscribes := c.unsubscribes
	c.unsubscribes = nil
	c.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}

func (c *Coalescer) onEvent(ev feed.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	switch c.state {
	case stateIdle:
		c.state = statePending
		c.timer = time.AfterFunc(c.quiet, c.fire)
	case statePending:
		coalescedEvents.Inc()
		c.timer.Reset(c.quiet)
	case stateRunning:
		// A refresh is already underway with pre-event data. Book exactly
		// one follow-up so the new change is picked up.
		coalescedEvents.Inc()
		c.followUp = true
	}
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	if c.stopped || c.state != statePending {
		c.mu.Unlock()
		return
	}
	c.state = stateRunning
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run()
}

func (c *Coalescer) run() {
	defer c.wg.Done()

	err := c.refresh(context.Background())
	if err != nil {
		refreshRuns.WithLabelValues("error").Inc()
		c.logger.Warn("coalesced refresh failed", "error", err)
	} else {
		refreshRuns.WithLabelValues("ok").Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.followUp && !c.stopped {
		c.followUp = false
		c.state = statePending
		c.timer = time.AfterFunc(c.quiet, c.fire)
		return
	}
	c.state = stateIdle
}
