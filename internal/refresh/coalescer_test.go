package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"schoolhub/internal/feed"
)

// countingRefresh records refresh runs and can block mid-run.
type countingRefresh struct {
	mu      sync.Mutex
	runs    int
	started chan struct{}
	release chan struct{}
}

func (r *countingRefresh) fn(context.Context) error {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	return nil
}

func (r *countingRefresh) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// CoalescerSuite tests the debounce window and run serialization.
//
// Justification: the coalescer exists to replace refetch-per-event. A burst
// collapsing into one run, and mid-run events booking exactly one follow-up,
// are the behaviors that keep the backend load bounded.
type CoalescerSuite struct {
	suite.Suite
	bus *feed.Bus
}

func TestCoalescerSuite(t *testing.T) {
	suite.Run(t, new(CoalescerSuite))
}

func (s *CoalescerSuite) SetupTest() {
	s.bus = feed.NewBus()
}

func (s *CoalescerSuite) eventually(check func() bool) {
	s.Require().Eventually(check, time.Second, 5*time.Millisecond)
}

func (s *CoalescerSuite) TestBurstCollapsesIntoOneRun() {
	refresh := &countingRefresh{}
	c := NewCoalescer(s.bus, refresh.fn, 30*time.Millisecond)
	s.Require().NoError(c.Start("notifications", "attendance"))
	defer c.Stop()

	for i := 0; i < 5; i++ {
		s.bus.Publish(feed.Event{Category: "notifications"})
	}
	s.bus.Publish(feed.Event{Category: "attendance"})

	s.Zero(refresh.count(), "no refresh before the quiet window elapses")
	s.eventually(func() bool { return refresh.count() == 1 })

	// Silence afterwards must not produce more runs.
	time.Sleep(60 * time.Millisecond)
	s.Equal(1, refresh.count())
}

func (s *CoalescerSuite) TestEventsResetTheWindow() {
	refresh := &countingRefresh{}
	c := NewCoalescer(s.bus, refresh.fn, 50*time.Millisecond)
	s.Require().NoError(c.Start("notifications"))
	defer c.Stop()

	// Keep the feed noisy for longer than one window.
	for i := 0; i < 6; i++ {
		s.bus.Publish(feed.Event{Category: "notifications"})
		time.Sleep(15 * time.Millisecond)
	}
	s.Zero(refresh.count(), "the window restarts on every event")

	s.eventually(func() bool { return refresh.count() == 1 })
}

func (s *CoalescerSuite) TestMidRunEventsBookOneFollowUp() {
	refresh := &countingRefresh{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	c := NewCoalescer(s.bus, refresh.fn, 10*time.Millisecond)
	s.Require().NoError(c.Start("notifications"))

	s.bus.Publish(feed.Event{Category: "notifications"})
	<-refresh.started // first run is now in flight

	// Three events during the run collapse into a single follow-up.
	for i := 0; i < 3; i++ {
		s.bus.Publish(feed.Event{Category: "notifications"})
	}
	refresh.release <- struct{}{}

	<-refresh.started
	refresh.release <- struct{}{}

	s.eventually(func() bool { return refresh.count() == 2 })
	time.Sleep(40 * time.Millisecond)
	s.Equal(2, refresh.count())
	c.Stop()
}

func (s *CoalescerSuite) TestStopCancelsPendingWindow() {
	refresh := &countingRefresh{}
	c := NewCoalescer(s.bus, refresh.fn, 20*time.Millisecond)
	s.Require().NoError(c.Start("notifications"))

	s.bus.Publish(feed.Event{Category: "notifications"})
	c.Stop()

	time.Sleep(50 * time.Millisecond)
	s.Zero(refresh.count(), "no refresh may start after Stop")
}

func (s *CoalescerSuite) TestStopWaitsForInFlightRun() {
	refresh := &countingRefresh{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := NewCoalescer(s.bus, refresh.fn, 5*time.Millisecond)
	s.Require().NoError(c.Start("notifications"))

	s.bus.Publish(feed.Event{Category: "notifications"})
	<-refresh.started

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.Fail("Stop must wait for the running refresh")
	case <-time.After(20 * time.Millisecond):
	}

	refresh.release <- struct{}{}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		s.Fail("Stop must return once the run finishes")
	}
	s.Equal(1, refresh.count())
}

func (s *CoalescerSuite) TestEventsAfterStopAreIgnored() {
	refresh := &countingRefresh{}
	c := NewCoalescer(s.bus, refresh.fn, 5*time.Millisecond)
	s.Require().NoError(c.Start("notifications"))
	c.Stop()

	s.bus.Publish(feed.Event{Category: "notifications"})
	time.Sleep(30 * time.Millisecond)
	s.Zero(refresh.count())
}
