package aggregate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"schoolhub/internal/direct"
	id "schoolhub/pkg/domain"
	dErrors "schoolhub/pkg/domain-errors"
)

// fakeLister serves scripted per-class member lists.
type fakeLister struct {
	mu      sync.Mutex
	classes map[id.ClassID][]direct.Member
	fail    map[id.ClassID]bool
	calls   map[id.ClassID]int
}

func newFakeLister() *fakeLister {
	return &fakeLister{
		classes: make(map[id.ClassID][]direct.Member),
		fail:    make(map[id.ClassID]bool),
		calls:   make(map[id.ClassID]int),
	}
}

func (f *fakeLister) ListClassMembers(_ context.Context, classID id.ClassID) ([]direct.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[classID]++
	if f.fail[classID] {
		return nil, fmt.Errorf("class %s unreadable", classID)
	}
	return f.classes[classID], nil
}

// SchedulerSuite tests the post-paint fan-out.
//
// Justification: aggregation failures must refine or degrade, never break a
// dashboard that already painted. Union semantics and the degraded flag are
// what the second render trusts.
type SchedulerSuite struct {
	suite.Suite
	ctx    context.Context
	lister *fakeLister
	classA id.ClassID
	classB id.ClassID
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.lister = newFakeLister()
	s.classA = id.ClassID(uuid.New())
	s.classB = id.ClassID(uuid.New())
}

func (s *SchedulerSuite) member(name string, classID id.ClassID) direct.Member {
	return direct.Member{ID: id.StudentID(uuid.New()), ClassID: classID, Name: name}
}

func (s *SchedulerSuite) TestUnionAcrossClasses() {
	s.lister.classes[s.classA] = []direct.Member{
		s.member("Asha", s.classA),
		s.member("Zoya", s.classA),
	}
	s.lister.classes[s.classB] = []direct.Member{s.member("Ravi", s.classB)}

	sched := NewScheduler(s.lister, 0)
	result, err := sched.Run(s.ctx, []id.ClassID{s.classA, s.classB})
	s.Require().NoError(err)

	s.False(result.Degraded)
	s.Require().Len(result.Members, 3)
	s.Equal("Asha", result.Members[0].Name, "union is name-ordered")
	s.Equal(2, result.ClassCounts[s.classA])
	s.Equal(1, result.ClassCounts[s.classB])
}

func (s *SchedulerSuite) TestDeduplicatesByMemberID() {
	shared := s.member("Asha", s.classA)
	s.lister.classes[s.classA] = []direct.Member{shared}
	s.lister.classes[s.classB] = []direct.Member{shared, s.member("Ravi", s.classB)}

	sched := NewScheduler(s.lister, 0)
	result, err := sched.Run(s.ctx, []id.ClassID{s.classA, s.classB})
	s.Require().NoError(err)
	s.Len(result.Members, 2)
}

func (s *SchedulerSuite) TestDuplicateClassQueriedOnce() {
	s.lister.classes[s.classA] = []direct.Member{s.member("Asha", s.classA)}

	sched := NewScheduler(s.lister, 0)
	_, err := sched.Run(s.ctx, []id.ClassID{s.classA, s.classA, s.classA})
	s.Require().NoError(err)
	s.Equal(1, s.lister.calls[s.classA])
}

func (s *SchedulerSuite) TestFailedClassDegradesWithoutFailing() {
	s.lister.classes[s.classA] = []direct.Member{s.member("Asha", s.classA)}
	s.lister.fail[s.classB] = true

	sched := NewScheduler(s.lister, 0)
	result, err := sched.Run(s.ctx, []id.ClassID{s.classA, s.classB})
	s.Require().NoError(err, "per-class failures never surface as errors")

	s.True(result.Degraded)
	s.True(dErrors.HasCode(result.Degradation, dErrors.CodeAggregation))
	s.Len(result.Members, 1)
	s.Zero(result.ClassCounts[s.classB])
}

func (s *SchedulerSuite) TestCleanRunCarriesNoDegradation() {
	s.lister.classes[s.classA] = []direct.Member{s.member("Asha", s.classA)}

	sched := NewScheduler(s.lister, 0)
	result, err := sched.Run(s.ctx, []id.ClassID{s.classA})
	s.Require().NoError(err)
	s.False(result.Degraded)
	s.NoError(result.Degradation)
}

func (s *SchedulerSuite) TestCancellationDuringDelay() {
	sched := NewScheduler(s.lister, time.Minute)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		_, err := sched.Run(ctx, []id.ClassID{s.classA})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("cancellation must abort the delay wait")
	}
	s.Zero(s.lister.calls[s.classA], "no queries run for a cancelled aggregation")
}

func (s *SchedulerSuite) TestEmptyClassList() {
	sched := NewScheduler(s.lister, 0)
	result, err := sched.Run(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(result.Members)
	s.False(result.Degraded)
}
