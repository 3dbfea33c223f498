package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

// MemorySuite tests the in-memory backend client.
//
// Justification: the memory client stands in for the remote store in every
// other package's tests, so its filter semantics must match the declarative
// query contract exactly.
type MemorySuite struct {
	suite.Suite
	backend *Memory
	ctx     context.Context
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) SetupTest() {
	s.backend = NewMemory()
	s.ctx = context.Background()
	s.backend.Seed("students",
		Record{"id": "s1", "name": "Asha", "class_id": "c1", "roll_no": 4},
		Record{"id": "s2", "name": "Bilal", "class_id": "c1", "roll_no": 2},
		Record{"id": "s3", "name": "Chitra", "class_id": "c2", "roll_no": 9},
	)
}

func (s *MemorySuite) TestSelectFilters() {
	s.Run("eq filter narrows to one class", func() {
		rows, err := s.backend.Select(s.ctx, Query{
			Resource: "students",
			Filters:  []Filter{Eq("class_id", "c1")},
		})
		s.Require().NoError(err)
		s.Len(rows, 2)
	})

	s.Run("gte filter on numeric field", func() {
		rows, err := s.backend.Select(s.ctx, Query{
			Resource: "students",
			Filters:  []Filter{Gte("roll_no", 4)},
		})
		s.Require().NoError(err)
		s.Len(rows, 2)
	})

	s.Run("in filter matches membership", func() {
		rows, err := s.backend.Select(s.ctx, Query{
			Resource: "students",
			Filters:  []Filter{In("id", []any{"s1", "s3"})},
		})
		s.Require().NoError(err)
		s.Len(rows, 2)
	})

	s.Run("in filter with wrong value type errors", func() {
		_, err := s.backend.Select(s.ctx, Query{
			Resource: "students",
			Filters:  []Filter{{Field: "id", Op: OpIn, Value: "s1"}},
		})
		s.Error(err)
	})
}

func (s *MemorySuite) TestSelectOrderAndLimit() {
	rows, err := s.backend.Select(s.ctx, Query{
		Resource: "students",
		OrderBy:  "roll_no",
		Limit:    2,
	})
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal("s2", rows[0].ID())
	s.Equal("s1", rows[1].ID())

	desc, err := s.backend.Select(s.ctx, Query{
		Resource:   "students",
		OrderBy:    "roll_no",
		Descending: true,
		Limit:      1,
	})
	s.Require().NoError(err)
	s.Require().Len(desc, 1)
	s.Equal("s3", desc[0].ID())
}

func (s *MemorySuite) TestSelectProjection() {
	s.Run("restricts rows to the named columns", func() {
		rows, err := s.backend.Select(s.ctx, Query{
			Resource:   "students",
			Filters:    []Filter{Eq("id", "s1")},
			Projection: []string{"id", "name"},
		})
		s.Require().NoError(err)
		s.Require().Len(rows, 1)
		s.Equal(Record{"id": "s1", "name": "Asha"}, rows[0])
	})

	s.Run("ordering still sees unprojected columns", func() {
		rows, err := s.backend.Select(s.ctx, Query{
			Resource:   "students",
			OrderBy:    "roll_no",
			Projection: []string{"name"},
		})
		s.Require().NoError(err)
		s.Require().Len(rows, 3)
		s.Equal("Bilal", rows[0].String("name"))
		s.NotContains(rows[0], "roll_no")
	})
}

func (s *MemorySuite) TestInsertAssignsID() {
	rec, err := s.backend.Insert(s.ctx, "students", Record{"name": "Divya", "class_id": "c2"})
	s.Require().NoError(err)
	s.NotEmpty(rec.ID())

	rows, err := s.backend.Select(s.ctx, Query{Resource: "students", Filters: []Filter{Eq("name", "Divya")}})
	s.Require().NoError(err)
	s.Len(rows, 1)
}

func (s *MemorySuite) TestUpdate() {
	s.Run("patches existing row", func() {
		rec, err := s.backend.Update(s.ctx, "students", "s2", Record{"roll_no": 7})
		s.Require().NoError(err)
		s.Equal(7, rec["roll_no"])
	})

	s.Run("missing row returns not found", func() {
		_, err := s.backend.Update(s.ctx, "students", "missing", Record{"roll_no": 1})
		s.Error(err)
	})
}

func (s *MemorySuite) TestCloneIsolation() {
	rows, err := s.backend.Select(s.ctx, Query{Resource: "students", Filters: []Filter{Eq("id", "s1")}})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)

	rows[0]["name"] = "mutated"

	again, err := s.backend.Select(s.ctx, Query{Resource: "students", Filters: []Filter{Eq("id", "s1")}})
	s.Require().NoError(err)
	s.Equal("Asha", again[0].String("name"))
}
