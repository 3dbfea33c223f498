package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolhub/internal/sentinel"
)

// Memory is an in-memory backend client for tests and the dev environment.
type Memory struct {
	mu        sync.RWMutex
	resources map[string][]Record
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{resources: make(map[string][]Record)}
}

// Seed loads rows into a resource collection, replacing nothing. Intended for
// test fixtures and dev wiring.
func (m *Memory) Seed(resource string, rows ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.resources[resource] = append(m.resources[resource], row.Clone())
	}
}

// Select evaluates the query against the seeded rows.
func (m *Memory) Select(_ context.Context, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, row := range m.resources[q.Resource] {
		match, err := matches(row, q.Filters)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, row.Clone())
		}
	}

	if q.OrderBy != "" {
		field, desc := q.OrderBy, q.Descending
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][field], out[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	// Projection runs last so filtering and ordering still see every column.
	if len(q.Projection) > 0 {
		for i, row := range out {
			out[i] = row.Project(q.Projection)
		}
	}
	return out, nil
}

// Insert appends a row, assigning an id when the caller did not.
func (m *Memory) Insert(_ context.Context, resource string, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := rec.Clone()
	if stored.ID() == "" {
		stored["id"] = uuid.NewString()
	}
	m.resources[resource] = append(m.resources[resource], stored)
	return stored.Clone(), nil
}

// Update patches the row with the given id.
func (m *Memory) Update(_ context.Context, resource string, id string, patch Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.resources[resource] {
		if row.ID() == id {
			for k, v := range patch {
				row[k] = v
			}
			return row.Clone(), nil
		}
	}
	return nil, fmt.Errorf("update %s/%s: %w", resource, id, sentinel.ErrNotFound)
}

func matches(row Record, filters []Filter) (bool, error) {
	for _, f := range filters {
		switch f.Op {
		case OpEq:
			if compare(row[f.Field], f.Value) != 0 {
				return false, nil
			}
		case OpGte:
			if compare(row[f.Field], f.Value) < 0 {
				return false, nil
			}
		case OpLte:
			if compare(row[f.Field], f.Value) > 0 {
				return false, nil
			}
		case OpIn:
			values, ok := f.Value.([]any)
			if !ok {
				return false, fmt.Errorf("in filter on %q requires a value slice: %w", f.Field, sentinel.ErrInvalidInput)
			}
			found := false
			for _, v := range values {
				if compare(row[f.Field], v) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported filter op %q: %w", f.Op, sentinel.ErrInvalidInput)
		}
	}
	return true, nil
}

// compare orders two loosely-typed values. Mixed numeric widths are
// normalized to float64; everything else falls back to string comparison.
func compare(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
