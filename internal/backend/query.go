// Package backend defines the declarative query surface of the remote
// relational store. Callers describe reads as data (resource, filters,
// ordering, limit) and the configured client executes them; nothing above
// this package builds SQL or talks to the wire directly.
package backend

import "context"

// Op is a filter operator supported by the backend query API.
type Op string

const (
	OpEq  Op = "eq"
	OpGte Op = "gte"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Filter is a single predicate on a resource field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq matches rows whose field equals value.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Gte matches rows whose field is greater than or equal to value.
func Gte(field string, value any) Filter {
	return Filter{Field: field, Op: OpGte, Value: value}
}

// Lte matches rows whose field is less than or equal to value.
func Lte(field string, value any) Filter {
	return Filter{Field: field, Op: OpLte, Value: value}
}

// In matches rows whose field equals any of the given values.
func In(field string, values []any) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// Query is a declarative read against one resource collection. An empty
// Projection reads every column.
type Query struct {
	Resource   string
	Filters    []Filter
	Projection []string
	OrderBy    string
	Descending bool
	Limit      int
}

// WithFilter returns a copy of the query with an extra filter appended.
// The receiver is not modified, so a shared base query stays reusable.
func (q Query) WithFilter(f Filter) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	filters = append(filters, f)
	q.Filters = filters
	return q
}

// WithProjection returns a copy of the query restricted to the named columns.
// Fields already projected are not duplicated.
func (q Query) WithProjection(fields ...string) Query {
	projection := make([]string, 0, len(q.Projection)+len(fields))
	projection = append(projection, q.Projection...)
	for _, field := range fields {
		duplicate := false
		for _, have := range projection {
			if have == field {
				duplicate = true
				break
			}
		}
		if !duplicate {
			projection = append(projection, field)
		}
	}
	q.Projection = projection
	return q
}

// Client executes declarative reads and writes against the backing store.
type Client interface {
	Select(ctx context.Context, q Query) ([]Record, error)
	Insert(ctx context.Context, resource string, rec Record) (Record, error)
	Update(ctx context.Context, resource string, id string, patch Record) (Record, error)
}
