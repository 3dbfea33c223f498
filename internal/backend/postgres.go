package backend

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	// Registers the pgx stdlib driver used by the connection pool in cmd/server.
	_ "github.com/jackc/pgx/v5/stdlib"

	"schoolhub/internal/sentinel"
)

// identPattern restricts resource and field names to plain SQL identifiers.
// Query shapes are declarative data that may originate from config, so names
// are validated here instead of trusting every call site.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Postgres executes declarative queries against a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed client.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Select builds and runs a parameterized SELECT from the query description.
func (p *Postgres) Select(ctx context.Context, q Query) ([]Record, error) {
	if err := checkIdent(q.Resource); err != nil {
		return nil, err
	}

	columns := "*"
	if len(q.Projection) > 0 {
		for _, col := range q.Projection {
			if err := checkIdent(col); err != nil {
				return nil, err
			}
		}
		columns = strings.Join(q.Projection, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", columns, q.Resource)

	args := make([]any, 0, len(q.Filters))
	clauses := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		if err := checkIdent(f.Field); err != nil {
			return nil, err
		}
		switch f.Op {
		case OpEq:
			args = append(args, f.Value)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", f.Field, len(args)))
		case OpGte:
			args = append(args, f.Value)
			clauses = append(clauses, fmt.Sprintf("%s >= $%d", f.Field, len(args)))
		case OpLte:
			args = append(args, f.Value)
			clauses = append(clauses, fmt.Sprintf("%s <= $%d", f.Field, len(args)))
		case OpIn:
			values, ok := f.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("in filter on %q requires a value slice: %w", f.Field, sentinel.ErrInvalidInput)
			}
			if len(values) == 0 {
				// Empty membership set matches nothing; short-circuit rather
				// than emitting invalid SQL.
				return nil, nil
			}
			placeholders := make([]string, 0, len(values))
			for _, v := range values {
				args = append(args, v)
				placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", f.Field, strings.Join(placeholders, ", ")))
		default:
			return nil, fmt.Errorf("unsupported filter op %q: %w", f.Op, sentinel.ErrInvalidInput)
		}
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	if q.OrderBy != "" {
		if err := checkIdent(q.OrderBy); err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, " ORDER BY %s", q.OrderBy)
		if q.Descending {
			sb.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Resource, err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	return scanRecords(rows)
}

// Insert persists a new row and returns it with any database-assigned columns.
func (p *Postgres) Insert(ctx context.Context, resource string, rec Record) (Record, error) {
	if err := checkIdent(resource); err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(rec))
	placeholders := make([]string, 0, len(rec))
	args := make([]any, 0, len(rec))
	for k, v := range rec {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		args = append(args, v)
		cols = append(cols, k)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		resource, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", resource, err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	inserted, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(inserted) == 0 {
		return nil, fmt.Errorf("insert %s returned no row", resource)
	}
	return inserted[0], nil
}

// Update patches the row with the given id and returns the updated row.
func (p *Postgres) Update(ctx context.Context, resource string, id string, patch Record) (Record, error) {
	if err := checkIdent(resource); err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("empty patch for %s/%s: %w", resource, id, sentinel.ErrInvalidInput)
	}

	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+1)
	for k, v := range patch {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING *",
		resource, strings.Join(sets, ", "), len(args))
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", resource, id, err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	updated, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, fmt.Errorf("update %s/%s: %w", resource, id, sentinel.ErrNotFound)
	}
	return updated[0], nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec := make(Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: %w", name, sentinel.ErrInvalidInput)
	}
	return nil
}
