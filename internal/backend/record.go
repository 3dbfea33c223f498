package backend

import "time"

// Record is one row of a resource collection. Rows are schemaless at this
// layer; typed models are built by the accessor packages that own them.
type Record map[string]any

// ID returns the row's "id" column as a string, or "" if absent.
func (r Record) ID() string {
	return r.String("id")
}

// String returns the named field as a string, or "" if absent or not a string.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Time returns the named field as a time.Time and whether it was present.
// RFC 3339 strings are accepted alongside native time values since the wire
// representation delivers timestamps as text.
func (r Record) Time(field string) (time.Time, bool) {
	v, ok := r[field]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// Project returns a copy holding only the named fields. Fields the row does
// not carry are simply absent from the result.
func (r Record) Project(fields []string) Record {
	out := make(Record, len(fields))
	for _, field := range fields {
		if v, ok := r[field]; ok {
			out[field] = v
		}
	}
	return out
}

// Clone returns a shallow copy so stores can hand out rows without callers
// mutating shared state.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
