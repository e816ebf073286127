package skills

import (
	"bytes"
	"encoding/json"

	"github.com/spf13/cast"
)

// Row is one result row. Columns is shared by all rows of a result set and
// keeps the query's column order.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of column name, or nil when the row has no such column.
func (r Row) Get(name string) any {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i]
		}
	}
	return nil
}

// String returns column name as text; NULL becomes "".
func (r Row) String(name string) string {
	return cast.ToString(r.Get(name))
}

// Int returns column name as an integer; NULL becomes 0.
func (r Row) Int(name string) int64 {
	return cast.ToInt64(r.Get(name))
}

// Float returns column name as a float; NULL becomes 0.
func (r Row) Float(name string) float64 {
	return cast.ToFloat64(r.Get(name))
}

// IsNull reports whether column name is NULL or missing.
func (r Row) IsNull(name string) bool {
	return r.Get(name) == nil
}

// Map returns the row as a plain map. Column order is lost.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// MarshalJSON encodes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
