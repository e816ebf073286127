// Package schema inspects an Nsight Systems SQLite export whose table layout
// varies between exporter versions, and names the canonical tables to query.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cast"

	"github.com/GindaChen/nsys-tui/internal/db"
)

// PreferredKernelTable is the kernel activity table written by every exporter
// version seen so far.
const PreferredKernelTable = "CUPTI_ACTIVITY_KIND_KERNEL"

// MetadataTables are the key/value tables consulted for version inference, in order.
var MetadataTables = []string{"META_DATA_EXPORT", "META_DATA_CAPTURE"}

// kvColumns lists candidate (key, value) column names. The first pair whose
// columns both exist in a metadata table is used for that table.
var kvColumns = [][2]string{
	{"key", "value"},
	{"Key", "Value"},
	{"NAME", "VAL"},
	{"Name", "Val"},
	{"name", "value"},
}

// Facts is the structural knowledge about one snapshot. Immutable once resolved.
type Facts struct {
	Tables      []string `json:"tables"`
	Version     string   `json:"version,omitempty"`
	KernelTable string   `json:"kernel_table,omitempty"`
}

// Has reports whether the snapshot contains table.
func (f *Facts) Has(table string) bool {
	return slices.Contains(f.Tables, table)
}

// Resolve lists the snapshot's tables, infers the exporter version and picks
// the kernel activity table. A snapshot without a kernel table resolves
// successfully with an empty KernelTable; callers decide whether that is fatal.
func Resolve(q db.Querier) (*Facts, error) {
	tables, err := db.Tables(q)
	if err != nil {
		return nil, err
	}

	f := &Facts{Tables: tables}

	version, err := detectVersion(q, f)
	if err != nil {
		return nil, err
	}
	f.Version = version
	f.KernelTable = KernelTable(tables)

	return f, nil
}

// KernelTable picks the kernel activity table from a table list.
// CUPTI_ACTIVITY_KIND_KERNEL wins when present. Otherwise any table whose
// name contains KERNEL and does not start with ENUM_ is a candidate, and the
// lexicographically smallest candidate is returned. Returns "" when none match.
func KernelTable(tables []string) string {
	if slices.Contains(tables, PreferredKernelTable) {
		return PreferredKernelTable
	}

	best := ""
	for _, t := range tables {
		upper := strings.ToUpper(t)
		if !strings.Contains(upper, "KERNEL") || strings.HasPrefix(upper, "ENUM_") {
			continue
		}
		if best == "" || t < best {
			best = t
		}
	}
	return best
}

type pair struct{ key, value string }

// detectVersion reads the metadata tables and looks for a version marker.
// Keys naming the Nsight Systems or exporter version win; otherwise the first
// value embedding "Nsight Systems" is used. Returns "" when nothing matches.
func detectVersion(q db.Querier, f *Facts) (string, error) {
	var meta []pair
	for _, table := range MetadataTables {
		if !f.Has(table) {
			continue
		}
		kv, err := readKV(q, table)
		if err != nil {
			return "", err
		}
		meta = append(meta, kv...)
	}

	for _, p := range meta {
		lk := strings.ToLower(p.key)
		if strings.Contains(lk, "nsight systems version") || strings.Contains(lk, "exporter version") {
			return p.value, nil
		}
	}
	for _, p := range meta {
		if strings.Contains(p.value, "Nsight Systems") {
			return p.value, nil
		}
	}
	return "", nil
}

// readKV returns the non-null (key, value) rows of a metadata table in row order.
// A table without a recognized column pair yields nothing.
func readKV(q db.Querier, table string) ([]pair, error) {
	cols, err := db.Columns(q, table)
	if err != nil {
		return nil, err
	}

	keyCol, valCol := "", ""
	for _, cand := range kvColumns {
		if slices.Contains(cols, cand[0]) && slices.Contains(cols, cand[1]) {
			keyCol, valCol = cand[0], cand[1]
			break
		}
	}
	if keyCol == "" {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL ORDER BY rowid",
		db.QuoteIdent(keyCol), db.QuoteIdent(valCol), db.QuoteIdent(table),
		db.QuoteIdent(keyCol), db.QuoteIdent(valCol))
	rows, err := q.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	var out []pair
	for rows.Next() {
		var k, v any
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		// Exporters store metadata as TEXT or INTEGER depending on the key.
		out = append(out, pair{key: cast.ToString(k), value: cast.ToString(v)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return out, nil
}
