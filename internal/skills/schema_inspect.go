package skills

import (
	"fmt"
	"strings"
)

// SchemaInspect lists every table and its columns.
var SchemaInspect = &Skill{
	Name:  "schema_inspect",
	Title: "Database Schema Inspector",
	Description: "Lists all tables and their columns in the Nsight SQLite database. " +
		"Use this first to understand what data is available before running " +
		"other skills. Different nsys versions may have different tables.",
	Category: CategoryUtility,
	SQL: `SELECT m.name AS table_name,
       p.name AS column_name,
       p.type AS column_type,
       p.pk AS is_pk
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type = 'table'
  AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`,
	Format: formatSchemaInspect,
	Tags:   []string{"schema", "tables", "columns", "inspect", "meta", "utility"},
}

func formatSchemaInspect(rows []Row) string {
	if len(rows) == 0 {
		return "(No tables found in database)"
	}
	lines := []string{heading("Database Schema"), ""}
	current := ""
	for i, r := range rows {
		table := r.String("table_name")
		if i == 0 || table != current {
			if i > 0 {
				lines = append(lines, "")
			}
			current = table
			lines = append(lines, "  "+table, "  "+rule(len(table)))
		}
		pk := ""
		if r.Int("is_pk") != 0 {
			pk = " (PK)"
		}
		lines = append(lines, strings.TrimRight(
			fmt.Sprintf("    %-30s  %-15s%s", r.String("column_name"), r.String("column_type"), pk), " "))
	}
	return strings.Join(lines, "\n")
}
