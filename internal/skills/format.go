package skills

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cast"
)

// FormatTable renders rows as a titled table sized to the widest value in
// each column. Empty input yields "(<title>: no results)".
func FormatTable(title string, rows []Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("(%s: no results)", title)
	}

	cols := rows[0].Columns
	widths := make([]int, len(cols))
	cells := make([][]string, len(rows))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c)
	}
	for r, row := range rows {
		cells[r] = make([]string, len(cols))
		for i := range cols {
			s := cell(row.Values[i])
			cells[r][i] = s
			if w := runewidth.StringWidth(s); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := []string{heading(title)}
	header := make([]string, len(cols))
	sep := make([]string, len(cols))
	for i, c := range cols {
		header[i] = runewidth.FillRight(c, widths[i])
		sep[i] = rule(widths[i])
	}
	lines = append(lines, strings.TrimRight(strings.Join(header, "  "), " "), strings.Join(sep, "  "))

	for _, rc := range cells {
		out := make([]string, len(rc))
		for i, s := range rc {
			out[i] = runewidth.FillRight(s, widths[i])
		}
		lines = append(lines, strings.TrimRight(strings.Join(out, "  "), " "))
	}
	return strings.Join(lines, "\n")
}

// heading renders a section title line.
func heading(title string) string {
	return "── " + title + " ──"
}

func rule(n int) string {
	return strings.Repeat("─", n)
}

// cell renders one value for display. NULL is blank.
func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return cast.ToString(x)
	}
}

// clip shortens s to at most limit display columns, ending in "...", and
// left-aligns it in a field of width columns.
func clip(s string, limit, width int) string {
	if runewidth.StringWidth(s) > limit {
		s = runewidth.Truncate(s, limit, "...")
	}
	return runewidth.FillRight(s, width)
}

// orDefault returns s, or def when s is empty.
func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
