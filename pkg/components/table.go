package components

import "strings"

// Table renders rows as left-aligned columns separated by two spaces.
// Columns are sized to their widest cell; when the total exceeds Width the
// last column is truncated.
type Table struct {
	Headers []string
	Rows    [][]string
	Width   int
}

// Render returns the table as newline-separated lines without a trailing
// newline.
func (t Table) Render() string {
	cols := len(t.Headers)
	for _, r := range t.Rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return ""
	}

	widths := make([]int, cols)
	measure := func(row []string) {
		for i, c := range row {
			widths[i] = max(widths[i], VisibleLen(c))
		}
	}
	measure(t.Headers)
	for _, r := range t.Rows {
		measure(r)
	}

	lines := make([]string, 0, len(t.Rows)+1)
	if len(t.Headers) > 0 {
		lines = append(lines, t.line(t.Headers, widths))
	}
	for _, r := range t.Rows {
		lines = append(lines, t.line(r, widths))
	}
	return strings.Join(lines, "\n")
}

func (t Table) line(row []string, widths []int) string {
	var b strings.Builder
	for i := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		if i == len(widths)-1 {
			b.WriteString(cell)
			break
		}
		b.WriteString(PadRight(cell, widths[i]))
		b.WriteString("  ")
	}
	out := strings.TrimRight(b.String(), " ")
	if t.Width > 0 && VisibleLen(out) > t.Width {
		out = Truncate(out, t.Width)
	}
	return out
}
