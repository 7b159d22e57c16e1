package util

import (
	"fmt"
	"io"
	"strings"
)

// TableColumn describes one column of a rendered table. Key selects the
// value from each row map.
type TableColumn struct {
	Header string
	Key    string
	width  int
}

// RenderTable writes rows as an aligned text table. Column widths are
// computed from the data, ignoring ANSI color codes so colored cells line up.
func RenderTable(w io.Writer, columns []TableColumn, rows []map[string]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No data to display")
		return
	}

	for i := range columns {
		columns[i].width = displayWidth(columns[i].Header)
		for _, row := range rows {
			if cw := displayWidth(row[columns[i].Key]); cw > columns[i].width {
				columns[i].width = cw
			}
		}
	}

	headerParts := make([]string, 0, len(columns))
	sepParts := make([]string, 0, len(columns))
	for _, col := range columns {
		headerParts = append(headerParts, padToWidth(col.Header, col.width))
		sepParts = append(sepParts, strings.Repeat("-", col.width))
	}
	fmt.Fprintln(w, strings.Join(headerParts, "  "))
	fmt.Fprintln(w, strings.Join(sepParts, "  "))

	for _, row := range rows {
		parts := make([]string, 0, len(columns))
		for _, col := range columns {
			parts = append(parts, padToWidth(row[col.Key], col.width))
		}
		fmt.Fprintln(w, strings.Join(parts, "  "))
	}
}

// RenderKV writes aligned "key: value" lines, ANSI aware like RenderTable.
func RenderKV(w io.Writer, pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		if kw := displayWidth(p[0]); kw > width {
			width = kw
		}
	}
	for _, p := range pairs {
		fmt.Fprintf(w, "%s:  %s\n", padToWidth(p[0], width), p[1])
	}
}

// stripANSI removes ANSI escape sequences for width calculation.
func stripANSI(s string) string {
	for {
		start := strings.Index(s, "\033[")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "m")
		if end == -1 {
			return s
		}
		s = s[:start] + s[start+end+1:]
	}
}

func displayWidth(s string) int {
	return len([]rune(stripANSI(s)))
}

func padToWidth(s string, width int) string {
	dw := displayWidth(s)
	if dw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-dw)
}
