// Package components holds width-aware text helpers and small renderers
// shared by the TUI and the one-shot summary.
package components

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Ellipsis is appended when a cell is cut.
const Ellipsis = "…"

// VisibleLen returns the width of s in terminal cells, ignoring ANSI
// escapes and counting wide characters as two cells.
func VisibleLen(s string) int {
	return ansi.StringWidth(s)
}

// Truncate cuts s to maxWidth cells, ending in Ellipsis when it had to cut.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}

// PadRight pads s with trailing spaces to width cells.
func PadRight(s string, width int) string {
	vis := VisibleLen(s)
	if vis >= width {
		return s
	}
	return s + strings.Repeat(" ", width-vis)
}

// PadLeft pads s with leading spaces to width cells.
func PadLeft(s string, width int) string {
	vis := VisibleLen(s)
	if vis >= width {
		return s
	}
	return strings.Repeat(" ", width-vis) + s
}

// ShortHash abbreviates a block or transaction hash as head…tail.
func ShortHash(h string, keep int) string {
	if keep <= 0 || len(h) <= 2*keep+1 {
		return h
	}
	return h[:keep] + Ellipsis + h[len(h)-keep:]
}
