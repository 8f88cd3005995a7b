package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/caribu66/veruspulse-sub005/pkg/app"
	"github.com/caribu66/veruspulse-sub005/pkg/components"
	"github.com/caribu66/veruspulse-sub005/pkg/widgets"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(widgets.ColorAccent)).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(widgets.ColorDim))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(widgets.ColorError))
)

const (
	columns   = 2
	minPanelH = 4
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return ""
	}

	header := truncate(accentStyle.Render("VerusPulse")+" "+m.spinner.View(), m.width)

	var footer []string
	if m.search != nil && m.search.active {
		footer = m.search.view(m.width)
	}
	footer = append(footer, m.statusBar())

	gridH := m.height - 1 - len(footer)
	parts := []string{header}
	if grid := m.renderGrid(m.width, gridH); grid != "" {
		parts = append(parts, grid)
	}
	parts = append(parts, footer...)
	return strings.Join(parts, "\n")
}

// renderGrid lays panels out two per row, each in a rounded border. The
// focused panel gets the accent border.
func (m *Model) renderGrid(width, height int) string {
	if len(m.widgets) == 0 || width < 2*columns || height < minPanelH {
		return ""
	}
	rows := (len(m.widgets) + columns - 1) / columns
	rowH := max(height/rows, minPanelH)
	colW := width / columns

	var out []string
	used := 0
	for r := 0; r < rows && used+rowH <= height; r++ {
		var cells []string
		for c := 0; c < columns; c++ {
			i := r*columns + c
			if i >= len(m.widgets) {
				break
			}
			cells = append(cells, m.renderPanel(m.widgets[i], colW, rowH))
		}
		out = append(out, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		used += rowH
	}
	return strings.Join(out, "\n")
}

// renderPanel draws w in a box of exactly width x height cells.
func (m *Model) renderPanel(w app.Widget, width, height int) string {
	innerW, innerH := width-2, height-2
	border := widgets.ColorBorderDefault
	if w.ID() == m.focus.Current() {
		border = widgets.ColorBorderFocus
	}
	title := components.PadRight(truncate(accentStyle.Render(w.Title()), innerW), innerW)
	body := title
	if innerH > 1 {
		body += "\n" + w.View(innerW, innerH-1)
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(border)).
		Width(innerW).
		Height(innerH).
		MaxHeight(height).
		Render(body)
}

func (m *Model) statusBar() string {
	hints := "tab:focus  r:retry  R:retry all  /:search  q:quit"
	if m.search != nil && m.search.active {
		hints = "enter:look up now  esc:close"
	}
	if m.status != "" {
		hints = m.status + "  |  " + hints
	}
	return dimStyle.Render(components.PadRight(truncate(hints, m.width), m.width))
}

func truncate(s string, width int) string {
	return components.Truncate(s, width)
}
