// Package widgets provides the dashboard panels. Each panel implements
// app.Widget and receives feed data via the Elm-architecture Update loop.
package widgets

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/caribu66/veruspulse-sub005/pkg/app"
	"github.com/caribu66/veruspulse-sub005/pkg/components"
	"github.com/caribu66/veruspulse-sub005/pkg/errs"
)

// Common color constants for panel styling.
const (
	ColorBorderDefault = "#6B7280"
	ColorBorderFocus   = "#7C3AED"
	ColorAccent        = "#A78BFA"
	ColorNew           = "#10B981"
	ColorDim           = "#9CA3AF"
	ColorWarn          = "#F59E0B"
	ColorError         = "#EF4444"
)

var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDim))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarn))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError))
	newStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorNew)).Bold(true)
)

// feedState is the part of a panel common to every feed.
type feedState struct {
	id, title string

	loaded    bool
	err       error
	stale     bool
	fromCache bool
	highlight bool
	updated   time.Time
	offset    int

	// nowFunc allows tests to override time.Now for deterministic output.
	nowFunc func() time.Time
}

func (s *feedState) ID() string    { return s.id }
func (s *feedState) Title() string { return s.title }

// Highlighted reports whether the panel is showing the new-data highlight.
func (s *feedState) Highlighted() bool { return s.highlight }

// observe records the bookkeeping of ev. It does not touch the data.
func (s *feedState) observe(ev app.FeedEvent) {
	s.err = ev.Err
	s.stale = ev.Stale
	s.fromCache = ev.FromCache
	if ev.Err == nil {
		s.loaded = s.loaded || !ev.FromCache
		if !ev.Timestamp.IsZero() {
			s.updated = ev.Timestamp
		}
	}
}

// HandleKey scrolls the panel body.
func (s *feedState) HandleKey(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "up", "k":
		if s.offset > 0 {
			s.offset--
		}
	case "down", "j":
		s.offset++
	}
	return nil
}

// status is the one-line panel header describing freshness.
func (s *feedState) status() string {
	switch {
	case s.err != nil && !s.stale:
		return errorStyle.Render(errorText(s.err) + "  (r to retry)")
	case s.err != nil:
		return warnStyle.Render("stale: " + errorText(s.err))
	case !s.loaded && !s.fromCache:
		return dimStyle.Render("loading…")
	}
	var parts []string
	if !s.updated.IsZero() {
		parts = append(parts, "updated "+age(s.nowFunc().Sub(s.updated))+" ago")
	}
	if s.fromCache {
		parts = append(parts, "cached")
	}
	if s.highlight {
		return newStyle.Render(strings.Join(append(parts, "new"), " · "))
	}
	return dimStyle.Render(strings.Join(parts, " · "))
}

// frame lays out the status line and body in exactly height lines.
func (s *feedState) frame(body []string, width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	lines := []string{s.status()}

	if s.offset > max(0, len(body)-1) {
		s.offset = max(0, len(body)-1)
	}
	for i, l := range body[min(s.offset, len(body)):] {
		if i == 0 && s.offset == 0 && s.highlight {
			l = newStyle.Render(l)
		}
		lines = append(lines, l)
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for i := range lines {
		lines[i] = components.PadRight(components.Truncate(lines[i], width), width)
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

// errorText renders user-visible errors by kind.
func errorText(err error) string {
	switch errs.KindOf(err) {
	case errs.KindNetwork:
		return "network error"
	case errs.KindSchema:
		return "unexpected response"
	case errs.KindTimeout:
		return "timed out"
	}
	return err.Error()
}

// age formats a duration compactly: 45s, 3m, 2h, 4d.
func age(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}

// Panel is a feed panel over items of type T.
type Panel[T any] struct {
	feedState
	items  []T
	render func(items []T, now time.Time) []string
}

var _ app.Widget = (*Panel[int])(nil)

// NewPanel returns a panel for feed id rendered by render.
func NewPanel[T any](id, title string, render func(items []T, now time.Time) []string) *Panel[T] {
	return &Panel[T]{
		feedState: feedState{id: id, title: title, nowFunc: time.Now},
		render:    render,
	}
}

// Items returns the data currently shown.
func (p *Panel[T]) Items() []T { return p.items }

// Update handles FeedEvent and HighlightEvent messages for this feed.
func (p *Panel[T]) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case app.FeedEvent:
		if msg.Source != p.id {
			return nil
		}
		p.observe(msg)
		if items, ok := msg.Data.([]T); ok && (msg.Err == nil || len(items) > 0) {
			p.items = items
		}
	case app.HighlightEvent:
		if msg.Source == p.id {
			p.highlight = msg.Active
		}
	}
	return nil
}

// View renders the panel content into the given area dimensions.
func (p *Panel[T]) View(width, height int) string {
	var body []string
	if len(p.items) > 0 {
		body = p.render(p.items, p.nowFunc())
	} else if p.loaded {
		body = []string{dimStyle.Render("No data")}
	}
	return p.frame(body, width, height)
}
