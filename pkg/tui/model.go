// Package tui is the interactive dashboard: one panel per feed, an
// identity search bar, and key bindings for focus, retry, and quit.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/caribu66/veruspulse-sub005/pkg/app"
	"github.com/caribu66/veruspulse-sub005/pkg/throttle"
)

// tickEvery refreshes relative ages ("updated 5s ago").
const tickEvery = time.Second

// Options configures New.
type Options struct {
	// Widgets are laid out two per row in order.
	Widgets []app.Widget

	// Lookup resolves identity searches. Nil disables search.
	Lookup app.LookupFunc

	// Refresh retries the feed behind a widget id.
	Refresh func(id string) error

	SearchDelay time.Duration
	// Debounce options, e.g. a fake clock in tests.
	SearchOptions []throttle.Option

	Logger *slog.Logger
}

// keyHandler is implemented by panels that scroll.
type keyHandler interface {
	HandleKey(tea.KeyMsg) tea.Cmd
}

// Model is the root bubbletea model.
type Model struct {
	widgets []app.Widget
	byID    map[string]app.Widget
	focus   *app.FocusRing
	search  *search
	spinner spinner.Model
	refresh func(id string) error
	log     *slog.Logger

	width, height int
	status        string

	snd *sender
}

// sender holds the program reference so the debouncer, which fires on its
// own goroutine, can post messages.
type sender struct {
	send func(tea.Msg)
}

func (s *sender) post(msg tea.Msg) {
	if s.send != nil {
		s.send(msg)
	}
}

// New builds the model. Call SetSender (or use NewProgram) before starting the
// program so debounced searches can be delivered.
func New(opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.SearchDelay <= 0 {
		opts.SearchDelay = DefaultSearchDelay
	}

	ids := make([]string, 0, len(opts.Widgets))
	byID := make(map[string]app.Widget, len(opts.Widgets))
	for _, w := range opts.Widgets {
		ids = append(ids, w.ID())
		byID[w.ID()] = w
	}

	snd := &sender{}
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = accentStyle

	m := &Model{
		widgets: opts.Widgets,
		byID:    byID,
		focus:   app.NewFocusRing(ids...),
		spinner: sp,
		refresh: opts.Refresh,
		log:     opts.Logger,
		snd:     snd,
	}
	if opts.Lookup != nil {
		m.search = newSearch(opts.Lookup, opts.SearchDelay, snd.post, opts.SearchOptions...)
	}
	return m
}

// SetSender wires the program's Send.
func (m *Model) SetSender(send func(tea.Msg)) { m.snd.send = send }

// Focused returns the id of the focused panel.
func (m *Model) Focused() string { return m.focus.Current() }

// Status returns the status-bar message.
func (m *Model) Status() string { return m.status }

// Init starts the spinner and the age ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, app.TickCmd(tickEvery))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case app.FeedEvent, app.HighlightEvent:
		var cmds []tea.Cmd
		for _, w := range m.widgets {
			cmds = append(cmds, w.Update(msg))
		}
		return m, tea.Batch(cmds...)

	case searchQueryMsg:
		if m.search == nil || !m.search.active {
			return m, nil
		}
		return m, m.search.start(msg.query)

	case app.SearchResultEvent:
		if m.search != nil {
			m.search.finish(msg)
		}
		return m, nil

	case app.TickEvent:
		return m, app.TickCmd(tickEvery)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.Type == tea.KeyCtrlC {
		m.shutdown()
		return tea.Quit
	}

	if m.search != nil && m.search.active {
		if msg.Type == tea.KeyEsc {
			m.search.close()
			return nil
		}
		return m.search.handleKey(msg)
	}

	switch msg.String() {
	case "q":
		m.shutdown()
		return tea.Quit
	case "tab":
		m.focus.Next()
	case "shift+tab":
		m.focus.Prev()
	case "/":
		if m.search != nil {
			return m.search.open()
		}
	case "r":
		m.retry(m.focus.Current())
	case "R":
		for _, w := range m.widgets {
			m.retry(w.ID())
		}
		m.status = "refreshing all feeds"
	default:
		if kh, ok := m.byID[m.focus.Current()].(keyHandler); ok {
			return kh.HandleKey(msg)
		}
	}
	return nil
}

func (m *Model) retry(id string) {
	if m.refresh == nil || id == "" {
		return
	}
	if err := m.refresh(id); err != nil {
		m.status = fmt.Sprintf("refresh %s: %v", id, err)
		m.log.Debug("refresh failed", "feed", id, "error", err)
		return
	}
	m.status = "refreshing " + id
}

func (m *Model) shutdown() {
	if m.search != nil {
		m.search.close()
	}
}

// NewProgram returns a program running m whose Send is wired into m.
// Pass the program to app.NewProgramSink to feed the panels.
func NewProgram(ctx context.Context, m *Model) *tea.Program {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.SetSender(p.Send)
	return p
}
