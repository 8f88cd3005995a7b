package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/app"
	"github.com/caribu66/veruspulse-sub005/pkg/errs"
	"github.com/caribu66/veruspulse-sub005/pkg/throttle"
)

// DefaultSearchDelay is the quiet window before a typed query is looked up.
const DefaultSearchDelay = 300 * time.Millisecond

// searchQueryMsg is sent by the debouncer once typing pauses.
type searchQueryMsg struct{ query string }

// search is the identity lookup bar. Typing is debounced; each lookup
// cancels the one before it and results of superseded lookups are dropped.
type search struct {
	input    textinput.Model
	active   bool
	debounce *throttle.Debouncer[string]
	lookup   app.LookupFunc

	seq     uint64
	cancel  context.CancelFunc
	pending bool
	query   string
	result  *api.VerusID
	err     error
}

func newSearch(lookup app.LookupFunc, delay time.Duration, send func(tea.Msg), opts ...throttle.Option) *search {
	in := textinput.New()
	in.Prompt = "/"
	in.Placeholder = "identity name, e.g. alice@"
	in.CharLimit = 64
	return &search{
		input:  in,
		lookup: lookup,
		debounce: throttle.NewDebouncer(delay, func(q string) {
			send(searchQueryMsg{query: q})
		}, opts...),
	}
}

func (s *search) open() tea.Cmd {
	s.active = true
	return s.input.Focus()
}

// close hides the bar and abandons any pending or in-flight lookup.
func (s *search) close() {
	s.active = false
	s.input.Blur()
	s.debounce.Cancel()
	s.abort()
	s.seq++
}

func (s *search) abort() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.pending = false
}

// handleKey feeds a key into the input and debounces changes.
func (s *search) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.Type == tea.KeyEnter {
		s.debounce.Cancel()
		return s.start(s.input.Value())
	}
	before := s.input.Value()
	var cmd tea.Cmd
	s.input, cmd = s.input.Update(msg)
	if v := s.input.Value(); v != before {
		s.debounce.Trigger(v)
	}
	return cmd
}

// start cancels the previous lookup and begins one for query.
func (s *search) start(query string) tea.Cmd {
	s.abort()
	query = strings.TrimSpace(query)
	s.query = query
	s.seq++
	if query == "" || s.lookup == nil {
		s.result, s.err = nil, nil
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pending = true
	return app.SearchCmd(ctx, s.seq, query, s.lookup)
}

// finish applies a lookup result unless it was superseded.
func (s *search) finish(ev app.SearchResultEvent) {
	if ev.Seq != s.seq || errs.IsCancellation(ev.Err) {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.pending = false
	if ev.Err != nil {
		s.result, s.err = nil, ev.Err
		return
	}
	id := ev.Identity
	s.result, s.err = &id, nil
}

func (s *search) view(width int) []string {
	lines := []string{s.input.View()}
	switch {
	case s.pending:
		lines = append(lines, dimStyle.Render("looking up "+s.query+"…"))
	case s.err != nil && errs.Is(s.err, errs.KindNetwork):
		lines = append(lines, errorStyle.Render("lookup failed: network error"))
	case s.err != nil:
		lines = append(lines, errorStyle.Render("no identity "+s.query+": "+s.err.Error()))
	case s.result != nil:
		r := s.result
		name := r.FullyQualified
		if name == "" {
			name = r.Name
		}
		lines = append(lines, accentStyle.Render(name)+"  "+r.Address+"  "+r.Balance.StringFixed(4)+" VRSC")
	}
	for i := range lines {
		lines[i] = truncate(lines[i], width)
	}
	return lines
}
