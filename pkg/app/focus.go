package app

import tea "github.com/charmbracelet/bubbletea"

// FocusRing tracks which panel has keyboard focus.
type FocusRing struct {
	order []string
	idx   int
}

// NewFocusRing focuses the first id.
func NewFocusRing(ids ...string) *FocusRing {
	return &FocusRing{order: ids}
}

// Current returns the focused id, or "" when the ring is empty.
func (f *FocusRing) Current() string {
	if len(f.order) == 0 {
		return ""
	}
	return f.order[f.idx]
}

// Next moves focus forward, wrapping after the last id.
func (f *FocusRing) Next() {
	if len(f.order) == 0 {
		return
	}
	f.idx = (f.idx + 1) % len(f.order)
}

// Prev moves focus backward, wrapping before the first id.
func (f *FocusRing) Prev() {
	if len(f.order) == 0 {
		return
	}
	f.idx = (f.idx - 1 + len(f.order)) % len(f.order)
}

// Focus sets focus to id. Unknown ids leave focus unchanged.
func (f *FocusRing) Focus(id string) bool {
	for i, o := range f.order {
		if o == id {
			f.idx = i
			return true
		}
	}
	return false
}

// Widget is one dashboard panel.
type Widget interface {
	ID() string
	Title() string
	Update(msg tea.Msg) tea.Cmd
	View(width, height int) string
}
