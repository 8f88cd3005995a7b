// Package merge combines a live and a historical snapshot of the same
// record into one view-model using a per-field precedence table.
package merge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Precedence selects which source wins for a field.
type Precedence int

const (
	// PreferLive uses live, then historical, then the default.
	PreferLive Precedence = iota + 1
	// PreferHistorical uses historical, then live, then the default.
	PreferHistorical
)

func (p Precedence) String() string {
	switch p {
	case PreferLive:
		return "prefer-live"
	case PreferHistorical:
		return "prefer-historical"
	}
	return fmt.Sprintf("precedence(%d)", int(p))
}

// Source records where a merged value came from.
type Source string

const (
	SourceLive       Source = "live"
	SourceHistorical Source = "historical"
	SourceDefault    Source = "default"
)

// Rule is the precedence for a single field.
type Rule struct {
	Field      string
	Precedence Precedence
	Default    any
}

// Live is shorthand for a PreferLive rule.
func Live(field string, def any) Rule {
	return Rule{Field: field, Precedence: PreferLive, Default: def}
}

// Historical is shorthand for a PreferHistorical rule.
func Historical(field string, def any) Rule {
	return Rule{Field: field, Precedence: PreferHistorical, Default: def}
}

// Table is a validated set of rules, one per field.
type Table struct {
	rules []Rule
}

// NewTable validates rules and returns a Table. Every field name must be
// non-empty and unique and every precedence must be known.
func NewTable(rules ...Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, errors.New("merge table: no rules")
	}
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Field == "" {
			return nil, fmt.Errorf("merge table: rule %d: empty field name", i)
		}
		if seen[r.Field] {
			return nil, fmt.Errorf("merge table: duplicate field %q", r.Field)
		}
		if r.Precedence != PreferLive && r.Precedence != PreferHistorical {
			return nil, fmt.Errorf("merge table: field %q: unknown %s", r.Field, r.Precedence)
		}
		seen[r.Field] = true
	}
	sorted := append([]Rule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })
	return &Table{rules: sorted}, nil
}

// MustTable is like NewTable but panics on an invalid table. It is meant
// for package-level tables.
func MustTable(rules ...Rule) *Table {
	t, err := NewTable(rules...)
	if err != nil {
		panic(err)
	}
	return t
}

// Fields returns the table's field names in sorted order.
func (t *Table) Fields() []string {
	out := make([]string, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.Field
	}
	return out
}

// Rule returns the rule for field.
func (t *Table) Rule(field string) (Rule, bool) {
	i := sort.Search(len(t.rules), func(i int) bool { return t.rules[i].Field >= field })
	if i < len(t.rules) && t.rules[i].Field == field {
		return t.rules[i], true
	}
	return Rule{}, false
}

// ViewModel is the merged result. Values holds one entry per table field
// and Sources records which input supplied it.
type ViewModel struct {
	Values  map[string]any    `json:"values"`
	Sources map[string]Source `json:"sources"`
}

// Get returns the merged value for field.
func (vm ViewModel) Get(field string) any {
	return vm.Values[field]
}

// Source returns which input supplied field.
func (vm ViewModel) Source(field string) Source {
	return vm.Sources[field]
}

// Merge resolves every field of t from live and historical. Fields missing
// from an input or holding nil count as absent. Fields not named in t are
// ignored. Merge does not modify its inputs.
func Merge(live, historical map[string]any, t *Table) ViewModel {
	vm := ViewModel{
		Values:  make(map[string]any, len(t.rules)),
		Sources: make(map[string]Source, len(t.rules)),
	}
	for _, r := range t.rules {
		first, second := live, historical
		firstSrc, secondSrc := SourceLive, SourceHistorical
		if r.Precedence == PreferHistorical {
			first, second = historical, live
			firstSrc, secondSrc = SourceHistorical, SourceLive
		}

		if v, ok := present(first, r.Field); ok {
			vm.Values[r.Field], vm.Sources[r.Field] = v, firstSrc
		} else if v, ok := present(second, r.Field); ok {
			vm.Values[r.Field], vm.Sources[r.Field] = v, secondSrc
		} else {
			vm.Values[r.Field], vm.Sources[r.Field] = r.Default, SourceDefault
		}
	}
	return vm
}

func present(m map[string]any, field string) (any, bool) {
	v, ok := m[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Pick resolves a single typed value by precedence.
func Pick[T any](p Precedence, live, historical *T, def T) (T, Source) {
	first, second := live, historical
	firstSrc, secondSrc := SourceLive, SourceHistorical
	if p == PreferHistorical {
		first, second = historical, live
		firstSrc, secondSrc = SourceHistorical, SourceLive
	}
	switch {
	case first != nil:
		return *first, firstSrc
	case second != nil:
		return *second, secondSrc
	}
	return def, SourceDefault
}

// ToMap converts a JSON-encodable record into the field map Merge expects.
// A nil record yields a nil map, which Merge treats as entirely absent.
func ToMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}
	return m, nil
}
