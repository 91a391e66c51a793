// Package rules implements the forwarding rule table and the managed-domain
// gate applied before it.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// ErrInvalidTable is wrapped by every rule table construction error.
var ErrInvalidTable = errors.New("invalid rule table")

// Policy controls how matching patterns are combined.
type Policy int

const (
	// FirstMatch returns the destinations of the highest-precedence match.
	FirstMatch Policy = iota
	// UnionMatches merges the destinations of every matching pattern.
	UnionMatches
)

// ParsePolicy converts a configuration value into a Policy. An empty string
// selects FirstMatch.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return FirstMatch, nil
	case "union":
		return UnionMatches, nil
	default:
		return FirstMatch, fmt.Errorf("unknown match policy %q", s)
	}
}

// String returns the configuration name of the policy.
func (p Policy) String() string {
	if p == UnionMatches {
		return "union"
	}
	return "first"
}

// Entry is one configured rule before validation.
type Entry struct {
	Pattern      string
	Destinations []string
}

type rule struct {
	pattern      Pattern
	destinations []string
}

// Table is an immutable, validated rule table.
type Table struct {
	rules    []rule
	catchAll []string
	policy   Policy
}

// Match describes the outcome of a lookup.
type Match struct {
	// Patterns lists the patterns that contributed, in precedence order.
	Patterns     []string
	Destinations []string
	CatchAll     bool
}

// New validates entries and builds a Table. Entries must contain exactly one
// catch-all, no duplicate patterns and only non-empty destination lists of
// valid addresses.
func New(entries []Entry, policy Policy) (*Table, error) {
	t := &Table{policy: policy}
	seen := make(map[string]string, len(entries))
	haveCatchAll := false

	for i, e := range entries {
		p, err := ParsePattern(e.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidTable, i, err)
		}

		if prev, ok := seen[p.key()]; ok {
			return nil, fmt.Errorf("%w: rule %d: pattern %q duplicates %q", ErrInvalidTable, i, e.Pattern, prev)
		}
		seen[p.key()] = e.Pattern

		dest, err := normalizeDestinations(e.Destinations)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d (%s): %v", ErrInvalidTable, i, e.Pattern, err)
		}

		if p.Kind() == KindCatchAll {
			haveCatchAll = true
			t.catchAll = dest
			continue
		}
		t.rules = append(t.rules, rule{pattern: p, destinations: dest})
	}

	if !haveCatchAll {
		return nil, fmt.Errorf("%w: missing %s rule", ErrInvalidTable, CatchAll)
	}
	return t, nil
}

func normalizeDestinations(list []string) ([]string, error) {
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, raw := range list {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid destination %q: %v", raw, err)
		}
		if _, ok := seen[addr.Address]; ok {
			continue
		}
		seen[addr.Address] = struct{}{}
		out = append(out, addr.Address)
	}
	if len(out) == 0 {
		return nil, errors.New("no destinations")
	}
	return out, nil
}

// Policy returns the table's match policy.
func (t *Table) Policy() Policy {
	return t.policy
}

// Len returns the number of rules including the catch-all.
func (t *Table) Len() int {
	return len(t.rules) + 1
}

// Resolve returns the destinations for addr. The result is never empty: when
// no pattern matches, the catch-all destinations are returned.
func (t *Table) Resolve(addr string) []string {
	return t.Lookup(addr).Destinations
}

// Lookup resolves addr and reports which patterns were applied.
//
// Exact patterns take precedence over local-part patterns, which take
// precedence over domain patterns. Within a kind the configured order is
// kept. Under FirstMatch the first matching pattern wins outright.
func (t *Table) Lookup(addr string) Match {
	var (
		m    Match
		seen map[string]struct{}
	)

	for _, kind := range []Kind{KindExact, KindLocalPart, KindDomain} {
		for _, r := range t.rules {
			if r.pattern.Kind() != kind || !r.pattern.Match(addr) {
				continue
			}
			if t.policy == FirstMatch {
				return Match{
					Patterns:     []string{r.pattern.String()},
					Destinations: clone(r.destinations),
				}
			}

			if seen == nil {
				seen = make(map[string]struct{})
			}
			m.Patterns = append(m.Patterns, r.pattern.String())
			for _, d := range r.destinations {
				if _, ok := seen[d]; ok {
					continue
				}
				seen[d] = struct{}{}
				m.Destinations = append(m.Destinations, d)
			}
		}
	}

	if len(m.Destinations) > 0 {
		return m
	}
	return Match{
		Patterns:     []string{CatchAll},
		Destinations: clone(t.catchAll),
		CatchAll:     true,
	}
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
