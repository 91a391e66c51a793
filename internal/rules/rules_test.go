package rules

import (
	"errors"
	"reflect"
	"testing"
)

func mustTable(t *testing.T, entries []Entry, policy Policy) *Table {
	t.Helper()
	tbl, err := New(entries, policy)
	if err != nil {
		t.Fatalf("New(): unexpected error: %v", err)
	}
	return tbl
}

func TestParsePattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		kind    Kind
		wantErr bool
	}{
		{"an@example.com", KindExact, false},
		{"an@", KindLocalPart, false},
		{"@example.com", KindDomain, false},
		{"_catch_all_", KindCatchAll, false},
		{"_catchall_", KindCatchAll, false},
		{"", 0, true},
		{"@", 0, true},
		{"noat", 0, true},
		{"a@b@c", 0, true},
		{"a b@example.com", 0, true},
	}

	for _, tt := range tests {
		p, err := ParsePattern(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePattern(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePattern(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if p.Kind() != tt.kind {
			t.Errorf("ParsePattern(%q): kind got %s, want %s", tt.in, p.Kind(), tt.kind)
		}
	}
}

func TestPatternMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		addr    string
		want    bool
	}{
		{"an@example.com", "an@example.com", true},
		{"an@example.com", "an@EXAMPLE.com", true},
		{"an@example.com", "AN@example.com", false},
		{"an@", "an@anything.org", true},
		{"an@", "bob.an@example.com", false},
		{"an@", "anna@example.com", false},
		{"@example.com", "other@example.com", true},
		{"@example.com", "other@Example.Com", true},
		{"@example.com", "other@sub.example.com", false},
		{"@example.com", "other@notexample.com", false},
		{"an@", "an", false},
	}

	for _, tt := range tests {
		p, err := ParsePattern(tt.pattern)
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", tt.pattern, err)
		}
		if got := p.Match(tt.addr); got != tt.want {
			t.Errorf("%q.Match(%q): got %v, want %v", tt.pattern, tt.addr, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []Entry
	}{
		{
			name:    "missing catch-all",
			entries: []Entry{{Pattern: "an@", Destinations: []string{"a@x.com"}}},
		},
		{
			name: "duplicate pattern",
			entries: []Entry{
				{Pattern: "@example.com", Destinations: []string{"a@x.com"}},
				{Pattern: "@EXAMPLE.com", Destinations: []string{"b@x.com"}},
				{Pattern: CatchAll, Destinations: []string{"z@x.com"}},
			},
		},
		{
			name: "duplicate catch-all",
			entries: []Entry{
				{Pattern: "_catch_all_", Destinations: []string{"a@x.com"}},
				{Pattern: "_catchall_", Destinations: []string{"b@x.com"}},
			},
		},
		{
			name: "empty destinations",
			entries: []Entry{
				{Pattern: "an@", Destinations: nil},
				{Pattern: CatchAll, Destinations: []string{"z@x.com"}},
			},
		},
		{
			name: "empty catch-all destinations",
			entries: []Entry{
				{Pattern: CatchAll, Destinations: []string{}},
			},
		},
		{
			name: "invalid destination",
			entries: []Entry{
				{Pattern: CatchAll, Destinations: []string{"not an address"}},
			},
		},
		{
			name: "invalid pattern",
			entries: []Entry{
				{Pattern: "no-at-sign", Destinations: []string{"a@x.com"}},
				{Pattern: CatchAll, Destinations: []string{"z@x.com"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.entries, FirstMatch)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidTable) {
				t.Errorf("error %v does not wrap ErrInvalidTable", err)
			}
		})
	}
}

func TestResolve_Scenario(t *testing.T) {
	t.Parallel()

	tbl := mustTable(t, []Entry{
		{Pattern: "an@", Destinations: []string{"A@dest.com"}},
		{Pattern: "@example.com", Destinations: []string{"A@dest.com"}},
		{Pattern: "_catchall_", Destinations: []string{"Z@dest.com"}},
	}, FirstMatch)

	if got := tbl.Resolve("an@example.com"); !reflect.DeepEqual(got, []string{"A@dest.com"}) {
		t.Errorf("an@example.com: got %v", got)
	}
	if got := tbl.Resolve("other@example.com"); !reflect.DeepEqual(got, []string{"A@dest.com"}) {
		t.Errorf("other@example.com: got %v", got)
	}
	if got := tbl.Resolve("other@managed.org"); !reflect.DeepEqual(got, []string{"Z@dest.com"}) {
		t.Errorf("other@managed.org: got %v, want catch-all", got)
	}
}

func TestResolve_ExactBeatsPrefixAndDomain(t *testing.T) {
	t.Parallel()

	// Declared in reverse precedence order on purpose.
	tbl := mustTable(t, []Entry{
		{Pattern: "@example.com", Destinations: []string{"domain@dest.com"}},
		{Pattern: "an@", Destinations: []string{"local@dest.com"}},
		{Pattern: "an@example.com", Destinations: []string{"exact@dest.com"}},
		{Pattern: CatchAll, Destinations: []string{"z@dest.com"}},
	}, FirstMatch)

	m := tbl.Lookup("an@example.com")
	if !reflect.DeepEqual(m.Destinations, []string{"exact@dest.com"}) {
		t.Errorf("destinations: got %v, want exact match", m.Destinations)
	}
	if !reflect.DeepEqual(m.Patterns, []string{"an@example.com"}) {
		t.Errorf("patterns: got %v", m.Patterns)
	}
	if m.CatchAll {
		t.Error("CatchAll: got true, want false")
	}

	if got := tbl.Resolve("an@other.org"); !reflect.DeepEqual(got, []string{"local@dest.com"}) {
		t.Errorf("an@other.org: got %v, want local-part match", got)
	}
}

func TestResolve_UnionPolicy(t *testing.T) {
	t.Parallel()

	tbl := mustTable(t, []Entry{
		{Pattern: "an@", Destinations: []string{"a@dest.com"}},
		{Pattern: "@example.com", Destinations: []string{"a@dest.com", "b@dest.com"}},
		{Pattern: CatchAll, Destinations: []string{"z@dest.com"}},
	}, UnionMatches)

	m := tbl.Lookup("an@example.com")
	if !reflect.DeepEqual(m.Destinations, []string{"a@dest.com", "b@dest.com"}) {
		t.Errorf("destinations: got %v", m.Destinations)
	}
	if len(m.Patterns) != 2 {
		t.Errorf("patterns: got %v, want 2 entries", m.Patterns)
	}

	if got := tbl.Resolve("x@unmatched.org"); !reflect.DeepEqual(got, []string{"z@dest.com"}) {
		t.Errorf("unmatched: got %v, want catch-all", got)
	}
}

func TestResolve_DeterministicAndIsolated(t *testing.T) {
	t.Parallel()

	tbl := mustTable(t, []Entry{
		{Pattern: "@example.com", Destinations: []string{"a@dest.com", "b@dest.com"}},
		{Pattern: CatchAll, Destinations: []string{"z@dest.com"}},
	}, FirstMatch)

	first := tbl.Resolve("x@example.com")
	first[0] = "mutated@dest.com"

	for i := 0; i < 3; i++ {
		got := tbl.Resolve("x@example.com")
		if !reflect.DeepEqual(got, []string{"a@dest.com", "b@dest.com"}) {
			t.Fatalf("call %d: got %v", i, got)
		}
	}
}

func TestNew_DedupesDestinations(t *testing.T) {
	t.Parallel()

	tbl := mustTable(t, []Entry{
		{Pattern: CatchAll, Destinations: []string{"Z <z@dest.com>", "z@dest.com"}},
	}, FirstMatch)

	if got := tbl.Resolve("a@b.com"); !reflect.DeepEqual(got, []string{"z@dest.com"}) {
		t.Errorf("got %v", got)
	}
	if tbl.Len() != 1 {
		t.Errorf("Len(): got %d, want 1", tbl.Len())
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	if p, err := ParsePolicy(""); err != nil || p != FirstMatch {
		t.Errorf("empty: got %v, %v", p, err)
	}
	if p, err := ParsePolicy("UNION"); err != nil || p != UnionMatches {
		t.Errorf("UNION: got %v, %v", p, err)
	}
	if _, err := ParsePolicy("all"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestDomainSet(t *testing.T) {
	t.Parallel()

	set, err := NewDomainSet([]string{"Example.com", " other.org ", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		addr string
		want bool
	}{
		{"a@example.com", true},
		{"a@EXAMPLE.COM", true},
		{"a@other.org", true},
		{"a@unmanaged.com", false},
		{"example.com", false},
		{"a@sub.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := set.IsManaged(tt.addr); got != tt.want {
			t.Errorf("IsManaged(%q): got %v, want %v", tt.addr, got, tt.want)
		}
	}

	if got := set.Domains(); !reflect.DeepEqual(got, []string{"example.com", "other.org"}) {
		t.Errorf("Domains(): got %v", got)
	}
}

func TestNewDomainSet_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewDomainSet(nil); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("empty set: got %v", err)
	}
	if _, err := NewDomainSet([]string{"user@example.com"}); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("address as domain: got %v", err)
	}
}
