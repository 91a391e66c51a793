package rules

import (
	"fmt"
	"strings"
)

// CatchAll is the reserved pattern applied when nothing else matches.
const CatchAll = "_catch_all_"

// catchAllAlias is accepted in configuration as a spelling of CatchAll.
const catchAllAlias = "_catchall_"

// Kind classifies a pattern by its syntax.
type Kind int

const (
	// KindExact matches one full address, e.g. "an@example.com".
	KindExact Kind = iota
	// KindLocalPart matches a local part on any domain, e.g. "an@".
	KindLocalPart
	// KindDomain matches every address of a domain, e.g. "@example.com".
	KindDomain
	// KindCatchAll is the catch-all sentinel.
	KindCatchAll
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindLocalPart:
		return "local-part"
	case KindDomain:
		return "domain"
	case KindCatchAll:
		return "catch-all"
	default:
		return "unknown"
	}
}

// Pattern is a classified rule pattern. The domain is stored lower-cased, the
// local part as written.
type Pattern struct {
	raw    string
	kind   Kind
	local  string
	domain string
}

// ParsePattern classifies s as an exact address, local-part, domain or
// catch-all pattern.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	if s == CatchAll || s == catchAllAlias {
		return Pattern{raw: s, kind: KindCatchAll}, nil
	}
	if s == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	if strings.ContainsAny(s, " \t\r\n<>,") {
		return Pattern{}, fmt.Errorf("pattern %q contains invalid characters", s)
	}
	if strings.Count(s, "@") != 1 {
		return Pattern{}, fmt.Errorf("pattern %q must contain exactly one '@'", s)
	}

	at := strings.IndexByte(s, '@')
	local, domain := s[:at], strings.ToLower(s[at+1:])

	p := Pattern{raw: s, local: local, domain: domain}
	switch {
	case local == "" && domain == "":
		return Pattern{}, fmt.Errorf("pattern %q has neither local part nor domain", s)
	case local == "":
		p.kind = KindDomain
	case domain == "":
		p.kind = KindLocalPart
	default:
		p.kind = KindExact
	}
	return p, nil
}

// String returns the pattern as it was configured.
func (p Pattern) String() string {
	return p.raw
}

// Kind returns the pattern's classification.
func (p Pattern) Kind() Kind {
	return p.kind
}

// key identifies a pattern for duplicate detection.
func (p Pattern) key() string {
	return fmt.Sprintf("%d|%s|%s", p.kind, p.local, p.domain)
}

// Match reports whether addr is matched by the pattern. The local part is
// compared case-sensitively and the domain case-insensitively. The catch-all
// pattern matches nothing here; Table applies it separately.
func (p Pattern) Match(addr string) bool {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return false
	}
	local, domain := addr[:at], addr[at+1:]

	switch p.kind {
	case KindExact:
		return local == p.local && strings.EqualFold(domain, p.domain)
	case KindLocalPart:
		return local == p.local
	case KindDomain:
		return strings.EqualFold(domain, p.domain)
	default:
		return false
	}
}
