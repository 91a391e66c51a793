package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shineum/ses-forwarder-lite/internal/email"
)

// DomainSet is the immutable set of domains the forwarder is authoritative
// for. Domains are compared case-insensitively.
type DomainSet struct {
	domains map[string]struct{}
}

// NewDomainSet builds a DomainSet. At least one domain is required.
func NewDomainSet(domains []string) (*DomainSet, error) {
	set := &DomainSet{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if strings.ContainsAny(d, "@ \t") {
			return nil, fmt.Errorf("%w: invalid managed domain %q", ErrInvalidTable, d)
		}
		set.domains[d] = struct{}{}
	}
	if len(set.domains) == 0 {
		return nil, fmt.Errorf("%w: no managed domains", ErrInvalidTable)
	}
	return set, nil
}

// IsManaged reports whether the domain of addr (the part after the last '@')
// is in the set. Addresses without '@' are never managed.
func (s *DomainSet) IsManaged(addr string) bool {
	if !strings.Contains(addr, "@") {
		return false
	}
	return s.Contains(email.DomainOf(addr))
}

// Contains reports whether domain is in the set.
func (s *DomainSet) Contains(domain string) bool {
	_, ok := s.domains[strings.ToLower(domain)]
	return ok
}

// Domains returns the managed domains in sorted order.
func (s *DomainSet) Domains() []string {
	out := make([]string, 0, len(s.domains))
	for d := range s.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
