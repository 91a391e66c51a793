package forward

import (
	"log/slog"

	"github.com/shineum/ses-forwarder-lite/internal/email"
)

// Resolver maps one managed recipient address to its destinations.
type Resolver interface {
	Resolve(addr string) []string
}

// Gate decides whether a recipient belongs to a managed domain.
type Gate interface {
	IsManaged(addr string) bool
}

// Plan holds the forwarding destinations per original header field.
type Plan struct {
	To  []string
	Cc  []string
	Bcc []string

	// TriggerDomain is the domain of the first managed recipient, in
	// To, Cc, Bcc order. The envelope sender is built on it.
	TriggerDomain string

	// Intended lists the managed recipients the plan was built for.
	Intended []email.Recipient

	// Skipped lists recipients outside the managed domains.
	Skipped []email.Recipient
}

// Empty reports whether the plan has no destination at all.
func (p *Plan) Empty() bool {
	return len(p.To) == 0 && len(p.Cc) == 0 && len(p.Bcc) == 0
}

// Destinations returns the union of the To, Cc and Bcc sets.
func (p *Plan) Destinations() []string {
	out := &set{}
	out.add(p.To...)
	out.add(p.Cc...)
	out.add(p.Bcc...)
	return out.items
}

// Planner builds Plans from extracted recipients.
type Planner struct {
	gate     Gate
	resolver Resolver
	log      *slog.Logger
}

// NewPlanner creates a Planner. A nil logger selects slog.Default().
func NewPlanner(gate Gate, resolver Resolver, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{gate: gate, resolver: resolver, log: logger}
}

// Plan gates each recipient, resolves the managed ones and unions the
// results into the set of the field the recipient came from. The three sets
// are independent; the delivery list is deduplicated by the Outbound.
func (p *Planner) Plan(recipients []email.Recipient) *Plan {
	plan := &Plan{}
	var to, cc, bcc set

	for _, r := range recipients {
		if !p.gate.IsManaged(r.Address.Address) {
			p.log.Debug("recipient outside managed domains, skipped",
				"recipient", r.Address.Address,
				"field", r.Field.String(),
			)
			plan.Skipped = append(plan.Skipped, r)
			continue
		}

		dest := p.resolver.Resolve(r.Address.Address)
		if len(dest) == 0 {
			continue
		}

		switch r.Field {
		case email.FieldTo:
			to.add(dest...)
		case email.FieldCc:
			cc.add(dest...)
		case email.FieldBcc:
			bcc.add(dest...)
		}

		if plan.TriggerDomain == "" {
			plan.TriggerDomain = r.Address.Domain()
		}
		plan.Intended = append(plan.Intended, r)
	}

	plan.To, plan.Cc, plan.Bcc = to.items, cc.items, bcc.items
	return plan
}

// set is an insertion-ordered string set.
type set struct {
	items []string
	index map[string]struct{}
}

func (s *set) add(values ...string) {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	for _, v := range values {
		if _, ok := s.index[v]; ok {
			continue
		}
		s.index[v] = struct{}{}
		s.items = append(s.items, v)
	}
}
