// Package dispatch runs one inbound message through fetch, parse, plan,
// build and send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/shineum/ses-forwarder-lite/internal/email"
	"github.com/shineum/ses-forwarder-lite/internal/forward"
	"github.com/shineum/ses-forwarder-lite/internal/parser"
	"github.com/shineum/ses-forwarder-lite/internal/provider"
	"github.com/shineum/ses-forwarder-lite/internal/storage"
	"github.com/shineum/ses-forwarder-lite/internal/trigger"
)

// ErrNoStore is returned by HandleEvent when the Dispatcher has no storage.
var ErrNoStore = errors.New("no message store configured")

// State is the position of a message in the dispatch state machine.
type State int

const (
	StateReceived State = iota
	StateGated
	StateMatched
	StatePlanEmpty
	StatePlanNonEmpty
	StateBuilt
	StateSent
	StateSkipped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateGated:
		return "gated"
	case StateMatched:
		return "matched"
	case StatePlanEmpty:
		return "plan_empty"
	case StatePlanNonEmpty:
		return "plan_non_empty"
	case StateBuilt:
		return "built"
	case StateSent:
		return "sent"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result describes how a message left the state machine.
type Result struct {
	// State is StateSent, StatePlanEmpty or StateSkipped.
	State State
	// Plan is set once recipients were matched.
	Plan *forward.Plan
	// Outbound is set once the envelope was built.
	Outbound *email.Outbound
}

// Config holds the collaborators of a Dispatcher.
type Config struct {
	Store    storage.Store
	Provider provider.Provider
	Gate     forward.Gate
	Resolver forward.Resolver
	Builder  *forward.Builder

	// Bucket and Prefix locate messages named by SES receipt events.
	Bucket string
	Prefix string

	Logger *slog.Logger
}

// Dispatcher forwards inbound messages. It holds no per-message state and is
// safe for concurrent use.
type Dispatcher struct {
	store    storage.Store
	provider provider.Provider
	planner  *forward.Planner
	builder  *forward.Builder
	bucket   string
	prefix   string
	log      *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	builder := cfg.Builder
	if builder == nil {
		builder = forward.NewBuilder(forward.BuilderConfig{})
	}
	return &Dispatcher{
		store:    cfg.Store,
		provider: cfg.Provider,
		planner:  forward.NewPlanner(cfg.Gate, cfg.Resolver, logger),
		builder:  builder,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		log:      logger,
	}
}

// HandleEvent fetches the message named by ev and forwards it.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev trigger.Event) (res Result, err error) {
	bucket := ev.ObjectBucket(d.bucket)
	key := ev.ObjectKey(d.prefix)

	defer func() {
		if r := recover(); r != nil {
			d.log.Debug("panic stack", "stack", string(debug.Stack()))
			res, err = d.fail(StateReceived, "panic", nil, nil,
				fmt.Errorf("panic while fetching %s/%s: %v", bucket, key, r),
				"source", string(ev.Source), "key", key)
		}
	}()

	if d.store == nil {
		return d.fail(StateReceived, "fetch", nil, nil, ErrNoStore,
			"source", string(ev.Source), "key", key)
	}

	raw, err := d.store.Fetch(ctx, bucket, key)
	if err != nil {
		return d.fail(StateReceived, "fetch", nil, nil,
			fmt.Errorf("failed to fetch %s/%s: %w", bucket, key, err),
			"source", string(ev.Source), "store", d.store.Name(), "bucket", bucket, "key", key)
	}

	d.log.Debug("message fetched",
		"source", string(ev.Source),
		"bucket", bucket,
		"key", key,
		"size", len(raw),
	)

	return d.Forward(ctx, raw, ev.Recipients)
}

// Forward processes one raw message. envelope lists the envelope recipients
// of the delivery, if known. The transport is called at most once.
func (d *Dispatcher) Forward(ctx context.Context, raw []byte, envelope []string) (res Result, err error) {
	state := StateReceived
	var plan *forward.Plan

	defer func() {
		if r := recover(); r != nil {
			d.log.Debug("panic stack", "stack", string(debug.Stack()))
			res, err = d.fail(state, "panic", plan, nil, fmt.Errorf("panic while forwarding: %v", r))
		}
	}()

	msg, err := parser.ParseWithLogger(raw, d.log)
	if err != nil {
		return d.fail(state, "parse", nil, nil, err, "size", len(raw))
	}

	recipients := forward.Extract(msg, envelope)
	state = StateGated

	plan = d.planner.Plan(recipients)
	state = StateMatched
	gatedRecipients.WithLabelValues("managed").Add(float64(len(plan.Intended)))
	gatedRecipients.WithLabelValues("skipped").Add(float64(len(plan.Skipped)))

	if plan.Empty() {
		skippedMessages.WithLabelValues("no_managed_recipients").Inc()
		d.log.Info("no managed recipients, nothing forwarded",
			"state", StatePlanEmpty.String(),
			"message_id", msg.MessageID,
			"recipients", len(recipients),
			"skipped", len(plan.Skipped),
		)
		return Result{State: StatePlanEmpty, Plan: plan}, nil
	}
	state = StatePlanNonEmpty

	out, err := d.builder.Build(msg, plan)
	if err != nil {
		return d.fail(state, "build", plan, nil, err, "message_id", msg.MessageID)
	}
	state = StateBuilt

	if err := d.provider.Send(ctx, out); err != nil {
		return d.fail(state, "send", plan, out,
			fmt.Errorf("%s: %w", d.provider.Name(), err),
			"message_id", msg.MessageID, "provider", d.provider.Name())
	}

	forwardedMessages.Inc()
	forwardedDestinations.Add(float64(len(out.Destinations())))
	d.log.Info("message forwarded",
		"state", StateSent.String(),
		"message_id", msg.MessageID,
		"trigger_domain", plan.TriggerDomain,
		"sender", out.Sender,
		"to", len(out.To),
		"cc", len(out.Cc),
		"bcc", len(out.Bcc),
		"provider", d.provider.Name(),
	)
	return Result{State: StateSent, Plan: plan, Outbound: out}, nil
}

// fail records a transition to StateSkipped from state.
func (d *Dispatcher) fail(from State, stage string, plan *forward.Plan, out *email.Outbound, err error, attrs ...any) (Result, error) {
	failedMessages.WithLabelValues(stage).Inc()

	args := append([]any{
		"state", StateSkipped.String(),
		"from_state", from.String(),
		"stage", stage,
		"error", err,
	}, attrs...)
	d.log.Error("message skipped", args...)

	return Result{State: StateSkipped, Plan: plan, Outbound: out}, err
}
