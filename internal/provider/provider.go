// Package provider defines the interface for outbound delivery backends.
package provider

import (
	"context"
	"errors"

	"github.com/shineum/ses-forwarder-lite/internal/email"
)

// Delivery failure kinds. Providers wrap one of these so callers can tell
// configuration problems from temporary ones.
var (
	// ErrInvalidSender means the sender address or domain is not verified.
	ErrInvalidSender = errors.New("sender not accepted")
	// ErrThrottled means the backend refused the request due to rate limits.
	ErrThrottled = errors.New("delivery throttled")
	// ErrRejected means the backend refused the message itself.
	ErrRejected = errors.New("message rejected")
	// ErrTransient covers network and service failures.
	ErrTransient = errors.New("transient delivery failure")
)

// Provider is the interface that delivery backends must implement.
type Provider interface {
	// Send makes a single delivery attempt of msg to every address in
	// msg.Destinations(). It returns an error if the attempt fails.
	Send(ctx context.Context, msg *email.Outbound) error

	// Name returns the human-readable name of this provider.
	Name() string
}
