package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/ses-forwarder-lite/internal/dispatch"
	"github.com/shineum/ses-forwarder-lite/internal/trigger"
)

// eventHandler is the part of the Dispatcher the Lambda handler needs.
type eventHandler interface {
	HandleEvent(ctx context.Context, ev trigger.Event) (dispatch.Result, error)
}

// lambdaHandler returns the Lambda entry point. Every record of the payload
// is processed; the failures of all records are returned together so one
// bad message does not hide the others.
func lambdaHandler(h eventHandler) func(context.Context, json.RawMessage) error {
	return func(ctx context.Context, payload json.RawMessage) error {
		events, err := trigger.Decode(payload)
		if err != nil {
			slog.Error("failed to decode trigger event", "error", err)
			return err
		}

		var errs []error
		for _, ev := range events {
			res, err := h.HandleEvent(ctx, ev)
			if err != nil {
				errs = append(errs, fmt.Errorf("message %s: %w", ev.MessageID, err))
				continue
			}
			slog.Debug("record processed",
				"source", string(ev.Source),
				"message_id", ev.MessageID,
				"state", res.State.String(),
			)
		}
		return errors.Join(errs...)
	}
}
