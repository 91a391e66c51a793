package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/ses-forwarder-lite/internal/dispatch"
	"github.com/shineum/ses-forwarder-lite/internal/rules"
	"github.com/shineum/ses-forwarder-lite/internal/storage"
	"github.com/shineum/ses-forwarder-lite/internal/trigger"
)

// mockEventHandler fails for the message IDs in failures.
type mockEventHandler struct {
	seen     []string
	failures map[string]error
}

func (m *mockEventHandler) HandleEvent(_ context.Context, ev trigger.Event) (dispatch.Result, error) {
	m.seen = append(m.seen, ev.MessageID)
	if err, ok := m.failures[ev.MessageID]; ok {
		return dispatch.Result{State: dispatch.StateSkipped}, err
	}
	return dispatch.Result{State: dispatch.StateSent}, nil
}

const twoRecords = `{"Records": [
  {"eventSource": "aws:ses", "ses": {"mail": {"messageId": "m1"}, "receipt": {"recipients": ["an@example.com"]}}},
  {"eventSource": "aws:ses", "ses": {"mail": {"messageId": "m2"}, "receipt": {"recipients": ["an@example.com"]}}}
]}`

func TestLambdaHandler_AllRecords(t *testing.T) {
	t.Parallel()

	h := &mockEventHandler{}
	if err := lambdaHandler(h)(context.Background(), json.RawMessage(twoRecords)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(h.seen, ",") != "m1,m2" {
		t.Errorf("seen: got %v", h.seen)
	}
}

func TestLambdaHandler_ContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	h := &mockEventHandler{failures: map[string]error{"m1": storage.ErrNotFound}}
	err := lambdaHandler(h)(context.Background(), json.RawMessage(twoRecords))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "m1") {
		t.Errorf("error should name the message: %v", err)
	}
	if len(h.seen) != 2 {
		t.Errorf("records processed: got %d, want 2", len(h.seen))
	}
}

func TestLambdaHandler_UnsupportedPayload(t *testing.T) {
	t.Parallel()

	h := &mockEventHandler{}
	err := lambdaHandler(h)(context.Background(), json.RawMessage(`{"detail-type": "Scheduled Event"}`))
	if !errors.Is(err, trigger.ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
	if len(h.seen) != 0 {
		t.Errorf("no record should be handled, got %v", h.seen)
	}
}

func TestPrintResolution(t *testing.T) {
	t.Parallel()

	table, err := rules.New([]rules.Entry{
		{Pattern: "an@", Destinations: []string{"a@dest.com"}},
		{Pattern: "@example.com", Destinations: []string{"b@dest.com"}},
		{Pattern: rules.CatchAll, Destinations: []string{"z@dest.com"}},
	}, rules.FirstMatch)
	if err != nil {
		t.Fatalf("rules.New(): %v", err)
	}
	domains, err := rules.NewDomainSet([]string{"example.com"})
	if err != nil {
		t.Fatalf("rules.NewDomainSet(): %v", err)
	}

	tests := []struct {
		addr string
		want []string
	}{
		{"an@example.com", []string{"managed:      yes", "patterns:     an@", "destinations: a@dest.com"}},
		{"other@example.com", []string{"patterns:     @example.com", "destinations: b@dest.com"}},
		{"an@elsewhere.org", []string{"managed:      no", "destinations: none"}},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		printResolution(&buf, table, domains, tt.addr)
		for _, want := range tt.want {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("%s: output missing %q:\n%s", tt.addr, want, buf.String())
			}
		}
	}
}
