// Package trigger unpacks Lambda invocation payloads into the messages the
// forwarder has to process.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-lambda-go/events"
)

// ErrUnsupported is returned for payloads that are neither SES receipt nor
// S3 notification events.
var ErrUnsupported = errors.New("unsupported trigger event")

// Source names where an Event came from.
type Source string

const (
	SourceSES  Source = "ses"
	SourceS3   Source = "s3"
	SourceSMTP Source = "smtp"
)

// Event names one stored message to forward.
type Event struct {
	Source    Source
	MessageID string

	// Bucket and Key locate the stored message. Both are empty for SES
	// events, in which case the configured bucket and key prefix apply.
	Bucket string
	Key    string

	// Recipients are the envelope recipients of the delivery, when known.
	Recipients []string
}

// ObjectKey returns the storage key of the message: Key when set, otherwise
// prefix followed by the message ID.
func (e Event) ObjectKey(prefix string) string {
	if e.Key != "" {
		return e.Key
	}
	return prefix + e.MessageID
}

// ObjectBucket returns Bucket when set, otherwise fallback.
func (e Event) ObjectBucket(fallback string) string {
	if e.Bucket != "" {
		return e.Bucket
	}
	return fallback
}

type envelope struct {
	Records []json.RawMessage `json:"Records"`
}

type recordProbe struct {
	EventSource string          `json:"eventSource"`
	SES         json.RawMessage `json:"ses"`
	S3          json.RawMessage `json:"s3"`
}

// Decode parses a Lambda payload. Each record becomes one Event.
func Decode(payload []byte) ([]Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if len(env.Records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrUnsupported)
	}

	out := make([]Event, 0, len(env.Records))
	for i, raw := range env.Records {
		ev, err := decodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeRecord(raw json.RawMessage) (Event, error) {
	var probe recordProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	source := probe.EventSource
	switch {
	case source == "aws:ses" || (source == "" && len(probe.SES) > 0):
		var rec events.SimpleEmailRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Event{}, fmt.Errorf("%w: ses record: %v", ErrUnsupported, err)
		}
		if rec.SES.Mail.MessageID == "" {
			return Event{}, fmt.Errorf("%w: ses record without message id", ErrUnsupported)
		}
		return Event{
			Source:     SourceSES,
			MessageID:  rec.SES.Mail.MessageID,
			Recipients: rec.SES.Receipt.Recipients,
		}, nil

	case source == "aws:s3" || (source == "" && len(probe.S3) > 0):
		var rec events.S3EventRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Event{}, fmt.Errorf("%w: s3 record: %v", ErrUnsupported, err)
		}
		key := rec.S3.Object.URLDecodedKey
		if key == "" {
			key = rec.S3.Object.Key
		}
		if rec.S3.Bucket.Name == "" || key == "" {
			return Event{}, fmt.Errorf("%w: s3 record without bucket or key", ErrUnsupported)
		}
		return Event{
			Source:    SourceS3,
			MessageID: path.Base(key),
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
		}, nil

	default:
		return Event{}, fmt.Errorf("%w: event source %q", ErrUnsupported, source)
	}
}
