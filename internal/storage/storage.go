// Package storage defines how raw inbound messages are fetched from object
// storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxObjectSize is the largest message fetched by default (40 MB,
// the SES inbound limit).
const DefaultMaxObjectSize = 40 * 1024 * 1024

var (
	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrAccessDenied is returned when the credentials may not read the object.
	ErrAccessDenied = errors.New("access denied")
	// ErrTransient is returned for failures that may succeed when retried.
	ErrTransient = errors.New("transient storage failure")
	// ErrTooLarge is returned when the object exceeds the configured limit.
	ErrTooLarge = errors.New("object too large")
)

// Store fetches raw message bytes.
type Store interface {
	// Fetch returns the full content of the object at key in bucket.
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)

	// Name returns the human-readable name of this store.
	Name() string
}

// ReadLimited reads r up to limit bytes and fails with ErrTooLarge if more
// data follows. A limit <= 0 disables the check.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
