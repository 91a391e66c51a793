package s3compat

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/minio/minio-go/v7"

	"github.com/shineum/ses-forwarder-lite/internal/storage"
)

const testBucket = "forwarder-test"

func newTestStore(t *testing.T, maxSize int64) *Store {
	t.Helper()

	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)

	if err := backend.CreateBucket(testBucket); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	st, err := New(StoreConfig{
		Endpoint:        ts.Listener.Addr().String(),
		AccessKeyID:     "access-key",
		SecretAccessKey: "secret-key",
		MaxObjectSize:   maxSize,
	})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	return st
}

func putObject(t *testing.T, st *Store, key string, data []byte) {
	t.Helper()
	_, err := st.cl.PutObject(context.Background(), testBucket, key,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		t.Fatalf("PutObject(%s): %v", key, err)
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := newTestStore(t, 0).Name(); got != "s3compat" {
		t.Errorf("Name(): got %q", got)
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	t.Parallel()
	if _, err := New(StoreConfig{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, 0)
	raw := []byte("From: a@example.com\r\nTo: b@example.com\r\n\r\nhello")
	putObject(t, st, "incoming/msg-1", raw)

	data, err := st.Fetch(context.Background(), testBucket, "incoming/msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, raw) {
		t.Errorf("data: got %q, want %q", data, raw)
	}
}

func TestFetch_NotFound(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, 0)
	_, err := st.Fetch(context.Background(), testBucket, "incoming/missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, 8)
	putObject(t, st, "incoming/big", bytes.Repeat([]byte("x"), 32))

	_, err := st.Fetch(context.Background(), testBucket, "incoming/big")
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Errorf("got %v, want ErrTooLarge", err)
	}
}
