package parser

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: Original Sender <sender@example.com>",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From.Address != "sender@example.com" {
		t.Errorf("From.Address: got %q, want %q", msg.From.Address, "sender@example.com")
	}
	if msg.From.Name != "Original Sender" {
		t.Errorf("From.Name: got %q, want %q", msg.From.Name, "Original Sender")
	}
	if len(msg.To) != 1 || msg.To[0].Address != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "<test123@example.com>")
	}
	if msg.ReplyTo != "" {
		t.Errorf("ReplyTo: got %q, want empty", msg.ReplyTo)
	}
	if string(msg.Raw) != string(raw) {
		t.Error("Raw does not match the input bytes")
	}
}

func TestParseKeepsOwnCopy(t *testing.T) {
	t.Parallel()

	raw := []byte("From: a@example.com\r\nTo: b@example.com\r\n\r\nbody")
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw[0] = 'X'
	if msg.Raw[0] != 'F' {
		t.Error("message Raw shares memory with the input slice")
	}
}

func TestParseMultipleRecipients(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: Alice <alice@example.com>, bob@example.com",
		"Cc: carol@example.com",
		"Bcc: dave@example.com, Eve <eve@example.com>",
		"Reply-To: replies@example.com",
		"Subject: Multi",
		"",
		"body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.To) != 2 {
		t.Fatalf("To: got %d recipients, want 2", len(msg.To))
	}
	if msg.To[0].Name != "Alice" || msg.To[0].Address != "alice@example.com" {
		t.Errorf("To[0]: got %+v", msg.To[0])
	}
	if len(msg.Cc) != 1 || msg.Cc[0].Address != "carol@example.com" {
		t.Errorf("Cc: got %v", msg.Cc)
	}
	if len(msg.Bcc) != 2 || msg.Bcc[1].Address != "eve@example.com" {
		t.Errorf("Bcc: got %v", msg.Bcc)
	}
	if msg.ReplyTo != "replies@example.com" {
		t.Errorf("ReplyTo: got %q", msg.ReplyTo)
	}
}

func TestParseRepeatedAddressFields(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: first@example.com",
		"To: second@example.com",
		"",
		"body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.To) != 2 {
		t.Errorf("To: got %v, want both occurrences", msg.To)
	}
}

func TestParseEmptyAddressFields(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Cc: ",
		"Subject: No CC",
		"",
		"body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Cc) != 0 {
		t.Errorf("Cc: got %v, want empty", msg.Cc)
	}
	if len(msg.Bcc) != 0 {
		t.Errorf("Bcc: got %v, want empty", msg.Bcc)
	}
}

func TestParseEncodedSubject(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: =?UTF-8?B?SGVsbG8gV29ybGQ=?=",
		"",
		"body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "Hello World" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Hello World")
	}
}

func TestSplitAddressList_Fallback(t *testing.T) {
	t.Parallel()

	got := splitAddressList("good@example.com, <also@example.com>, broken name here,", slog.Default())
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 addresses", got)
	}
	if got[0].Address != "good@example.com" || got[1].Address != "also@example.com" {
		t.Errorf("got %v", got)
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "  \r\n "},
		{"not a header", "this is not an email\r\n\r\nbody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error %v does not wrap ErrMalformed", err)
			}
		})
	}
}

func TestParseWithLogger_UsesInjectedLogger(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: =?x-bogus?q?hi?=",
		"",
		"body",
	}, "\r\n"))

	msg, err := ParseWithLogger(raw, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "=?x-bogus?q?hi?=" {
		t.Errorf("Subject: got %q, want raw value", msg.Subject)
	}
	if !strings.Contains(logs.String(), "failed to decode subject") {
		t.Errorf("warning not written to the injected logger: %q", logs.String())
	}
}
