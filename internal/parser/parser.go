// Package parser reads raw RFC 5322 messages into the forwarder's message
// model. Only the header is interpreted; the body is kept as raw bytes so the
// message can be embedded unchanged.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/ses-forwarder-lite/internal/email"
)

// ErrMalformed is wrapped by every parse failure.
var ErrMalformed = errors.New("malformed message")

// Parse parses raw into an email.Message, logging through slog.Default().
// The returned message keeps its own copy of raw.
func Parse(raw []byte) (*email.Message, error) {
	return ParseWithLogger(raw, slog.Default())
}

// ParseWithLogger is Parse with the logger used for recoverable header
// problems. A nil logger selects slog.Default().
func ParseWithLogger(raw []byte, logger *slog.Logger) (*email.Message, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if entity.Header.Len() == 0 {
		return nil, fmt.Errorf("%w: no header fields", ErrMalformed)
	}

	h := mail.Header{Header: entity.Header}

	result := &email.Message{
		ReplyTo:   h.Get("Reply-To"),
		MessageID: strings.TrimSpace(h.Get("Message-Id")),
		Raw:       append([]byte(nil), raw...),
	}

	subject, err := h.Subject()
	if err != nil {
		logger.Warn("failed to decode subject, using raw value", "error", err)
		subject = h.Get("Subject")
	}
	result.Subject = subject

	if from := parseAddressList(h, "From", logger); len(from) > 0 {
		result.From = from[0]
	}
	result.To = parseAddressList(h, "To", logger)
	result.Cc = parseAddressList(h, "Cc", logger)
	result.Bcc = parseAddressList(h, "Bcc", logger)

	return result, nil
}

// parseAddressList returns the addresses of every occurrence of the named
// header field.
func parseAddressList(h mail.Header, key string, logger *slog.Logger) []email.Address {
	var result []email.Address

	fields := h.FieldsByKey(key)
	for fields.Next() {
		// Encoded words are decoded by the address parser itself.
		result = append(result, splitAddressList(fields.Value(), logger)...)
	}

	return result
}

// splitAddressList parses a comma-separated address list.
func splitAddressList(raw string, logger *slog.Logger) []email.Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to a plain comma split, keeping anything that looks like
		// an address.
		logger.Debug("failed to parse address list, falling back to comma split",
			"value", raw,
			"error", err,
		)
		parts := strings.Split(raw, ",")
		result := make([]email.Address, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.Trim(strings.TrimSpace(p), "<>")
			if strings.Contains(trimmed, "@") && !strings.ContainsAny(trimmed, " \t") {
				result = append(result, email.Address{Address: trimmed})
			}
		}
		return result
	}

	result := make([]email.Address, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, email.Address{Name: addr.Name, Address: addr.Address})
	}
	return result
}
