// Package forward turns a parsed message into a forwarding plan and builds
// the envelope that carries the original message to its destinations.
package forward

import (
	"strings"

	"github.com/shineum/ses-forwarder-lite/internal/email"
)

// Extract returns the distinct recipients of msg's To, Cc and Bcc fields in
// that order. Addresses in envelope that appear in none of those fields are
// appended as Bcc recipients: mail delivered to the forwarder as a blind copy
// or through a list only names the forwarder on the envelope.
//
// Addresses are deduplicated per field, comparing the domain
// case-insensitively.
func Extract(msg *email.Message, envelope []string) []email.Recipient {
	var out []email.Recipient
	seen := make(map[string]struct{})

	add := func(field email.Field, addrs []email.Address) {
		perField := make(map[string]struct{}, len(addrs))
		for _, a := range addrs {
			if a.Address == "" {
				continue
			}
			key := normalize(a.Address)
			if _, ok := perField[key]; ok {
				continue
			}
			perField[key] = struct{}{}
			seen[key] = struct{}{}
			out = append(out, email.Recipient{Address: a, Field: field})
		}
	}

	add(email.FieldTo, msg.To)
	add(email.FieldCc, msg.Cc)
	add(email.FieldBcc, msg.Bcc)

	var hidden []email.Address
	for _, addr := range envelope {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, ok := seen[normalize(addr)]; ok {
			continue
		}
		hidden = append(hidden, email.Address{Address: addr})
	}
	add(email.FieldBcc, hidden)

	return out
}

// normalize lower-cases the domain of addr and keeps the local part as is.
func normalize(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return addr
	}
	return addr[:at+1] + strings.ToLower(addr[at+1:])
}
