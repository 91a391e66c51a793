// Package email defines the message data model shared by the forwarder.
package email

import "strings"

// Field identifies the header a recipient was found in.
type Field int

const (
	FieldTo Field = iota
	FieldCc
	FieldBcc
)

// String returns the header name of the field.
func (f Field) String() string {
	switch f {
	case FieldTo:
		return "To"
	case FieldCc:
		return "Cc"
	case FieldBcc:
		return "Bcc"
	default:
		return "Unknown"
	}
}

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Address string
}

// Domain returns the part of the address after the last '@', or an empty
// string if the address has none.
func (a Address) Domain() string {
	return DomainOf(a.Address)
}

// DomainOf returns the part of addr after the last '@'.
func DomainOf(addr string) string {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return ""
	}
	return addr[i+1:]
}

// Recipient is an address together with the header field it came from.
type Recipient struct {
	Address
	Field Field
}

// Message is a parsed inbound message. Raw holds the exact bytes the message
// was parsed from and must not be modified.
type Message struct {
	From      Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	ReplyTo   string
	Subject   string
	MessageID string
	Raw       []byte
}

// Bytes returns a copy of the original serialized message.
func (m *Message) Bytes() []byte {
	out := make([]byte, len(m.Raw))
	copy(out, m.Raw)
	return out
}

// Outbound is a fully built forwarding envelope ready for a provider.
// To, Cc and Bcc together form the delivery list; only To and Cc are visible
// in the headers of Raw.
type Outbound struct {
	Sender string
	To     []string
	Cc     []string
	Bcc    []string
	Raw    []byte
}

// Destinations returns the delivery list: every To, Cc and Bcc address,
// each listed once.
func (o *Outbound) Destinations() []string {
	to, cc, bcc := o.DeliveryLists()
	out := make([]string, 0, len(to)+len(cc)+len(bcc))
	out = append(out, to...)
	out = append(out, cc...)
	return append(out, bcc...)
}

// DeliveryLists returns To, Cc and Bcc with every address kept only in the
// first of them that lists it, so no destination is delivered twice. The
// fields of o are not modified.
func (o *Outbound) DeliveryLists() (to, cc, bcc []string) {
	seen := make(map[string]struct{}, len(o.To)+len(o.Cc)+len(o.Bcc))
	pick := func(list []string) []string {
		var out []string
		for _, addr := range list {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
		return out
	}
	return pick(o.To), pick(o.Cc), pick(o.Bcc)
}
