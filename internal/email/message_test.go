package email

import (
	"reflect"
	"testing"
)

func TestDomainOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want string
	}{
		{"user@example.com", "example.com"},
		{"odd@local@Example.COM", "Example.COM"},
		{"no-at-sign", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DomainOf(tt.addr); got != tt.want {
			t.Errorf("DomainOf(%q): got %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestFieldString(t *testing.T) {
	t.Parallel()

	if FieldTo.String() != "To" || FieldCc.String() != "Cc" || FieldBcc.String() != "Bcc" {
		t.Errorf("unexpected field names: %s %s %s", FieldTo, FieldCc, FieldBcc)
	}
}

func TestMessageBytes_ReturnsCopy(t *testing.T) {
	t.Parallel()

	msg := &Message{Raw: []byte("Subject: hi\r\n\r\nbody")}
	b := msg.Bytes()
	b[0] = 'X'

	if string(msg.Raw) != "Subject: hi\r\n\r\nbody" {
		t.Errorf("Raw was modified through Bytes(): %q", msg.Raw)
	}
}

func TestOutboundDestinations(t *testing.T) {
	t.Parallel()

	out := &Outbound{
		To:  []string{"a@example.com"},
		Cc:  []string{"b@example.com", "a@example.com"},
		Bcc: []string{"c@example.com"},
	}

	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if got := out.Destinations(); !reflect.DeepEqual(got, want) {
		t.Errorf("Destinations(): got %v, want %v", got, want)
	}
}

func TestOutboundDeliveryLists(t *testing.T) {
	t.Parallel()

	out := &Outbound{
		To:  []string{"a@example.com"},
		Cc:  []string{"a@example.com", "b@example.com"},
		Bcc: []string{"b@example.com"},
	}

	to, cc, bcc := out.DeliveryLists()
	if !reflect.DeepEqual(to, []string{"a@example.com"}) {
		t.Errorf("to: got %v", to)
	}
	if !reflect.DeepEqual(cc, []string{"b@example.com"}) {
		t.Errorf("cc: got %v", cc)
	}
	if len(bcc) != 0 {
		t.Errorf("bcc: got %v, want empty", bcc)
	}
	if len(out.Cc) != 2 || len(out.Bcc) != 1 {
		t.Errorf("fields were modified: cc=%v bcc=%v", out.Cc, out.Bcc)
	}
}
