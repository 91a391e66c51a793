package forward

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/ses-forwarder-lite/internal/email"
)

// DefaultSenderLocalPart is the local part of the envelope sender.
const DefaultSenderLocalPart = "fwdr"

var (
	// ErrEmptyPlan is returned when Build is called with nothing to deliver.
	ErrEmptyPlan = errors.New("forwarding plan has no destinations")
	// ErrNoTriggerDomain is returned when the plan has no verified domain to
	// send from.
	ErrNoTriggerDomain = errors.New("forwarding plan has no trigger domain")
)

// BuilderConfig holds the envelope settings.
type BuilderConfig struct {
	// SenderLocalPart is combined with the trigger domain to form the
	// envelope sender. Defaults to DefaultSenderLocalPart.
	SenderLocalPart string

	// SubjectPrefix is prepended to the original subject unless already
	// present. Empty keeps the subject verbatim.
	SubjectPrefix string
}

// Builder constructs forwarding envelopes.
type Builder struct {
	senderLocalPart string
	subjectPrefix   string
	now             func() time.Time
}

// NewBuilder creates a Builder with the given configuration.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.SenderLocalPart == "" {
		cfg.SenderLocalPart = DefaultSenderLocalPart
	}
	return &Builder{
		senderLocalPart: cfg.SenderLocalPart,
		subjectPrefix:   cfg.SubjectPrefix,
		now:             time.Now,
	}
}

// Build wraps msg into a new message addressed according to plan.
//
// The From header keeps the original author readable while the address
// itself belongs to the trigger domain, since the transport only accepts
// verified sender domains. Bcc destinations are returned for delivery but
// never written to the header. The original message is embedded unmodified
// as a message/rfc822 part.
func (b *Builder) Build(msg *email.Message, plan *Plan) (*email.Outbound, error) {
	if plan.Empty() {
		return nil, ErrEmptyPlan
	}
	if plan.TriggerDomain == "" {
		return nil, ErrNoTriggerDomain
	}

	from := &mail.Address{
		Name:    authorDisplay(msg.From),
		Address: b.senderLocalPart + "@" + strings.ToLower(plan.TriggerDomain),
	}

	var h mail.Header
	h.SetDate(b.now())
	h.SetAddressList("From", []*mail.Address{from})
	if replyTo := replyTo(msg); replyTo != "" {
		h.Set("Reply-To", replyTo)
	}
	if len(plan.To) > 0 {
		h.SetAddressList("To", toAddresses(plan.To))
	}
	if len(plan.Cc) > 0 {
		h.SetAddressList("Cc", toAddresses(plan.Cc))
	}
	h.SetSubject(b.subject(msg.Subject))
	if id := normalizeMessageID(msg.MessageID); id != "" {
		h.Set("In-Reply-To", id)
		h.Set("References", id)
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	h.Set("MIME-Version", "1.0")

	var buf bytes.Buffer
	if err := writeBody(&buf, h, msg, plan); err != nil {
		return nil, err
	}

	return &email.Outbound{
		Sender: from.String(),
		To:     plan.To,
		Cc:     plan.Cc,
		Bcc:    plan.Bcc,
		Raw:    buf.Bytes(),
	}, nil
}

func writeBody(w io.Writer, h mail.Header, msg *email.Message, plan *Plan) error {
	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create note part: %w", err)
	}
	text, htmlText := forwardNote(msg, plan)
	if err := writeInline(iw, "text/plain", text); err != nil {
		return err
	}
	if err := writeInline(iw, "text/html", htmlText); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("failed to close note part: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("message/rfc822", nil)
	ah.Set("Content-Transfer-Encoding", transferEncoding(msg.Raw))
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create original message part: %w", err)
	}
	if _, err := aw.Write(msg.Bytes()); err != nil {
		return fmt.Errorf("failed to write original message: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("failed to close original message part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to close message writer: %w", err)
	}
	return nil
}

func writeInline(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to close %s part: %w", contentType, err)
	}
	return nil
}

// forwardNote renders the human-readable preamble in plain text and HTML.
func forwardNote(msg *email.Message, plan *Plan) (string, string) {
	author := noteAddress(msg.From)
	if author == "" {
		author = "unknown sender"
	}

	intended := make([]string, 0, len(plan.Intended))
	for _, r := range plan.Intended {
		intended = append(intended, noteAddress(r.Address))
	}
	to := strings.Join(intended, ", ")

	var text strings.Builder
	text.WriteString("---------- Forwarded message ----------\r\n")
	fmt.Fprintf(&text, "From: %s\r\n", author)
	fmt.Fprintf(&text, "To: %s\r\n", to)
	fmt.Fprintf(&text, "Subject: %s\r\n", msg.Subject)
	text.WriteString("\r\nThe original message is attached below.\r\n")

	var h strings.Builder
	h.WriteString("<html><body>\r\n")
	h.WriteString("<p>---------- Forwarded message ----------<br>\r\n")
	fmt.Fprintf(&h, "From: %s<br>\r\n", html.EscapeString(author))
	fmt.Fprintf(&h, "To: %s<br>\r\n", html.EscapeString(to))
	fmt.Fprintf(&h, "Subject: %s</p>\r\n", html.EscapeString(msg.Subject))
	h.WriteString("<p>The original message is attached below.</p>\r\n")
	h.WriteString("</body></html>\r\n")

	return text.String(), h.String()
}

func (b *Builder) subject(original string) string {
	if b.subjectPrefix == "" {
		return original
	}
	if strings.HasPrefix(strings.ToLower(original), strings.ToLower(b.subjectPrefix)) {
		return original
	}
	return b.subjectPrefix + original
}

// authorDisplay renders the original author as "Name (address)", or just the
// address when there is no display name.
func authorDisplay(a email.Address) string {
	switch {
	case a.Name != "" && a.Address != "":
		return fmt.Sprintf("%s (%s)", a.Name, a.Address)
	case a.Address != "":
		return a.Address
	default:
		return a.Name
	}
}

func replyTo(msg *email.Message) string {
	if strings.TrimSpace(msg.ReplyTo) != "" {
		return msg.ReplyTo
	}
	if msg.From.Address == "" {
		return ""
	}
	return formatAddress(msg.From)
}

// noteAddress renders a for a message body, where encoded words are not
// decoded by mail clients.
func noteAddress(a email.Address) string {
	switch {
	case a.Address == "":
		return a.Name
	case a.Name == "":
		return a.Address
	default:
		return fmt.Sprintf("%s <%s>", a.Name, a.Address)
	}
}

// formatAddress renders a for a header field.
func formatAddress(a email.Address) string {
	if a.Address == "" {
		return a.Name
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

func toAddresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, addr := range list {
		out = append(out, &mail.Address{Address: addr})
	}
	return out
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, "<") {
		id = "<" + strings.TrimSuffix(id, ">") + ">"
	}
	return id
}

// transferEncoding picks the identity encoding that describes raw. Encoded
// transfer encodings are not allowed on message/rfc822 parts.
func transferEncoding(raw []byte) string {
	for _, c := range raw {
		if c >= 0x80 {
			return "8bit"
		}
	}
	return "7bit"
}
