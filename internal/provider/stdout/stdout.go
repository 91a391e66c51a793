// Package stdout implements a dry-run Provider that prints forwarding
// envelopes instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/ses-forwarder-lite/internal/email"
	"github.com/shineum/ses-forwarder-lite/internal/provider"
)

const separator = "========================================\n"

// Provider prints the delivery list and the raw envelope of every message.
type Provider struct {
	mu sync.Mutex
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints msg. Bcc recipients are listed separately since they never
// appear in the envelope headers.
func (p *Provider) Send(_ context.Context, msg *email.Outbound) error {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Sender: %s\n", msg.Sender)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(msg.Bcc, ", "))
	}
	fmt.Fprintf(&b, "Destinations: %d\n", len(msg.Destinations()))
	fmt.Fprintf(&b, "Size: %s\n", formatSize(len(msg.Raw)))
	b.WriteString("----------------------------------------\n")
	b.Write(msg.Raw)
	if len(msg.Raw) > 0 && msg.Raw[len(msg.Raw)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("%w: %w", provider.ErrTransient, err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
