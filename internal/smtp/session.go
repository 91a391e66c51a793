package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/ses-forwarder-lite/internal/parser"
	"github.com/shineum/ses-forwarder-lite/internal/provider"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// defaultMaxMessageSize is used when ServerConfig.MaxMessageSize is not set.
const defaultMaxMessageSize = 10 * 1024 * 1024

// maxRecipients caps RCPT TO commands per transaction.
const maxRecipients = 100

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	handler  Handler
	gate     Gate
	hostname string
	maxSize  int64

	// TLS support
	tlsConfig *tls.Config
	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, cfg ServerConfig) *Session {
	hostname := cfg.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		handler:   cfg.Handler,
		gate:      cfg.Gate,
		hostname:  hostname,
		maxSize:   maxSize,
		tlsConfig: cfg.TLSConfig,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP ses-forwarder-lite", s.hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA(ctx)
	case "RSET":
		s.handleRSET()
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

// handleEHLO processes EHLO/HELO commands.
func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	s.state = stateGreeted

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.hostname, arg)
	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250-SIZE %d", s.maxSize)
	s.writeLine("250 OK")
}

// handleSTARTTLS upgrades the connection to TLS.
func (s *Session) handleSTARTTLS() {
	if s.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.resetTransaction()
	s.state = stateConnected
}

// handleMAIL processes the MAIL FROM command, including an optional SIZE
// parameter.
func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr, params := splitParams(arg[5:])
	if addr == "" && !strings.HasPrefix(strings.TrimSpace(arg[5:]), "<>") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	if v, ok := params["SIZE"]; ok {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeLine("501 Syntax: SIZE=<number>")
			return
		}
		if size > s.maxSize {
			s.writeLine("552 5.3.4 Message size exceeds fixed limit")
			return
		}
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

// handleRCPT processes the RCPT TO command. Recipients outside the managed
// domains are refused.
func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, _ := splitParams(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	if s.gate != nil && !s.gate.IsManaged(addr) {
		slog.Info("recipient rejected, domain not managed", "recipient", addr)
		s.writeLine("550 5.1.1 Recipient domain not handled here")
		return
	}

	if len(s.rcptTo) >= maxRecipients {
		s.writeLine("452 4.5.3 Too many recipients")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message and hands it to the handler. It returns true
// when the connection can no longer be used.
func (s *Session) handleDATA(ctx context.Context) bool {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return false
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var buf bytes.Buffer
	tooLarge := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			slog.Error("error reading DATA", "error", err)
			return true
		}

		// Check for end of data marker
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}

		// Dot-stuffing: lines starting with ".." have the leading dot removed
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}

		if tooLarge {
			continue
		}
		if int64(buf.Len()+len(line)) > s.maxSize {
			tooLarge = true
			buf.Reset()
			continue
		}
		buf.WriteString(line)
	}

	defer s.resetTransaction()

	if tooLarge {
		s.writeLine("552 5.3.4 Message size exceeds fixed limit")
		return false
	}

	if err := s.handler.HandleMessage(ctx, buf.Bytes(), s.rcptTo); err != nil {
		slog.Error("failed to forward message",
			"mail_from", s.mailFrom,
			"recipients", len(s.rcptTo),
			"error", err,
		)
		s.writeLine(replyForError(err))
		return false
	}

	s.writeLine("250 OK message accepted")
	return false
}

// replyForError maps a handler error to an SMTP reply. Problems with the
// message itself are permanent; everything else asks the client to retry.
func replyForError(err error) string {
	switch {
	case errors.Is(err, parser.ErrMalformed):
		return "554 5.6.0 Malformed message"
	case errors.Is(err, provider.ErrInvalidSender), errors.Is(err, provider.ErrRejected):
		return "554 5.7.1 Message rejected by transport"
	default:
		return "451 Temporary failure, please try again later"
	}
}

// handleRSET resets the current transaction state.
func (s *Session) handleRSET() {
	s.resetTransaction()
	s.writeLine("250 OK")
}

// resetTransaction clears the current mail transaction state without
// affecting the greeting.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	_, err := s.writer.WriteString(line + "\r\n")
	if err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// splitParams separates the address of a MAIL or RCPT argument from its
// ESMTP parameters. Parameter names are upper-cased.
func splitParams(s string) (string, map[string]string) {
	s = strings.TrimSpace(s)

	var rest string
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", nil
		}
		rest = s[end+1:]
		s = s[:end+1]
	} else if i := strings.IndexByte(s, ' '); i >= 0 {
		s, rest = s[:i], s[i+1:]
	}

	params := make(map[string]string)
	for _, field := range strings.Fields(rest) {
		k, v, _ := strings.Cut(field, "=")
		params[strings.ToUpper(k)] = v
	}
	return extractAddress(s), params
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)

	// Handle angle-bracket format: <user@example.com>
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}

	// Bare address format
	return s
}
