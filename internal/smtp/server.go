// Package smtp implements a minimal inbound SMTP receiver that hands every
// accepted message to a Handler.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Handler processes one received message. rcpts are the accepted RCPT TO
// addresses of the transaction.
type Handler interface {
	HandleMessage(ctx context.Context, raw []byte, rcpts []string) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, raw []byte, rcpts []string) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, raw []byte, rcpts []string) error {
	return f(ctx, raw, rcpts)
}

// Gate decides which recipients the server accepts mail for.
type Gate interface {
	IsManaged(addr string) bool
}

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is the server hostname used in greetings and EHLO responses.
	Hostname string

	// Handler receives every accepted message.
	Handler Handler

	// Gate filters RCPT TO addresses. If nil, every recipient is accepted.
	Gate Gate

	// TLSConfig is the TLS configuration for STARTTLS support.
	// If nil, STARTTLS is not advertised.
	TLSConfig *tls.Config

	// MaxMessageSize limits the DATA payload in bytes.
	MaxMessageSize int64
}

// Server is an SMTP server that accepts connections and delegates
// received messages to a Handler.
type Server struct {
	config ServerConfig

	mu       sync.Mutex
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	return &Server{config: cfg}
}

// ListenAndServe starts the SMTP server and blocks until the context is cancelled.
// On context cancellation, it stops accepting new connections and waits up to
// 30 seconds for in-flight sessions to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.config.Handler == nil {
		return errors.New("smtp: no message handler configured")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"hostname", s.config.Hostname,
		"max_message_size", s.config.MaxMessageSize,
		"tls_enabled", s.config.TLSConfig != nil,
	)

	// Monitor context for shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down SMTP server")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown
				s.waitForSessions()
				return nil
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewSession(conn, s.config).Handle(ctx)
		}()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
