// Package main is the entry point for the SES forwarder.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/ses-forwarder-lite/internal/config"
	"github.com/shineum/ses-forwarder-lite/internal/dispatch"
	"github.com/shineum/ses-forwarder-lite/internal/forward"
	"github.com/shineum/ses-forwarder-lite/internal/provider"
	"github.com/shineum/ses-forwarder-lite/internal/provider/ses"
	"github.com/shineum/ses-forwarder-lite/internal/provider/stdout"
	"github.com/shineum/ses-forwarder-lite/internal/rules"
	"github.com/shineum/ses-forwarder-lite/internal/smtp"
	"github.com/shineum/ses-forwarder-lite/internal/storage"
	"github.com/shineum/ses-forwarder-lite/internal/storage/s3"
	"github.com/shineum/ses-forwarder-lite/internal/storage/s3compat"
	smtptls "github.com/shineum/ses-forwarder-lite/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	mode := flag.String("mode", "", "run mode: lambda or smtp (overrides configuration)")
	resolveAddr := flag.String("resolve", "", "print how an address is forwarded and exit")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	table, domains, err := cfg.BuildRules()
	if err != nil {
		slog.Error("invalid forwarding rules", "error", err)
		os.Exit(1)
	}

	if *resolveAddr != "" {
		printResolution(os.Stdout, table, domains, *resolveAddr)
		return
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prov := selectProvider(ctx, cfg)

	slog.Info("starting ses-forwarder-lite",
		"mode", cfg.Mode,
		"provider", prov.Name(),
		"managed_domains", domains.Domains(),
		"rules", table.Len(),
		"match_policy", table.Policy().String(),
	)

	switch cfg.Mode {
	case config.ModeLambda:
		store := selectStore(ctx, cfg)
		d := newDispatcher(cfg, store, prov, table, domains)
		lambda.StartWithOptions(lambdaHandler(d), lambda.WithContext(ctx))

	case config.ModeSMTP:
		d := newDispatcher(cfg, nil, prov, table, domains)
		if err := runSMTP(ctx, cancel, cfg, d, domains); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
		slog.Info("ses-forwarder-lite stopped")
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func newDispatcher(cfg *config.Config, store storage.Store, prov provider.Provider, table *rules.Table, domains *rules.DomainSet) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		Store:    store,
		Provider: prov,
		Gate:     domains,
		Resolver: table,
		Builder:  forward.NewBuilder(cfg.BuilderConfig()),
		Bucket:   cfg.Storage.Bucket,
		Prefix:   cfg.Storage.Prefix,
		Logger:   slog.Default(),
	})
}

// selectProvider creates the delivery backend named by the configuration.
func selectProvider(ctx context.Context, cfg *config.Config) provider.Provider {
	switch cfg.Provider {
	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SES.Region)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			slog.Error("failed to create SES provider", "error", err)
			os.Exit(1)
		}
		return p

	case config.ProviderStdout:
		slog.Info("using stdout provider, messages are not delivered")
		return stdout.New()

	default:
		slog.Error("unknown provider", "provider", cfg.Provider)
		os.Exit(1)
		return nil
	}
}

// selectStore creates the storage driver named by the configuration.
func selectStore(ctx context.Context, cfg *config.Config) storage.Store {
	switch cfg.Storage.Driver {
	case config.DriverS3:
		st, err := s3.New(ctx, s3.StoreConfig{
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Endpoint:        cfg.Storage.Endpoint,
			MaxObjectSize:   cfg.Storage.MaxObjectSize,
		})
		if err != nil {
			slog.Error("failed to create S3 store", "error", err)
			os.Exit(1)
		}
		slog.Info("using S3 storage", "bucket", cfg.Storage.Bucket, "prefix", cfg.Storage.Prefix)
		return st

	case config.DriverS3Compat:
		st, err := s3compat.New(s3compat.StoreConfig{
			Endpoint:        cfg.Storage.Endpoint,
			Secure:          cfg.Storage.Secure,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			MaxObjectSize:   cfg.Storage.MaxObjectSize,
		})
		if err != nil {
			slog.Error("failed to create S3-compatible store", "error", err)
			os.Exit(1)
		}
		slog.Info("using S3-compatible storage",
			"endpoint", cfg.Storage.Endpoint,
			"bucket", cfg.Storage.Bucket,
			"prefix", cfg.Storage.Prefix,
		)
		return st

	default:
		slog.Error("unknown storage driver", "driver", cfg.Storage.Driver)
		os.Exit(1)
		return nil
	}
}

// runSMTP serves the SMTP ingress, and the metrics endpoint when configured,
// until a termination signal arrives.
func runSMTP(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, d *dispatch.Dispatcher, domains *rules.DomainSet) error {
	tlsConfig, err := smtptls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
	if err != nil {
		return err
	}

	tlsMode := "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr: cfg.SMTP.Listen,
		Hostname:   cfg.SMTP.Hostname,
		Handler: smtp.HandlerFunc(func(ctx context.Context, raw []byte, rcpts []string) error {
			_, err := d.Forward(ctx, raw, rcpts)
			return err
		}),
		Gate:           domains,
		TLSConfig:      tlsConfig,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
	})

	slog.Info("starting SMTP ingress",
		"listen", cfg.SMTP.Listen,
		"hostname", cfg.SMTP.Hostname,
		"tls_mode", tlsMode,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen)
	}

	// Start the server (blocks until context is cancelled)
	return server.ListenAndServe(ctx)
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}
