// Package config provides YAML file configuration with environment-variable
// overrides for the forwarder.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/ses-forwarder-lite/internal/forward"
	"github.com/shineum/ses-forwarder-lite/internal/rules"
	"github.com/shineum/ses-forwarder-lite/internal/storage"
)

// ErrInvalid is wrapped by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Run modes.
const (
	ModeLambda = "lambda"
	ModeSMTP   = "smtp"
)

// Provider names.
const (
	ProviderSES    = "ses"
	ProviderStdout = "stdout"
)

// Storage drivers.
const (
	DriverS3       = "s3"
	DriverS3Compat = "s3compat"
)

// Config holds the complete application configuration.
type Config struct {
	Mode     string        `yaml:"mode"`
	Provider string        `yaml:"provider"`
	Forward  ForwardConfig `yaml:"forward"`
	Storage  StorageConfig `yaml:"storage"`
	SES      SESConfig     `yaml:"ses"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	TLS      TLSConfig     `yaml:"tls"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ForwardConfig holds the rule table and envelope settings.
type ForwardConfig struct {
	ManagedDomains  []string     `yaml:"managed_domains"`
	Rules           []RuleConfig `yaml:"rules"`
	MatchPolicy     string       `yaml:"match_policy"`
	SenderLocalPart string       `yaml:"sender_local_part"`
	SubjectPrefix   string       `yaml:"subject_prefix"`
}

// RuleConfig is one entry of the rule table. Order is priority order.
type RuleConfig struct {
	Match     string   `yaml:"match"`
	ForwardTo []string `yaml:"forward_to"`
}

// StorageConfig holds where inbound messages are read from.
type StorageConfig struct {
	Driver          string `yaml:"driver"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Secure          bool   `yaml:"secure"`
	MaxObjectSize   int64  `yaml:"max_object_size"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SMTPConfig holds SMTP ingress configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings required by the selected mode, provider and
// storage driver. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Mode {
	case ModeLambda:
		if c.Storage.Bucket == "" {
			invalid("storage.bucket is required in lambda mode")
		}
	case ModeSMTP:
		if c.SMTP.Listen == "" {
			invalid("smtp.listen is required in smtp mode")
		}
		if c.SMTP.MaxMessageSize <= 0 {
			invalid("smtp.max_message_size must be positive")
		}
	default:
		invalid("unknown mode %q", c.Mode)
	}

	switch c.Provider {
	case ProviderSES:
		if c.SES.Region == "" {
			invalid("ses.region is required for the ses provider")
		}
	case ProviderStdout:
	default:
		invalid("unknown provider %q", c.Provider)
	}

	if c.Mode == ModeLambda {
		switch c.Storage.Driver {
		case DriverS3:
		case DriverS3Compat:
			if c.Storage.Endpoint == "" {
				invalid("storage.endpoint is required for the s3compat driver")
			}
		default:
			invalid("unknown storage driver %q", c.Storage.Driver)
		}
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		invalid("tls.cert_file and tls.key_file must be set together")
	}

	if _, _, err := c.BuildRules(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// BuildRules builds the immutable rule table and managed domain set.
func (c *Config) BuildRules() (*rules.Table, *rules.DomainSet, error) {
	policy, err := rules.ParsePolicy(c.Forward.MatchPolicy)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: forward.match_policy: %w", ErrInvalid, err)
	}

	entries := make([]rules.Entry, 0, len(c.Forward.Rules))
	for _, r := range c.Forward.Rules {
		entries = append(entries, rules.Entry{Pattern: r.Match, Destinations: r.ForwardTo})
	}

	table, err := rules.New(entries, policy)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: forward.rules: %w", ErrInvalid, err)
	}

	domains, err := rules.NewDomainSet(c.Forward.ManagedDomains)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: forward.managed_domains: %w", ErrInvalid, err)
	}

	return table, domains, nil
}

// BuilderConfig returns the envelope builder settings.
func (c *Config) BuilderConfig() forward.BuilderConfig {
	return forward.BuilderConfig{
		SenderLocalPart: c.Forward.SenderLocalPart,
		SubjectPrefix:   c.Forward.SubjectPrefix,
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Mode = ModeLambda
	c.Provider = ProviderSES
	c.Forward.MatchPolicy = "first"
	c.Forward.SenderLocalPart = forward.DefaultSenderLocalPart
	c.Storage.Driver = DriverS3
	c.Storage.Prefix = "incoming/"
	c.Storage.Secure = true
	c.Storage.MaxObjectSize = storage.DefaultMaxObjectSize
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("MODE"); v != "" {
		c.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("MANAGED_DOMAINS"); v != "" {
		c.Forward.ManagedDomains = splitList(v)
	}
	if v := os.Getenv("FORWARD_RULES"); v != "" {
		var list []RuleConfig
		if err := yaml.Unmarshal([]byte(v), &list); err != nil {
			return fmt.Errorf("%w: FORWARD_RULES: %w", ErrInvalid, err)
		}
		c.Forward.Rules = list
	}
	if v := os.Getenv("MATCH_POLICY"); v != "" {
		c.Forward.MatchPolicy = v
	}
	if v := os.Getenv("SENDER_LOCAL_PART"); v != "" {
		c.Forward.SenderLocalPart = v
	}
	if v := os.Getenv("SUBJECT_PREFIX"); v != "" {
		c.Forward.SubjectPrefix = v
	}

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("STORAGE_PREFIX"); v != "" {
		c.Storage.Prefix = v
	}
	if v := os.Getenv("STORAGE_REGION"); v != "" {
		c.Storage.Region = v
	}
	if v := os.Getenv("STORAGE_ENDPOINT"); v != "" {
		c.Storage.Endpoint = v
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY_ID"); v != "" {
		c.Storage.AccessKeyID = v
	}
	if v := os.Getenv("STORAGE_SECRET_ACCESS_KEY"); v != "" {
		c.Storage.SecretAccessKey = v
	}
	if v := os.Getenv("STORAGE_SECURE"); v != "" {
		if secure, err := strconv.ParseBool(v); err == nil {
			c.Storage.Secure = secure
		}
	}
	if v := os.Getenv("STORAGE_MAX_OBJECT_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Storage.MaxObjectSize = size
		}
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_CONFIGURATION_SET"); v != "" {
		c.SES.ConfigurationSet = v
	}

	// The Lambda runtime always sets AWS_REGION.
	if v := os.Getenv("AWS_REGION"); v != "" {
		if c.SES.Region == "" {
			c.SES.Region = v
		}
		if c.Storage.Region == "" {
			c.Storage.Region = v
		}
	}

	if v := os.Getenv("SMTP_LISTEN"); v != "" {
		c.SMTP.Listen = v
	}
	if v := os.Getenv("SMTP_HOSTNAME"); v != "" {
		c.SMTP.Hostname = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
