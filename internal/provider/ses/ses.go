// Package ses implements a Provider that sends forwarding envelopes as raw
// messages via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/ses-forwarder-lite/internal/email"
	"github.com/shineum/ses-forwarder-lite/internal/provider"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	configurationSet string
	client           SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration. The SDK retryer
// is limited to one attempt: every Send is exactly one delivery attempt.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	)

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESProvider{
		configurationSet: cfg.ConfigurationSet,
		client:           sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI) *SESProvider {
	return &SESProvider{client: client}
}

// Send delivers msg as a raw message. Header recipients are taken from the
// raw bytes; the Destination lists every address of the delivery list once,
// including Bcc.
func (s *SESProvider) Send(ctx context.Context, msg *email.Outbound) error {
	if len(msg.Destinations()) == 0 {
		return fmt.Errorf("%w: no destinations", provider.ErrRejected)
	}

	to, cc, bcc := msg.DeliveryLists()
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.Sender),
		Destination: &types.Destination{
			ToAddresses:  to,
			CcAddresses:  cc,
			BccAddresses: bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: msg.Raw,
			},
		},
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		slog.Warn("SES API error",
			"sender", msg.Sender,
			"destinations", len(msg.Destinations()),
			"error", err,
		)
		return fmt.Errorf("SES SendEmail failed: %w", classify(err))
	}

	slog.Debug("SES accepted message",
		"ses_message_id", aws.ToString(out.MessageId),
		"destinations", len(msg.Destinations()),
	)
	return nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// classify maps an SES error onto the provider error kinds, keeping the
// original error in the chain.
func classify(err error) error {
	var (
		notVerified *types.MailFromDomainNotVerifiedException
		rejected    *types.MessageRejected
		tooMany     *types.TooManyRequestsException
		limit       *types.LimitExceededException
		paused      *types.SendingPausedException
		suspended   *types.AccountSuspendedException
		badRequest  *types.BadRequestException
	)

	switch {
	case errors.As(err, &notVerified):
		return fmt.Errorf("%w: %w", provider.ErrInvalidSender, err)
	case errors.As(err, &rejected):
		if strings.Contains(strings.ToLower(rejected.ErrorMessage()), "not verified") {
			return fmt.Errorf("%w: %w", provider.ErrInvalidSender, err)
		}
		return fmt.Errorf("%w: %w", provider.ErrRejected, err)
	case errors.As(err, &tooMany), errors.As(err, &limit):
		return fmt.Errorf("%w: %w", provider.ErrThrottled, err)
	case errors.As(err, &paused), errors.As(err, &suspended), errors.As(err, &badRequest):
		return fmt.Errorf("%w: %w", provider.ErrRejected, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "Throttling" {
		return fmt.Errorf("%w: %w", provider.ErrThrottled, err)
	}

	return fmt.Errorf("%w: %w", provider.ErrTransient, err)
}
