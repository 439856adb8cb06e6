package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// EmailSender is the subset of the SES v2 client used for notices.
type EmailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier emails notices to the ops address and, when known, the tenant.
type SESNotifier struct {
	client    EmailSender
	from      string
	ops       string
	templates *Templates
	cfg       config.SESConfig
}

// NewSESNotifier creates an SES notifier from config. Static keys are used
// when present, otherwise the default credential chain.
func NewSESNotifier(ctx context.Context, cfg config.SESConfig, templates *Templates) (*SESNotifier, error) {
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("ses from_address is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESNotifierWithClient(sesv2.NewFromConfig(awsCfg), cfg, templates), nil
}

// NewSESNotifierWithClient wraps an existing sender.
func NewSESNotifierWithClient(client EmailSender, cfg config.SESConfig, templates *Templates) *SESNotifier {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &SESNotifier{client: client, from: cfg.FromAddress, ops: cfg.OpsAddress, templates: templates, cfg: cfg}
}

func (s *SESNotifier) Notify(ctx context.Context, n domain.SuspensionNotice) error {
	var to []string
	if n.Tenant.Email != "" {
		to = append(to, n.Tenant.Email)
	}
	if s.ops != "" {
		to = append(to, s.ops)
	}
	if len(to) == 0 {
		return nil
	}

	msg, err := s.templates.Render(n)
	if err != nil {
		return err
	}

	if timeout := s.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body := &types.Body{
		Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("notice"), Value: aws.String(n.Kind)},
			{Name: aws.String("tenant_id"), Value: aws.String(n.Tenant.ID)},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send %s notice: %w", n.Kind, err)
	}
	logger.Info("suspension notice emailed",
		"tenant_id", n.Tenant.ID, "kind", n.Kind, "email", n.Tenant.Email, "message_id", aws.ToString(out.MessageId))
	return nil
}
