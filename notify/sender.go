// Package notify e-mails a receipt to the verified user after a successful verification.
package notify

import (
	"context"
	"fmt"

	"github.com/0xsequence/identity-verifier/config"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/orchestrator"
	"github.com/0xsequence/identity-verifier/present"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type Sender struct {
	client SESClient
	cfg    config.SESConfig
}

// NewSender builds an SES client from awsCfg, assuming cfg.AccessRoleARN when set.
func NewSender(awsCfg aws.Config, cfg config.SESConfig) *Sender {
	if cfg.AccessRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AccessRoleARN)
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	return NewSenderWithClient(ses.NewFromConfig(awsCfg), cfg)
}

func NewSenderWithClient(client SESClient, cfg config.SESConfig) *Sender {
	return &Sender{client: client, cfg: cfg}
}

func (s *Sender) SendReceipt(ctx context.Context, recipient string, view present.View) (err error) {
	ctx, span := o11y.Trace(ctx, "notify.Sender.SendReceipt")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	recipient = Normalize(recipient)
	if err := Validate(recipient); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	receipt, err := BuildReceipt(view)
	if err != nil {
		return err
	}

	var sourceARN *string
	if s.cfg.SourceARN != "" {
		sourceARN = aws.String(s.cfg.SourceARN)
	}

	_, err = s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(receipt.HTML),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(receipt.Text),
					Charset: aws.String("UTF-8"),
				},
			},
			Subject: &types.Content{
				Data:    aws.String(receipt.Subject),
				Charset: aws.String("UTF-8"),
			},
		},
		Source:    aws.String(s.cfg.Source),
		SourceArn: sourceARN,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// Hook returns a completion hook that sends a receipt for every successful outcome whose identity
// has an e-mail address. Failures are logged and never reach the session.
func (s *Sender) Hook() orchestrator.CompletionHook {
	return func(ctx context.Context, session proto.VerificationSession) {
		outcome := session.Outcome
		if outcome == nil || !outcome.Success || outcome.Identity == nil || outcome.Identity.Email == "" {
			return
		}
		if err := s.SendReceipt(ctx, outcome.Identity.Email, present.Present(outcome)); err != nil {
			o11y.LoggerFromContext(ctx).Warn("failed to send verification receipt", "error", err, "digital_id", outcome.DigitalID)
		}
	}
}
