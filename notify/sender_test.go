package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/0xsequence/identity-verifier/config"
	"github.com/0xsequence/identity-verifier/notify"
	"github.com/0xsequence/identity-verifier/present"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	mock.Mock
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*ses.SendEmailOutput)
	return out, args.Error(1)
}

var sesConfig = config.SESConfig{
	Enabled:   true,
	Source:    "noreply@verify.example.com",
	SourceARN: "arn:aws:ses:eu-west-1:000000000000:identity/verify.example.com",
}

func successSession() proto.VerificationSession {
	return proto.VerificationSession{
		Phase: proto.SessionPhase_Completed,
		Outcome: &proto.VerificationOutcome{
			Success:     true,
			DigitalID:   "DID-7F3A21C9",
			Method:      proto.VerificationMethod_Both,
			ServiceName: "National Bank",
			Timestamp:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
			Identity: &proto.UserIdentity{
				FirstName: "Aline",
				LastName:  "Uwase",
				Email:     "Aline@Example.com",
			},
		},
	}
}

func TestSendReceipt(t *testing.T) {
	ctx := context.Background()
	client := &mockSES{}
	sender := notify.NewSenderWithClient(client, sesConfig)

	view := present.Present(successSession().Outcome)

	var input *ses.SendEmailInput
	client.On("SendEmail", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { input = args.Get(1).(*ses.SendEmailInput) }).
		Return(&ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil).
		Once()

	require.NoError(t, sender.SendReceipt(ctx, " Aline@Example.com", view))
	client.AssertExpectations(t)

	require.NotNil(t, input)
	assert.Equal(t, []string{"aline@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, sesConfig.Source, aws.ToString(input.Source))
	assert.Equal(t, sesConfig.SourceARN, aws.ToString(input.SourceArn))
	assert.Equal(t, "Identity verification receipt: National Bank", aws.ToString(input.Message.Subject.Data))
	assert.Contains(t, aws.ToString(input.Message.Body.Text.Data), view.MaskedDigitalID)
	assert.Contains(t, aws.ToString(input.Message.Body.Html.Data), view.ReceiptID)
	assert.NotContains(t, aws.ToString(input.Message.Body.Text.Data), "DID-7F3A21C9")
}

func TestSendReceiptInvalidRecipient(t *testing.T) {
	client := &mockSES{}
	sender := notify.NewSenderWithClient(client, sesConfig)

	err := sender.SendReceipt(context.Background(), "not-an-email", present.View{})
	require.Error(t, err)
	client.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestHook(t *testing.T) {
	ctx := context.Background()

	t.Run("sends for successful outcome", func(t *testing.T) {
		client := &mockSES{}
		client.On("SendEmail", mock.Anything, mock.Anything).Return(&ses.SendEmailOutput{}, nil).Once()
		notify.NewSenderWithClient(client, sesConfig).Hook()(ctx, successSession())
		client.AssertExpectations(t)
	})

	t.Run("swallows send failures", func(t *testing.T) {
		client := &mockSES{}
		client.On("SendEmail", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()
		notify.NewSenderWithClient(client, sesConfig).Hook()(ctx, successSession())
		client.AssertExpectations(t)
	})

	skipped := map[string]func(*proto.VerificationSession){
		"failed outcome": func(s *proto.VerificationSession) { s.Outcome.Success = false },
		"no identity":    func(s *proto.VerificationSession) { s.Outcome.Identity = nil },
		"no email":       func(s *proto.VerificationSession) { s.Outcome.Identity.Email = "" },
		"no outcome":     func(s *proto.VerificationSession) { s.Outcome = nil },
	}
	for name, mutate := range skipped {
		t.Run(name, func(t *testing.T) {
			client := &mockSES{}
			session := successSession()
			mutate(&session)
			notify.NewSenderWithClient(client, sesConfig).Hook()(ctx, session)
			client.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
		})
	}
}
