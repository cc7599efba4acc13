// internal/channels/email.go
package channels

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/models"
)

// SESService is the subset of the SES client the email adapter uses.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailAdapter sends email via SES. Primarily used for structured clinical
// alerts to contacts tagged as doctors.
type EmailAdapter struct {
	client    SESService
	fromEmail string
}

func NewEmailAdapter(client SESService, fromEmail string) *EmailAdapter {
	return &EmailAdapter{client: client, fromEmail: fromEmail}
}

func (a *EmailAdapter) Method() models.DeliveryMethod {
	return models.MethodEmail
}

func (a *EmailAdapter) Send(ctx context.Context, targets models.DeliveryTargets, content models.ReminderContent, language string) (*SendResult, error) {
	if targets.Email == nil || targets.Email.Address == "" {
		return nil, apperrors.NewConfigurationError("email target missing address")
	}
	return a.SendRaw(ctx, targets.Email.Address, reminderTitle(content, language), reminderText(content, language))
}

// SendRaw sends an already rendered subject and body to a single address.
func (a *EmailAdapter) SendRaw(ctx context.Context, to, subject, body string) (*SendResult, error) {
	out, err := a.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(a.fromEmail),
	})
	if err != nil {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodEmail), err)
	}
	return &SendResult{Success: true, MessageID: aws.ToString(out.MessageId)}, nil
}
