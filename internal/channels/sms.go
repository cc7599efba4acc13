// internal/channels/sms.go
package channels

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/models"
)

// SNSService is the subset of the SNS client the SMS and push adapters use.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSAdapter delivers reminders over SMS via SNS.
type SMSAdapter struct {
	client   SNSService
	senderID string
}

func NewSMSAdapter(client SNSService, senderID string) *SMSAdapter {
	return &SMSAdapter{client: client, senderID: senderID}
}

func (a *SMSAdapter) Method() models.DeliveryMethod {
	return models.MethodSMS
}

func (a *SMSAdapter) Send(ctx context.Context, targets models.DeliveryTargets, content models.ReminderContent, language string) (*SendResult, error) {
	if targets.SMS == nil || targets.SMS.PhoneNumber == "" {
		return nil, apperrors.NewConfigurationError("sms target missing phone number")
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(targets.SMS.PhoneNumber),
		Message:     aws.String(reminderText(content, language)),
	}
	if a.senderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(a.senderID),
			},
		}
	}

	out, err := a.client.Publish(ctx, input)
	if err != nil {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodSMS), err)
	}

	return &SendResult{Success: true, MessageID: aws.ToString(out.MessageId)}, nil
}

// SendRaw delivers a pre-rendered message to a phone number. Used by the
// family broadcast service for external emergency contacts.
func (a *SMSAdapter) SendRaw(ctx context.Context, phoneNumber, message string) (*SendResult, error) {
	if phoneNumber == "" {
		return nil, apperrors.NewConfigurationError("sms send missing phone number")
	}

	out, err := a.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phoneNumber),
		Message:     aws.String(message),
	})
	if err != nil {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodSMS), err)
	}
	return &SendResult{Success: true, MessageID: aws.ToString(out.MessageId)}, nil
}
