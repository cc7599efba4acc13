// internal/channels/push.go
package channels

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/models"
)

// PushAdapter delivers reminders as mobile push notifications via SNS
// platform endpoints.
type PushAdapter struct {
	client SNSService
}

func NewPushAdapter(client SNSService) *PushAdapter {
	return &PushAdapter{client: client}
}

func (a *PushAdapter) Method() models.DeliveryMethod {
	return models.MethodPush
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (a *PushAdapter) Send(ctx context.Context, targets models.DeliveryTargets, content models.ReminderContent, language string) (*SendResult, error) {
	if targets.Push == nil || targets.Push.DeviceToken == "" {
		return nil, apperrors.NewConfigurationError("push target missing device token")
	}

	payload := pushPayload{
		Title: reminderTitle(content, language),
		Body:  reminderText(content, language),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodPush), err)
	}

	// Device tokens are pre-registered as SNS platform endpoint ARNs.
	out, err := a.client.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(targets.Push.DeviceToken),
		Message:   aws.String(string(body)),
	})
	if err != nil {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodPush), err)
	}

	return &SendResult{Success: true, MessageID: aws.ToString(out.MessageId)}, nil
}
