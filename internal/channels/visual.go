// internal/channels/visual.go
package channels

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/models"
)

// VisualAdapter delivers in-app visual reminders by publishing to a
// per-device Redis channel the device UI subscribes to.
type VisualAdapter struct {
	client        *redis.Client
	channelPrefix string
}

func NewVisualAdapter(client *redis.Client, channelPrefix string) *VisualAdapter {
	if channelPrefix == "" {
		channelPrefix = "reminder:visual:"
	}
	return &VisualAdapter{client: client, channelPrefix: channelPrefix}
}

func (a *VisualAdapter) Method() models.DeliveryMethod {
	return models.MethodVisual
}

type visualPayload struct {
	MessageID      string `json:"messageId"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	MedicationName string `json:"medicationName"`
	Dosage         string `json:"dosage"`
	Language       string `json:"language"`
	SentAt         string `json:"sentAt"`
}

func (a *VisualAdapter) Send(ctx context.Context, targets models.DeliveryTargets, content models.ReminderContent, language string) (*SendResult, error) {
	if targets.Visual == nil || targets.Visual.DeviceID == "" {
		return nil, apperrors.NewConfigurationError("visual target missing device id")
	}

	messageID := uuid.New().String()
	payload, err := json.Marshal(visualPayload{
		MessageID:      messageID,
		Title:          reminderTitle(content, language),
		Body:           reminderText(content, language),
		MedicationName: content.MedicationName,
		Dosage:         content.Dosage,
		Language:       language,
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodVisual), err)
	}

	if err := a.client.Publish(ctx, a.channelPrefix+targets.Visual.DeviceID, payload).Err(); err != nil {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodVisual), err)
	}

	return &SendResult{Success: true, MessageID: messageID}, nil
}
