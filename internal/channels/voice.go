// internal/channels/voice.go
package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/models"
)

// VoiceAdapter places automated reminder calls through an external voice
// gateway. Accessibility options (slow speech, repetition) come from the
// voice target.
type VoiceAdapter struct {
	client     *resty.Client
	gatewayURL string
}

func NewVoiceAdapter(gatewayURL, apiKey string, timeout time.Duration) *VoiceAdapter {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &VoiceAdapter{
		client:     client,
		gatewayURL: gatewayURL,
	}
}

func (a *VoiceAdapter) Method() models.DeliveryMethod {
	return models.MethodVoice
}

type voiceCallRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	Language    string `json:"language"`
	SlowSpeech  bool   `json:"slowSpeech"`
	RepeatCount int    `json:"repeatCount"`
}

type voiceCallResponse struct {
	CallID string `json:"callId"`
	Status string `json:"status"`
}

func (a *VoiceAdapter) Send(ctx context.Context, targets models.DeliveryTargets, content models.ReminderContent, language string) (*SendResult, error) {
	if targets.Voice == nil || targets.Voice.PhoneNumber == "" {
		return nil, apperrors.NewConfigurationError("voice target missing phone number")
	}

	repeat := targets.Voice.RepeatCount
	if repeat == 0 {
		repeat = 1
	}

	var callResp voiceCallResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(voiceCallRequest{
			PhoneNumber: targets.Voice.PhoneNumber,
			Message:     reminderText(content, language),
			Language:    language,
			SlowSpeech:  targets.Voice.SlowSpeech,
			RepeatCount: repeat,
		}).
		SetResult(&callResp).
		Post(a.gatewayURL + "/v1/calls")
	if err != nil {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodVoice), err)
	}
	if resp.IsError() {
		return nil, apperrors.NewAdapterFailureError(string(models.MethodVoice),
			fmt.Errorf("voice gateway returned status %d", resp.StatusCode()))
	}

	return &SendResult{Success: true, MessageID: callResp.CallID}, nil
}
