// internal/channels/channels_test.go
package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/models"
)

// ==========================
// Mock Implementations
// ==========================

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

func testContent() models.ReminderContent {
	return models.ReminderContent{
		MedicationName: "Metformin",
		Dosage:         "500mg",
		Instructions:   "Take with food.",
		Language:       "en",
	}
}

// ==========================
// SMS
// ==========================

func TestSMSAdapter_Send(t *testing.T) {
	var captured *sns.PublishInput
	mock := &MockSNSService{
		PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			captured = params
			return &sns.PublishOutput{MessageId: aws.String("msg-123")}, nil
		},
	}

	adapter := NewSMSAdapter(mock, "CarePlan")
	targets := models.DeliveryTargets{SMS: &models.SMSTarget{PhoneNumber: "+15551230001"}}

	result, err := adapter.Send(context.Background(), targets, testContent(), "en")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "msg-123", result.MessageID)

	require.NotNil(t, captured)
	assert.Equal(t, "+15551230001", aws.ToString(captured.PhoneNumber))
	assert.Contains(t, aws.ToString(captured.Message), "Metformin")
	assert.Contains(t, aws.ToString(captured.Message), "500mg")
	require.Contains(t, captured.MessageAttributes, "AWS.SNS.SMS.SenderID")
}

func TestSMSAdapter_MissingTarget(t *testing.T) {
	adapter := NewSMSAdapter(&MockSNSService{}, "")

	_, err := adapter.Send(context.Background(), models.DeliveryTargets{}, testContent(), "en")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigurationError))
}

func TestSMSAdapter_PublishFailure(t *testing.T) {
	mock := &MockSNSService{
		PublishFunc: func(_ context.Context, _ *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	adapter := NewSMSAdapter(mock, "")
	targets := models.DeliveryTargets{SMS: &models.SMSTarget{PhoneNumber: "+15551230001"}}

	_, err := adapter.Send(context.Background(), targets, testContent(), "en")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAdapterFailure))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSMSAdapter_LocalizedMessage(t *testing.T) {
	tests := []struct {
		language string
		expect   string
	}{
		{"en", "Medication reminder"},
		{"es", "Recordatorio"},
		{"ar", "تذكير"},
		{"en-US", "Medication reminder"},
		{"unknown", "Medication reminder"},
	}

	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			var captured string
			mock := &MockSNSService{
				PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
					captured = aws.ToString(params.Message)
					return &sns.PublishOutput{MessageId: aws.String("m")}, nil
				},
			}
			adapter := NewSMSAdapter(mock, "")
			targets := models.DeliveryTargets{SMS: &models.SMSTarget{PhoneNumber: "+15551230001"}}

			_, err := adapter.Send(context.Background(), targets, testContent(), tt.language)
			require.NoError(t, err)
			assert.Contains(t, captured, tt.expect)
		})
	}
}

// ==========================
// Push
// ==========================

func TestPushAdapter_Send(t *testing.T) {
	var captured *sns.PublishInput
	mock := &MockSNSService{
		PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			captured = params
			return &sns.PublishOutput{MessageId: aws.String("push-1")}, nil
		},
	}

	adapter := NewPushAdapter(mock)
	targets := models.DeliveryTargets{Push: &models.PushTarget{DeviceToken: "arn:aws:sns:us-east-1:123:endpoint/APNS/app/tok"}}

	result, err := adapter.Send(context.Background(), targets, testContent(), "en")
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.NotNil(t, captured)
	assert.Equal(t, "arn:aws:sns:us-east-1:123:endpoint/APNS/app/tok", aws.ToString(captured.TargetArn))

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.Message)), &payload))
	assert.NotEmpty(t, payload["title"])
	assert.Contains(t, payload["body"], "Metformin")
}

func TestPushAdapter_MissingTarget(t *testing.T) {
	adapter := NewPushAdapter(&MockSNSService{})

	_, err := adapter.Send(context.Background(), models.DeliveryTargets{}, testContent(), "en")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigurationError))
}

// ==========================
// Voice
// ==========================

func TestVoiceAdapter_Send(t *testing.T) {
	var captured voiceCallRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/calls", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"callId":"call-42","status":"queued"}`))
	}))
	defer server.Close()

	adapter := NewVoiceAdapter(server.URL, "secret", 5*time.Second)
	targets := models.DeliveryTargets{Voice: &models.VoiceTarget{
		PhoneNumber: "+15551230002",
		SlowSpeech:  true,
		RepeatCount: 2,
	}}

	result, err := adapter.Send(context.Background(), targets, testContent(), "en")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "call-42", result.MessageID)
	assert.Equal(t, "+15551230002", captured.PhoneNumber)
	assert.True(t, captured.SlowSpeech)
	assert.Equal(t, 2, captured.RepeatCount)
}

func TestVoiceAdapter_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := NewVoiceAdapter(server.URL, "", 5*time.Second)
	targets := models.DeliveryTargets{Voice: &models.VoiceTarget{PhoneNumber: "+15551230002"}}

	_, err := adapter.Send(context.Background(), targets, testContent(), "en")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAdapterFailure))
}

// ==========================
// Visual
// ==========================

func TestVisualAdapter_Send(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sub := client.Subscribe(context.Background(), "reminder:visual:device-7")
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	adapter := NewVisualAdapter(client, "")
	targets := models.DeliveryTargets{Visual: &models.VisualTarget{DeviceID: "device-7"}}

	result, err := adapter.Send(context.Background(), targets, testContent(), "en")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.MessageID)

	msg, err := sub.ReceiveMessage(context.Background())
	require.NoError(t, err)

	var payload visualPayload
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, result.MessageID, payload.MessageID)
	assert.Equal(t, "Metformin", payload.MedicationName)
}

// ==========================
// Email
// ==========================

func TestEmailAdapter_SendRaw(t *testing.T) {
	var captured *ses.SendEmailInput
	mock := &MockSESService{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			captured = params
			return &ses.SendEmailOutput{MessageId: aws.String("mail-1")}, nil
		},
	}

	adapter := NewEmailAdapter(mock, "alerts@careplan.example")
	result, err := adapter.SendRaw(context.Background(), "doctor@clinic.example", "Missed dose alert", "Patient missed 3 doses.")
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.NotNil(t, captured)
	assert.Equal(t, "alerts@careplan.example", aws.ToString(captured.Source))
	assert.Equal(t, []string{"doctor@clinic.example"}, captured.Destination.ToAddresses)
	assert.Equal(t, "Missed dose alert", aws.ToString(captured.Message.Subject.Data))
}

func TestRegistry(t *testing.T) {
	sms := NewSMSAdapter(&MockSNSService{}, "")
	push := NewPushAdapter(&MockSNSService{})
	registry := NewRegistry(sms, push)

	got, ok := registry.Get(models.MethodSMS)
	assert.True(t, ok)
	assert.Equal(t, sms, got)

	_, ok = registry.Get(models.MethodVoice)
	assert.False(t, ok)

	assert.Equal(t, []models.DeliveryMethod{models.MethodPush, models.MethodSMS}, registry.Methods())
}
