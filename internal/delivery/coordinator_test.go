// internal/delivery/coordinator_test.go
package delivery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-orchestrator/internal/channels"
	"reminder-orchestrator/internal/common/clock"
	"reminder-orchestrator/internal/common/config"
	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/cultural"
	"reminder-orchestrator/internal/models"
)

// stubAdapter implements channels.Adapter with an injectable send func.
type stubAdapter struct {
	method   models.DeliveryMethod
	sendFunc func(ctx context.Context, targets models.DeliveryTargets, content models.ReminderContent, language string) (*channels.SendResult, error)
	calls    int
}

func (a *stubAdapter) Method() models.DeliveryMethod { return a.method }

func (a *stubAdapter) Send(ctx context.Context, targets models.DeliveryTargets, content models.ReminderContent, language string) (*channels.SendResult, error) {
	a.calls++
	if a.sendFunc != nil {
		return a.sendFunc(ctx, targets, content, language)
	}
	return &channels.SendResult{Success: true, MessageID: "msg-" + string(a.method)}, nil
}

type mockEscalator struct {
	triggerFunc func(ctx context.Context, patientID, medicationID string, trigger models.TriggerType, escCtx models.EscalationContext) (*models.EscalationRecord, error)
	calls       int
}

func (m *mockEscalator) TriggerEmergencyEscalation(ctx context.Context, patientID, medicationID string, trigger models.TriggerType, escCtx models.EscalationContext) (*models.EscalationRecord, error) {
	m.calls++
	if m.triggerFunc != nil {
		return m.triggerFunc(ctx, patientID, medicationID, trigger, escCtx)
	}
	return &models.EscalationRecord{ID: "esc-1", PatientID: patientID}, nil
}

func testRequest(priority models.Priority, methods ...models.DeliveryMethod) *models.DeliveryRequest {
	return &models.DeliveryRequest{
		ID:           "req-1",
		PatientID:    "patient-1",
		MedicationID: "med-1",
		Content: models.ReminderContent{
			MedicationName: "Metformin",
			Dosage:         "500mg",
			Language:       "en",
		},
		Methods:     methods,
		Priority:    priority,
		ScheduledAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func newTestCoordinator(t *testing.T, cfg Config, clk clock.Clock, adapters ...channels.Adapter) (*Coordinator, *storage.MemoryRepository) {
	t.Helper()
	if cfg.MethodWeights == nil {
		cfg.MethodWeights = map[models.DeliveryMethod]int{
			models.MethodPush: 40, models.MethodSMS: 30, models.MethodVoice: 20, models.MethodVisual: 10,
		}
	}
	store := storage.NewMemory(clk)
	c := NewCoordinator(
		cfg,
		channels.NewRegistry(adapters...),
		cultural.NewStaticProvider(config.CulturalConfig{}),
		store,
		clk,
		logger.NewNoOpLogger(),
	)
	return c, store
}

func TestProcessDeliveryRequest_SimultaneousPartialSuccess(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	push := &stubAdapter{method: models.MethodPush}
	sms := &stubAdapter{
		method: models.MethodSMS,
		sendFunc: func(context.Context, models.DeliveryTargets, models.ReminderContent, string) (*channels.SendResult, error) {
			return &channels.SendResult{Success: false, Error: "carrier rejected"}, nil
		},
	}

	c, store := newTestCoordinator(t, Config{Mode: ModeSimultaneous}, clk, push, sms)

	result, err := c.ProcessDeliveryRequest(context.Background(), testRequest(models.PriorityMedium, models.MethodPush, models.MethodSMS))
	require.NoError(t, err)

	assert.True(t, result.OverallSuccess)
	assert.False(t, result.EscalationTriggered)
	require.Len(t, result.Outcomes, 2)
	// Outcome order follows the selected order, not completion order.
	assert.Equal(t, models.MethodPush, result.Outcomes[0].Method)
	assert.True(t, result.Outcomes[0].Success)
	assert.Equal(t, models.MethodSMS, result.Outcomes[1].Method)
	assert.False(t, result.Outcomes[1].Success)
	assert.Equal(t, 2, result.Analytics.TotalAttempts)
	assert.Equal(t, 1, result.Analytics.SuccessfulDeliveries)
	assert.Equal(t, models.MethodPush, result.Analytics.PreferredMethod)

	raw, err := store.Get(context.Background(), storage.KeyDeliveryResult+"req-1")
	require.NoError(t, err)
	var persisted models.DeliveryResult
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, result.RequestID, persisted.RequestID)
}

func TestProcessDeliveryRequest_CriticalAllFailedTriggersEscalation(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	failing := func(context.Context, models.DeliveryTargets, models.ReminderContent, string) (*channels.SendResult, error) {
		return nil, apperrors.NewAdapterFailureError("push", assert.AnError)
	}
	push := &stubAdapter{method: models.MethodPush, sendFunc: failing}
	sms := &stubAdapter{method: models.MethodSMS, sendFunc: failing}

	c, _ := newTestCoordinator(t, Config{Mode: ModeSimultaneous}, clk, push, sms)
	escalator := &mockEscalator{}
	c.SetEscalator(escalator)

	result, err := c.ProcessDeliveryRequest(context.Background(), testRequest(models.PriorityCritical, models.MethodPush, models.MethodSMS))
	require.NoError(t, err)

	assert.False(t, result.OverallSuccess)
	assert.True(t, result.EscalationTriggered)
	assert.Equal(t, 1, escalator.calls)
}

func TestProcessDeliveryRequest_MediumAllFailedNoEscalation(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	push := &stubAdapter{
		method: models.MethodPush,
		sendFunc: func(context.Context, models.DeliveryTargets, models.ReminderContent, string) (*channels.SendResult, error) {
			return &channels.SendResult{Success: false, Error: "endpoint disabled"}, nil
		},
	}

	c, _ := newTestCoordinator(t, Config{Mode: ModeSimultaneous}, clk, push)
	escalator := &mockEscalator{}
	c.SetEscalator(escalator)

	result, err := c.ProcessDeliveryRequest(context.Background(), testRequest(models.PriorityMedium, models.MethodPush))
	require.NoError(t, err)

	assert.False(t, result.OverallSuccess)
	assert.False(t, result.EscalationTriggered)
	assert.Equal(t, 0, escalator.calls)
}

func TestProcessDeliveryRequest_SequentialTakenStopsSequence(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	push := &stubAdapter{method: models.MethodPush}
	sms := &stubAdapter{method: models.MethodSMS}

	cfg := Config{
		Mode:                 ModeSequential,
		ConfirmationRequired: true,
		FailoverEnabled:      true,
		TimeoutPeriod:        5 * time.Minute,
		InterMethodDelay:     time.Minute,
	}
	c, _ := newTestCoordinator(t, cfg, clk, push, sms)

	done := make(chan *models.DeliveryResult, 1)
	go func() {
		result, err := c.ProcessDeliveryRequest(context.Background(), testRequest(models.PriorityHigh, models.MethodPush, models.MethodSMS))
		require.NoError(t, err)
		done <- result
	}()

	// Push delivers first, then the coordinator parks on the confirmation
	// window. Respond before the window elapses.
	clk.BlockUntilWaiters(1)
	require.True(t, c.RecordUserResponse("req-1", models.ResponseTaken))

	result := <-done
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.MethodPush, result.Outcomes[0].Method)
	assert.Equal(t, models.ResponseTaken, result.Outcomes[0].UserResponse)
	assert.Equal(t, 0, sms.calls)
	assert.True(t, result.OverallSuccess)
}

func TestProcessDeliveryRequest_SequentialTimeoutFallsOver(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	push := &stubAdapter{method: models.MethodPush}
	sms := &stubAdapter{method: models.MethodSMS}

	cfg := Config{
		Mode:                 ModeSequential,
		ConfirmationRequired: true,
		FailoverEnabled:      true,
		TimeoutPeriod:        5 * time.Minute,
		InterMethodDelay:     time.Minute,
	}
	c, _ := newTestCoordinator(t, cfg, clk, push, sms)

	done := make(chan *models.DeliveryResult, 1)
	go func() {
		result, err := c.ProcessDeliveryRequest(context.Background(), testRequest(models.PriorityHigh, models.MethodPush, models.MethodSMS))
		require.NoError(t, err)
		done <- result
	}()

	// First confirmation window expires with no response.
	clk.BlockUntilWaiters(1)
	clk.Advance(5 * time.Minute)
	// Inter-method delay before SMS.
	clk.BlockUntilWaiters(1)
	clk.Advance(time.Minute)
	// Second confirmation window also expires.
	clk.BlockUntilWaiters(1)
	clk.Advance(5 * time.Minute)

	result := <-done
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, models.MethodPush, result.Outcomes[0].Method)
	assert.Equal(t, models.MethodSMS, result.Outcomes[1].Method)
	assert.Empty(t, result.Outcomes[0].UserResponse)
	assert.Equal(t, 1, sms.calls)
}

func TestProcessDeliveryRequest_SequentialFailureWithoutFailoverStops(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	push := &stubAdapter{
		method: models.MethodPush,
		sendFunc: func(context.Context, models.DeliveryTargets, models.ReminderContent, string) (*channels.SendResult, error) {
			return &channels.SendResult{Success: false, Error: "endpoint disabled"}, nil
		},
	}
	sms := &stubAdapter{method: models.MethodSMS}

	c, _ := newTestCoordinator(t, Config{Mode: ModeSequential, FailoverEnabled: false}, clk, push, sms)

	result, err := c.ProcessDeliveryRequest(context.Background(), testRequest(models.PriorityMedium, models.MethodPush, models.MethodSMS))
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, 0, sms.calls)
	assert.False(t, result.OverallSuccess)
}

func TestProcessDeliveryRequest_UnsupportedMethod(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	c, _ := newTestCoordinator(t, Config{Mode: ModeSimultaneous}, clk, &stubAdapter{method: models.MethodPush})

	_, err := c.ProcessDeliveryRequest(context.Background(), testRequest(models.PriorityMedium, models.MethodVoice))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnsupportedMethod))
}

func TestRecordUserResponse_NoPendingWait(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	c, _ := newTestCoordinator(t, Config{Mode: ModeSimultaneous}, clk, &stubAdapter{method: models.MethodPush})

	assert.False(t, c.RecordUserResponse("unknown-request", models.ResponseSnoozed))
}

func TestDeliverMethod_SingleAttempt(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	voice := &stubAdapter{method: models.MethodVoice}
	c, _ := newTestCoordinator(t, Config{Mode: ModeSequential}, clk, voice)

	outcome := c.DeliverMethod(context.Background(), testRequest(models.PriorityCritical, models.MethodVoice), models.MethodVoice)
	assert.True(t, outcome.Success)
	assert.Equal(t, models.MethodVoice, outcome.Method)
	assert.Equal(t, 1, voice.calls)
}
