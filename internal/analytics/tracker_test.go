// internal/analytics/tracker_test.go
package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-orchestrator/internal/common/clock"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/models"
)

func newTestTracker(t *testing.T) (*Tracker, *storage.MemoryRepository) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	store := storage.NewMemory(clk)
	return NewTracker(store, nil, "", clk, logger.NewNoOpLogger()), store
}

func result(patientID string, outcomes ...models.MethodOutcome) *models.DeliveryResult {
	r := &models.DeliveryResult{
		RequestID: "req-" + patientID,
		PatientID: patientID,
		Outcomes:  outcomes,
	}
	r.Finalize(time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC))
	return r
}

func TestRecordDeliveryResult_AccumulatesStats(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.RecordDeliveryResult(ctx, result("patient-1",
		models.MethodOutcome{Method: models.MethodPush, Success: true, UserResponse: models.ResponseTaken},
		models.MethodOutcome{Method: models.MethodSMS, Success: false},
	))
	tracker.RecordDeliveryResult(ctx, result("patient-1",
		models.MethodOutcome{Method: models.MethodPush, Success: false},
	))

	stats, err := tracker.Stats(ctx, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRequests)
	assert.Equal(t, 1, stats.SuccessfulRequests)

	push := stats.Methods[models.MethodPush]
	require.NotNil(t, push)
	assert.Equal(t, 2, push.Attempts)
	assert.Equal(t, 1, push.Successes)
	assert.Equal(t, 1, push.Taken)

	sms := stats.Methods[models.MethodSMS]
	require.NotNil(t, sms)
	assert.Equal(t, 1, sms.Attempts)
	assert.Equal(t, 0, sms.Taken)
}

func TestPreferredMethods_OrderedByTakenRate(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	// Voice: 2/2 taken. Push: 1/3 taken. SMS: attempted, never taken.
	tracker.RecordDeliveryResult(ctx, result("patient-1",
		models.MethodOutcome{Method: models.MethodVoice, Success: true, UserResponse: models.ResponseTaken},
		models.MethodOutcome{Method: models.MethodPush, Success: true, UserResponse: models.ResponseTaken},
		models.MethodOutcome{Method: models.MethodSMS, Success: true},
	))
	tracker.RecordDeliveryResult(ctx, result("patient-1",
		models.MethodOutcome{Method: models.MethodVoice, Success: true, UserResponse: models.ResponseTaken},
		models.MethodOutcome{Method: models.MethodPush, Success: true, UserResponse: models.ResponseSnoozed},
	))
	tracker.RecordDeliveryResult(ctx, result("patient-1",
		models.MethodOutcome{Method: models.MethodPush, Success: true},
	))

	preferred := tracker.PreferredMethods(ctx, "patient-1")
	assert.Equal(t, []models.DeliveryMethod{models.MethodVoice, models.MethodPush}, preferred)
}

func TestPreferredMethods_NoHistory(t *testing.T) {
	tracker, _ := newTestTracker(t)
	assert.Empty(t, tracker.PreferredMethods(context.Background(), "unknown-patient"))
}

func TestRecordResponse_CountsTakenOnly(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RecordResponse(ctx, "patient-1", models.MethodSMS, models.ResponseTaken))
	require.NoError(t, tracker.RecordResponse(ctx, "patient-1", models.MethodSMS, models.ResponseSkipped))

	stats, err := tracker.Stats(ctx, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Methods[models.MethodSMS].Taken)
}

func TestRecordDeliveryResult_NilElasticsearchClientIsSafe(t *testing.T) {
	tracker, _ := newTestTracker(t)
	assert.NotPanics(t, func() {
		tracker.RecordDeliveryResult(context.Background(), result("patient-1",
			models.MethodOutcome{Method: models.MethodPush, Success: true},
		))
	})
}
