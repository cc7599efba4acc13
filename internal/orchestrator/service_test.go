// internal/orchestrator/service_test.go
package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-orchestrator/internal/common/clock"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/models"
)

type mockProcessor struct {
	mu        sync.Mutex
	processed []string
	notify    chan string
}

func (m *mockProcessor) ProcessNotification(_ context.Context, req *models.DeliveryRequest) (*models.DeliveryResult, error) {
	m.mu.Lock()
	m.processed = append(m.processed, req.ID)
	m.mu.Unlock()
	if m.notify != nil {
		m.notify <- req.ID
	}
	result := &models.DeliveryResult{RequestID: req.ID, PatientID: req.PatientID}
	result.Outcomes = []models.MethodOutcome{{Method: models.MethodPush, Success: true}}
	result.Finalize(time.Now())
	return result, nil
}

func (m *mockProcessor) order() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.processed...)
}

type mockResponses struct {
	calls []string
}

func (m *mockResponses) RecordUserResponse(requestID, _ string) bool {
	m.calls = append(m.calls, requestID)
	return true
}

type mockRecorder struct {
	mu        sync.Mutex
	results   []*models.DeliveryResult
	responses []string
}

func (m *mockRecorder) RecordDeliveryResult(_ context.Context, result *models.DeliveryResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

func (m *mockRecorder) RecordResponse(_ context.Context, patientID string, _ models.DeliveryMethod, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, patientID)
	return nil
}

func queuedRequest(id string, priority models.Priority) *models.DeliveryRequest {
	return &models.DeliveryRequest{
		ID:        id,
		PatientID: "patient-1",
		Priority:  priority,
		Content:   models.ReminderContent{MedicationName: "Metformin", Language: "en"},
		Methods:   []models.DeliveryMethod{models.MethodPush},
	}
}

func newTestService(t *testing.T, clk clock.Clock) (*Service, *mockProcessor, *mockRecorder, *storage.MemoryRepository) {
	t.Helper()
	store := storage.NewMemory(clk)
	proc := &mockProcessor{}
	recorder := &mockRecorder{}
	svc := NewService(proc, &mockResponses{}, recorder, store, 30*time.Second, clk, logger.NewNoOpLogger())
	return svc, proc, recorder, store
}

func TestEnqueue_CriticalDispatchesImmediately(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, proc, recorder, store := newTestService(t, clk)

	require.NoError(t, svc.Enqueue(context.Background(), queuedRequest("req-crit", models.PriorityCritical)))

	assert.Equal(t, []string{"req-crit"}, proc.order())
	assert.Len(t, recorder.results, 1)

	// Immediate dispatch clears the pending entry.
	_, err := store.Get(context.Background(), storage.KeyDeliveryPending+"req-crit")
	assert.Equal(t, storage.ErrNotFound, err)
}

func TestEnqueue_MediumWaitsForBatch(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, proc, _, store := newTestService(t, clk)

	require.NoError(t, svc.Enqueue(context.Background(), queuedRequest("req-med", models.PriorityMedium)))
	assert.Empty(t, proc.order())

	_, err := store.Get(context.Background(), storage.KeyDeliveryPending+"req-med")
	require.NoError(t, err)

	svc.ProcessBatch(context.Background())
	assert.Equal(t, []string{"req-med"}, proc.order())
	_, err = store.Get(context.Background(), storage.KeyDeliveryPending+"req-med")
	assert.Equal(t, storage.ErrNotFound, err)
}

func TestProcessBatch_DrainsMostUrgentFirst(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, proc, _, _ := newTestService(t, clk)

	reqLow := queuedRequest("req-low", models.PriorityLow)
	reqLow.CreatedAt = clk.Now()
	reqMed1 := queuedRequest("req-med-1", models.PriorityMedium)
	reqMed1.CreatedAt = clk.Now().Add(time.Second)
	reqMed2 := queuedRequest("req-med-2", models.PriorityMedium)
	reqMed2.CreatedAt = clk.Now().Add(2 * time.Second)

	require.NoError(t, svc.Enqueue(context.Background(), reqLow))
	require.NoError(t, svc.Enqueue(context.Background(), reqMed2))
	require.NoError(t, svc.Enqueue(context.Background(), reqMed1))

	svc.ProcessBatch(context.Background())
	assert.Equal(t, []string{"req-med-1", "req-med-2", "req-low"}, proc.order())
}

// blockingProcessor parks its first call until the gate opens, standing in
// for a delivery stuck on a confirmation wait.
type blockingProcessor struct {
	mu      sync.Mutex
	calls   []string
	started chan struct{}
	gate    chan struct{}
}

func (p *blockingProcessor) ProcessNotification(_ context.Context, req *models.DeliveryRequest) (*models.DeliveryResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req.ID)
	first := len(p.calls) == 1
	p.mu.Unlock()
	if first {
		p.started <- struct{}{}
		<-p.gate
	}
	result := &models.DeliveryResult{RequestID: req.ID, PatientID: req.PatientID}
	result.Outcomes = []models.MethodOutcome{{Method: models.MethodPush, Success: true}}
	result.Finalize(time.Now())
	return result, nil
}

func (p *blockingProcessor) order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func TestEnqueue_BatchTickDuringImmediateDispatchDeliversOnce(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	store := storage.NewMemory(clk)
	proc := &blockingProcessor{started: make(chan struct{}), gate: make(chan struct{})}
	svc := NewService(proc, &mockResponses{}, &mockRecorder{}, store, 30*time.Second, clk, logger.NewNoOpLogger())

	done := make(chan error, 1)
	go func() {
		done <- svc.Enqueue(context.Background(), queuedRequest("req-crit", models.PriorityCritical))
	}()

	// The immediate dispatch is now mid-flight and the pending entry is
	// still in the store, exactly what an overlapping tick would see.
	<-proc.started
	svc.ProcessBatch(context.Background())

	close(proc.gate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"req-crit"}, proc.order())

	// A tick after completion finds no pending entry either.
	svc.ProcessBatch(context.Background())
	assert.Equal(t, []string{"req-crit"}, proc.order())
}

func TestRun_TickerDrivesBatches(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, proc, _, _ := newTestService(t, clk)
	proc.notify = make(chan string, 1)

	require.NoError(t, svc.Enqueue(context.Background(), queuedRequest("req-1", models.PriorityMedium)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	clk.Advance(30 * time.Second)
	select {
	case id := <-proc.notify:
		assert.Equal(t, "req-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not run on tick")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop on context cancellation")
	}
}

func TestRecordUserResponse_UpdatesStats(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _, recorder, _ := newTestService(t, clk)

	svc.RecordUserResponse(context.Background(), "req-1", "patient-1", models.MethodPush, models.ResponseTaken)
	assert.Equal(t, []string{"patient-1"}, recorder.responses)
}
