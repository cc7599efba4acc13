// internal/orchestrator/service.go
package orchestrator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reminder-orchestrator/internal/common/clock"
	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/models"
)

// Processor executes a queued request through its priority tier.
type Processor interface {
	ProcessNotification(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryResult, error)
}

// ResponseRecorder cancels pending confirmation waits when a user responds.
type ResponseRecorder interface {
	RecordUserResponse(requestID, response string) bool
}

// Recorder is the analytics tracker's slice used by the service.
type Recorder interface {
	RecordDeliveryResult(ctx context.Context, result *models.DeliveryResult)
	RecordResponse(ctx context.Context, patientID string, method models.DeliveryMethod, response string) error
}

// Service is the entry point an external scheduler talks to. Requests are
// queued durably; high and critical priorities dispatch immediately, the
// rest drain on a fixed batch interval.
type Service struct {
	proc      Processor
	responses ResponseRecorder
	recorder  Recorder
	store     storage.Repository
	clk       clock.Clock
	log       logger.Logger
	interval  time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(
	proc Processor,
	responses ResponseRecorder,
	recorder Recorder,
	store storage.Repository,
	interval time.Duration,
	clk clock.Clock,
	log logger.Logger,
) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		proc:      proc,
		responses: responses,
		recorder:  recorder,
		store:     store,
		clk:       clk,
		log:       log.WithFields(map[string]interface{}{"component": "orchestrator"}),
		interval:  interval,
		inflight:  map[string]struct{}{},
	}
}

// Enqueue accepts a delivery request from the scheduler. The request is
// persisted before any processing, so a crash never loses it. High and
// critical priorities are processed before Enqueue returns.
func (s *Service) Enqueue(ctx context.Context, req *models.DeliveryRequest) error {
	if s.proc == nil || s.store == nil {
		return apperrors.NewNotInitializedError("orchestrator")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.clk.Now()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return apperrors.NewStorageFailureError("marshal pending request", err)
	}
	if err := s.store.Put(ctx, storage.KeyDeliveryPending+req.ID, payload, 0); err != nil {
		return apperrors.NewStorageFailureError("enqueue request", err)
	}

	if req.Priority.Rank() >= models.PriorityHigh.Rank() {
		s.process(ctx, req)
		return nil
	}

	s.log.Debug("request queued for batch dispatch", map[string]interface{}{
		"requestId": req.ID,
		"priority":  string(req.Priority),
	})
	return nil
}

// RecordUserResponse feeds a user response through: it cancels any pending
// confirmation wait and updates the patient's adherence stats.
func (s *Service) RecordUserResponse(ctx context.Context, requestID, patientID string, method models.DeliveryMethod, response string) {
	pending := false
	if s.responses != nil {
		pending = s.responses.RecordUserResponse(requestID, response)
	}
	if s.recorder != nil {
		if err := s.recorder.RecordResponse(ctx, patientID, method, response); err != nil {
			s.log.Error("response stat update failed", map[string]interface{}{"patientId": patientID, "error": err.Error()})
		}
	}
	s.log.Info("user response recorded", map[string]interface{}{
		"requestId":  requestID,
		"response":   response,
		"waitCancel": pending,
	})
}

// Run drains the batch queue on the configured interval until the context
// is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("orchestrator batch loop started", map[string]interface{}{"interval": s.interval.String()})

	for {
		select {
		case <-ctx.Done():
			s.log.Info("orchestrator batch loop stopped", nil)
			return
		case <-ticker.C():
			s.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch drains every pending request, most urgent first. Exported
// so tests and an admin path can force a pass.
func (s *Service) ProcessBatch(ctx context.Context) {
	entries, err := s.store.List(ctx, storage.KeyDeliveryPending)
	if err != nil {
		s.log.Error("pending queue list failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(entries) == 0 {
		return
	}

	var batch []*models.DeliveryRequest
	for key, raw := range entries {
		var req models.DeliveryRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			s.log.Warn("dropping undecodable pending request", map[string]interface{}{"key": key, "error": err.Error()})
			_ = s.store.Delete(ctx, key)
			continue
		}
		batch = append(batch, &req)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Priority.Rank() != batch[j].Priority.Rank() {
			return batch[i].Priority.Rank() > batch[j].Priority.Rank()
		}
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})

	s.log.Info("processing delivery batch", map[string]interface{}{"size": len(batch)})
	for _, req := range batch {
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, req)
	}
}

// acquire claims a request id for processing. The pending entry stays in
// the store until the delivery finishes, so a batch tick overlapping a
// long confirmation wait would list it again; the in-flight set is what
// keeps that second dispatch out.
func (s *Service) acquire(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[requestID]; busy {
		return false
	}
	s.inflight[requestID] = struct{}{}
	return true
}

func (s *Service) release(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, requestID)
}

func (s *Service) process(ctx context.Context, req *models.DeliveryRequest) {
	if !s.acquire(req.ID) {
		s.log.Debug("request already in flight", map[string]interface{}{"requestId": req.ID})
		return
	}
	defer s.release(req.ID)

	// A batch snapshot can outlive the delivery it listed. The entry is
	// deleted before the id is released, so a stale snapshot re-acquiring
	// here finds nothing and skips.
	if _, err := s.store.Get(ctx, storage.KeyDeliveryPending+req.ID); err == storage.ErrNotFound {
		return
	}

	result, err := s.proc.ProcessNotification(ctx, req)
	if err != nil {
		s.log.Error("request processing failed", map[string]interface{}{
			"requestId": req.ID,
			"error":     err.Error(),
		})
		// The pending entry stays; the next batch retries it.
		return
	}

	if s.recorder != nil {
		s.recorder.RecordDeliveryResult(ctx, result)
	}
	if err := s.store.Delete(ctx, storage.KeyDeliveryPending+req.ID); err != nil && err != storage.ErrNotFound {
		s.log.Warn("pending entry cleanup failed", map[string]interface{}{"requestId": req.ID, "error": err.Error()})
	}
}
