// internal/analytics/tracker.go
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"reminder-orchestrator/internal/common/clock"
	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/models"
)

// MethodStats accumulates per-method delivery and response counters for
// one patient.
type MethodStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
	Taken     int `json:"taken"`
}

// TakenRate is the fraction of attempts confirmed taken.
func (s MethodStats) TakenRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Taken) / float64(s.Attempts)
}

// PatientStats is the per-patient adherence aggregate backing the
// preference-learning signal.
type PatientStats struct {
	PatientID          string                                 `json:"patientId"`
	Methods            map[models.DeliveryMethod]*MethodStats `json:"methods"`
	TotalRequests      int                                    `json:"totalRequests"`
	SuccessfulRequests int                                    `json:"successfulRequests"`
	UpdatedAt          time.Time                              `json:"updatedAt"`
}

// Tracker records delivery outcomes and user responses per patient and
// feeds the learned method preference back into delivery ordering.
// Finalized results are additionally indexed into Elasticsearch when a
// client is configured.
type Tracker struct {
	store   storage.Repository
	es      *elasticsearch.Client
	esIndex string
	clk     clock.Clock
	log     logger.Logger

	mu sync.Mutex
}

func NewTracker(store storage.Repository, es *elasticsearch.Client, esIndex string, clk clock.Clock, log logger.Logger) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if esIndex == "" {
		esIndex = "delivery-results"
	}
	return &Tracker{
		store:   store,
		es:      es,
		esIndex: esIndex,
		clk:     clk,
		log:     log.WithFields(map[string]interface{}{"component": "analytics-tracker"}),
	}
}

// RecordDeliveryResult folds a finalized result into the patient's stats.
func (t *Tracker) RecordDeliveryResult(ctx context.Context, result *models.DeliveryResult) {
	t.mu.Lock()
	stats, err := t.loadStatsLocked(ctx, result.PatientID)
	if err != nil {
		t.mu.Unlock()
		t.log.Error("load patient stats failed", map[string]interface{}{"patientId": result.PatientID, "error": err.Error()})
		return
	}

	stats.TotalRequests++
	if result.OverallSuccess {
		stats.SuccessfulRequests++
	}
	for _, outcome := range result.Outcomes {
		ms := stats.Methods[outcome.Method]
		if ms == nil {
			ms = &MethodStats{}
			stats.Methods[outcome.Method] = ms
		}
		ms.Attempts++
		if outcome.Success {
			ms.Successes++
		}
		if outcome.UserResponse == models.ResponseTaken {
			ms.Taken++
		}
	}
	stats.UpdatedAt = t.clk.Now()

	err = t.persistStatsLocked(ctx, stats)
	t.mu.Unlock()
	if err != nil {
		t.log.Error("persist patient stats failed", map[string]interface{}{"patientId": result.PatientID, "error": err.Error()})
	}

	t.indexResult(ctx, result)
}

// RecordResponse attributes a user response to the method that elicited it.
func (t *Tracker) RecordResponse(ctx context.Context, patientID string, method models.DeliveryMethod, response string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, err := t.loadStatsLocked(ctx, patientID)
	if err != nil {
		return err
	}

	ms := stats.Methods[method]
	if ms == nil {
		ms = &MethodStats{}
		stats.Methods[method] = ms
	}
	if response == models.ResponseTaken {
		ms.Taken++
	}
	stats.UpdatedAt = t.clk.Now()

	return t.persistStatsLocked(ctx, stats)
}

// PreferredMethods returns the patient's methods ordered by taken rate,
// best first. Methods without any confirmed response carry no signal and
// are omitted.
func (t *Tracker) PreferredMethods(ctx context.Context, patientID string) []models.DeliveryMethod {
	t.mu.Lock()
	stats, err := t.loadStatsLocked(ctx, patientID)
	t.mu.Unlock()
	if err != nil {
		t.log.Warn("preference lookup failed", map[string]interface{}{"patientId": patientID, "error": err.Error()})
		return nil
	}

	type ranked struct {
		method models.DeliveryMethod
		rate   float64
	}
	var candidates []ranked
	for method, ms := range stats.Methods {
		if ms.Taken == 0 {
			continue
		}
		candidates = append(candidates, ranked{method: method, rate: ms.TakenRate()})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rate != candidates[j].rate {
			return candidates[i].rate > candidates[j].rate
		}
		return candidates[i].method < candidates[j].method
	})

	methods := make([]models.DeliveryMethod, 0, len(candidates))
	for _, c := range candidates {
		methods = append(methods, c.method)
	}
	return methods
}

// Stats returns the patient's current aggregate.
func (t *Tracker) Stats(ctx context.Context, patientID string) (*PatientStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadStatsLocked(ctx, patientID)
}

func (t *Tracker) loadStatsLocked(ctx context.Context, patientID string) (*PatientStats, error) {
	raw, err := t.store.Get(ctx, storage.KeyPatientStats+patientID)
	if err == storage.ErrNotFound {
		return &PatientStats{
			PatientID: patientID,
			Methods:   make(map[models.DeliveryMethod]*MethodStats),
		}, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageFailureError("load patient stats", err)
	}
	var stats PatientStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, apperrors.NewStorageFailureError("decode patient stats", err)
	}
	if stats.Methods == nil {
		stats.Methods = make(map[models.DeliveryMethod]*MethodStats)
	}
	return &stats, nil
}

func (t *Tracker) persistStatsLocked(ctx context.Context, stats *PatientStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return apperrors.NewStorageFailureError("marshal patient stats", err)
	}
	if err := t.store.Put(ctx, storage.KeyPatientStats+stats.PatientID, payload, 0); err != nil {
		return apperrors.NewStorageFailureError("persist patient stats", err)
	}
	return nil
}

// indexResult ships the result to Elasticsearch. Indexing is best effort;
// a missing client or an indexing failure never affects delivery.
func (t *Tracker) indexResult(ctx context.Context, result *models.DeliveryResult) {
	if t.es == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		t.log.Error("marshal result for indexing failed", map[string]interface{}{"requestId": result.RequestID, "error": err.Error()})
		return
	}

	res, err := t.es.Index(
		t.esIndex,
		bytes.NewReader(payload),
		t.es.Index.WithDocumentID(result.RequestID),
		t.es.Index.WithContext(ctx),
	)
	if err != nil {
		t.log.Warn("result indexing failed", map[string]interface{}{"requestId": result.RequestID, "error": err.Error()})
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		t.log.Warn("result indexing rejected", map[string]interface{}{"requestId": result.RequestID, "status": res.StatusCode})
	}
}
