// internal/delivery/coordinator.go
package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"reminder-orchestrator/internal/channels"
	"reminder-orchestrator/internal/common/clock"
	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/metrics"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/cultural"
	"reminder-orchestrator/internal/models"
)

// Execution modes.
const (
	ModeSimultaneous = "simultaneous"
	ModeSequential   = "sequential"
)

// Escalator is the slice of the escalation engine the coordinator needs to
// report exhausted critical requests.
type Escalator interface {
	TriggerEmergencyEscalation(ctx context.Context, patientID, medicationID string, trigger models.TriggerType, escCtx models.EscalationContext) (*models.EscalationRecord, error)
}

// PreferenceSource supplies per-patient learned method preference, best
// first. Implemented by the analytics tracker.
type PreferenceSource interface {
	PreferredMethods(ctx context.Context, patientID string) []models.DeliveryMethod
}

// Config holds the coordinator's tunables.
type Config struct {
	Mode                         string
	InterMethodDelay             time.Duration
	TimeoutPeriod                time.Duration
	AdapterTimeout               time.Duration
	ConfirmationRequired         bool
	FailoverEnabled              bool
	RespectSchedulingConstraints bool
	MethodWeights                map[models.DeliveryMethod]int
}

// Coordinator evaluates cultural constraints, orders channel methods and
// executes them, producing one DeliveryResult per request.
type Coordinator struct {
	cfg      Config
	registry *channels.Registry
	cultural cultural.Provider
	store    storage.Repository
	prefs    PreferenceSource
	clk      clock.Clock
	log      logger.Logger
	hub      *responseHub

	mu        sync.RWMutex
	escalator Escalator
}

func NewCoordinator(
	cfg Config,
	registry *channels.Registry,
	culturalProvider cultural.Provider,
	store storage.Repository,
	clk clock.Clock,
	log logger.Logger,
) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		cultural: culturalProvider,
		store:    store,
		clk:      clk,
		log:      log.WithFields(map[string]interface{}{"component": "delivery-coordinator"}),
		hub:      newResponseHub(),
	}
}

// SetEscalator wires the escalation engine. Wired after construction
// because the engine delivers through the coordinator.
func (c *Coordinator) SetEscalator(e Escalator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escalator = e
}

// SetPreferenceSource wires the learned-preference provider.
func (c *Coordinator) SetPreferenceSource(p PreferenceSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs = p
}

// ProcessDeliveryRequest executes one reminder delivery. The caller always
// receives a DeliveryResult unless the request itself is unprocessable
// (missing wiring or an unsupported method).
func (c *Coordinator) ProcessDeliveryRequest(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryResult, error) {
	if c.registry == nil || c.store == nil || c.cultural == nil {
		return nil, apperrors.NewNotInitializedError("delivery-coordinator")
	}
	for _, m := range req.Methods {
		if _, ok := c.registry.Get(m); !ok {
			return nil, apperrors.NewUnsupportedMethodError(string(m))
		}
	}

	started := c.clk.Now()
	log := c.log.WithFields(map[string]interface{}{
		"requestId": req.ID,
		"patientId": req.PatientID,
		"priority":  string(req.Priority),
	})

	var assessment *cultural.Assessment
	if c.cfg.RespectSchedulingConstraints {
		var err error
		assessment, err = c.cultural.Evaluate(ctx, req.ScheduledAt, req.Content.Language)
		if err != nil {
			// Constraint evaluation is advisory; deliver on the default order.
			log.Warn("cultural constraint evaluation failed", map[string]interface{}{"error": err.Error()})
			assessment = nil
		}
	}

	var preferred []models.DeliveryMethod
	c.mu.RLock()
	prefs := c.prefs
	c.mu.RUnlock()
	if prefs != nil {
		preferred = prefs.PreferredMethods(ctx, req.PatientID)
	}

	ordered := orderMethods(req.Methods, c.cfg.MethodWeights, assessment, req.Profile, preferred)

	result := &models.DeliveryResult{
		RequestID:    req.ID,
		PatientID:    req.PatientID,
		MedicationID: req.MedicationID,
	}

	if c.cfg.Mode == ModeSequential {
		result.Outcomes = c.executeSequential(ctx, req, ordered)
	} else {
		result.Outcomes = c.executeSimultaneous(ctx, req, ordered)
	}

	result.Finalize(c.clk.Now())

	if !result.OverallSuccess && req.Priority == models.PriorityCritical {
		result.EscalationTriggered = true
		c.triggerEscalation(ctx, req, log)
	}

	c.persistResult(ctx, result, log)

	metrics.DeliveryDuration.WithLabelValues(c.cfg.Mode).Observe(c.clk.Now().Sub(started).Seconds())
	log.Info("delivery request processed", map[string]interface{}{
		"overallSuccess":      result.OverallSuccess,
		"escalationTriggered": result.EscalationTriggered,
		"attempts":            result.Analytics.TotalAttempts,
	})

	return result, nil
}

// RecordUserResponse delivers a user response for a request, cancelling any
// pending confirmation wait. Returns whether a wait was pending.
func (c *Coordinator) RecordUserResponse(requestID, response string) bool {
	metrics.ResponsesTotal.WithLabelValues(response).Inc()
	return c.hub.resolve(requestID, response)
}

// DeliverMethod attempts a single method for a request. Used by the
// escalation engine to drive per-tier retries with its own policy.
func (c *Coordinator) DeliverMethod(ctx context.Context, req *models.DeliveryRequest, method models.DeliveryMethod) models.MethodOutcome {
	return c.attemptMethod(ctx, req, method)
}

// executeSimultaneous fans out to all selected adapters concurrently and
// joins on every outcome. Outcome order follows the selected method order
// regardless of completion order.
func (c *Coordinator) executeSimultaneous(ctx context.Context, req *models.DeliveryRequest, methods []models.DeliveryMethod) []models.MethodOutcome {
	outcomes := make([]models.MethodOutcome, len(methods))

	var wg sync.WaitGroup
	for i, m := range methods {
		wg.Add(1)
		go func(slot int, method models.DeliveryMethod) {
			defer wg.Done()
			outcomes[slot] = c.attemptMethod(ctx, req, method)
		}(i, m)
	}
	wg.Wait()

	return outcomes
}

// executeSequential invokes methods one at a time. A confirmed "taken"
// response stops the sequence; failures continue to the next method only
// when failover is enabled.
func (c *Coordinator) executeSequential(ctx context.Context, req *models.DeliveryRequest, methods []models.DeliveryMethod) []models.MethodOutcome {
	var outcomes []models.MethodOutcome

	for i, m := range methods {
		if i > 0 && c.cfg.InterMethodDelay > 0 {
			select {
			case <-c.clk.After(c.cfg.InterMethodDelay):
			case <-ctx.Done():
				return outcomes
			}
		}

		outcome := c.attemptMethod(ctx, req, m)

		if outcome.Success && c.cfg.ConfirmationRequired {
			if response, ok := c.awaitResponse(ctx, req.ID); ok {
				outcome.UserResponse = response
				outcomes = append(outcomes, outcome)
				if response == models.ResponseTaken {
					return outcomes
				}
				continue
			}
			// Timed out: no response, fall through to the next method.
			outcomes = append(outcomes, outcome)
			continue
		}

		outcomes = append(outcomes, outcome)

		if !outcome.Success && !c.cfg.FailoverEnabled {
			return outcomes
		}
	}

	return outcomes
}

func (c *Coordinator) attemptMethod(ctx context.Context, req *models.DeliveryRequest, method models.DeliveryMethod) models.MethodOutcome {
	outcome := models.MethodOutcome{Method: method}

	adapter, ok := c.registry.Get(method)
	if !ok {
		outcome.Error = apperrors.NewUnsupportedMethodError(string(method)).Error()
		metrics.DeliveriesTotal.WithLabelValues(string(method), "failed").Inc()
		return outcome
	}

	sendCtx := ctx
	if c.cfg.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, c.cfg.AdapterTimeout)
		defer cancel()
	}

	res, err := adapter.Send(sendCtx, req.Targets, req.Content, req.Content.Language)
	if err != nil {
		outcome.Error = err.Error()
		metrics.DeliveriesTotal.WithLabelValues(string(method), "failed").Inc()
		return outcome
	}

	outcome.Success = res.Success
	outcome.MessageID = res.MessageID
	outcome.Error = res.Error
	if res.Success {
		now := c.clk.Now()
		outcome.DeliveredAt = &now
		metrics.DeliveriesTotal.WithLabelValues(string(method), "delivered").Inc()
	} else {
		metrics.DeliveriesTotal.WithLabelValues(string(method), "failed").Inc()
	}
	return outcome
}

// awaitResponse blocks until a user response arrives or the confirmation
// window expires. A timed-out wait is "no response", not an error.
func (c *Coordinator) awaitResponse(ctx context.Context, requestID string) (string, bool) {
	ch := c.hub.register(requestID)
	defer c.hub.drop(requestID)

	select {
	case response := <-ch:
		return response, true
	case <-c.clk.After(c.cfg.TimeoutPeriod):
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

func (c *Coordinator) triggerEscalation(ctx context.Context, req *models.DeliveryRequest, log logger.Logger) {
	c.mu.RLock()
	escalator := c.escalator
	c.mu.RUnlock()

	if escalator == nil {
		log.Error("escalation required but no engine wired", nil)
		return
	}

	_, err := escalator.TriggerEmergencyEscalation(ctx, req.PatientID, req.MedicationID, models.TriggerFailedDeliveries, models.EscalationContext{
		RequestID: req.ID,
		Priority:  req.Priority,
		Profile:   req.Profile,
	})
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeEscalationSuppressed) {
			log.Debug("escalation suppressed by cooldown", nil)
			return
		}
		log.Error("escalation trigger failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Coordinator) persistResult(ctx context.Context, result *models.DeliveryResult, log logger.Logger) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Error("marshal delivery result failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := c.store.Put(ctx, storage.KeyDeliveryResult+result.RequestID, payload, 0); err != nil {
		// The caller still gets the result; persistence is retried by
		// reprocessing, never by double-delivering.
		log.Error("persist delivery result failed", map[string]interface{}{"error": err.Error()})
	}
}
