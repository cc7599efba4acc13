// internal/escalation/engine.go
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"reminder-orchestrator/internal/channels"
	"reminder-orchestrator/internal/common/clock"
	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/metrics"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/models"
)

// Deliverer is the slice of the delivery coordinator the engine drives for
// per-method tier delivery.
type Deliverer interface {
	DeliverMethod(ctx context.Context, req *models.DeliveryRequest, method models.DeliveryMethod) models.MethodOutcome
}

// Broadcaster is the family/emergency broadcast service.
type Broadcaster interface {
	SendFamilyEmergencyNotification(ctx context.Context, emergency models.EmergencyContext, circle *models.FamilyCircle, emergencyType models.EmergencyType) (string, error)
}

// ContactSource resolves a patient's family circle.
type ContactSource interface {
	GetFamilyCircle(ctx context.Context, patientID string) (*models.FamilyCircle, error)
}

// DoctorAlerter sends structured clinical alerts. Implemented by the email
// channel adapter.
type DoctorAlerter interface {
	SendRaw(ctx context.Context, to, subject, body string) (*channels.SendResult, error)
}

// EmergencyDispatcher hands an escalation to an external emergency channel.
type EmergencyDispatcher interface {
	Dispatch(ctx context.Context, record *models.EscalationRecord) error
}

// LogDispatcher is the default EmergencyDispatcher. Real deployments plug
// in an integration with the regional emergency service.
type LogDispatcher struct {
	log logger.Logger
}

func NewLogDispatcher(log logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, record *models.EscalationRecord) error {
	d.log.Warn("emergency services dispatch requested", map[string]interface{}{
		"escalationId": record.ID,
		"patientId":    record.PatientID,
		"medicationId": record.MedicationID,
		"trigger":      string(record.TriggerType),
	})
	return nil
}

// requestOverride holds the in-flight adjustments escalation actions make
// to a request. Overrides bind to the request id; they never outlive it.
type requestOverride struct {
	priority models.Priority
	methods  []models.DeliveryMethod
}

// Engine evaluates priority tiers and escalation rules. Tier delivery is
// delegated per method to the coordinator; escalations fan out through the
// broadcaster, the doctor alerter and the emergency dispatcher.
type Engine struct {
	tiers      *TierStore
	deliverer  Deliverer
	store      storage.Repository
	clk        clock.Clock
	log        logger.Logger
	cooldown   time.Duration

	mu          sync.RWMutex
	broadcaster Broadcaster
	contacts    ContactSource
	doctor      DoctorAlerter
	doctorFrom  string
	dispatcher  EmergencyDispatcher
	overrides   map[string]*requestOverride
}

func NewEngine(
	tiers *TierStore,
	deliverer Deliverer,
	store storage.Repository,
	cooldown time.Duration,
	clk clock.Clock,
	log logger.Logger,
) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		tiers:     tiers,
		deliverer: deliverer,
		store:     store,
		cooldown:  cooldown,
		clk:       clk,
		log:       log.WithFields(map[string]interface{}{"component": "escalation-engine"}),
		overrides: make(map[string]*requestOverride),
	}
}

func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcaster = b
}

func (e *Engine) SetContactSource(c ContactSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contacts = c
}

func (e *Engine) SetDoctorAlerter(d DoctorAlerter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doctor = d
}

func (e *Engine) SetDispatcher(d EmergencyDispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatcher = d
}

// ProcessNotification delivers a request through its priority tier's method
// list with the tier's retry policy. Delivery stops at the first confirmed
// method; a method's failover chain gets one attempt each after its retries
// exhaust.
func (e *Engine) ProcessNotification(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryResult, error) {
	if e.deliverer == nil || e.store == nil {
		return nil, apperrors.NewNotInitializedError("escalation-engine")
	}

	priority, methodsOverride := e.effectiveRequest(req)
	tier, err := e.tiers.Tier(priority)
	if err != nil {
		return nil, err
	}

	result := &models.DeliveryResult{
		RequestID:    req.ID,
		PatientID:    req.PatientID,
		MedicationID: req.MedicationID,
	}

	methodEscalationEligible := false

	for _, mc := range tier.Methods {
		if !mc.Enabled {
			continue
		}
		if len(methodsOverride) > 0 && !containsMethod(methodsOverride, mc.Type) {
			continue
		}

		if mc.Delay > 0 {
			select {
			case <-e.clk.After(mc.Delay):
			case <-ctx.Done():
				result.Finalize(e.clk.Now())
				return result, ctx.Err()
			}
		}

		outcomes, eligible := e.deliverWithRetries(ctx, req, mc, tier.Retry)
		result.Outcomes = append(result.Outcomes, outcomes...)
		methodEscalationEligible = methodEscalationEligible || eligible

		if delivered(outcomes) {
			break
		}

		for _, fallback := range mc.Failover {
			outcome := e.deliverer.DeliverMethod(ctx, req, fallback)
			result.Outcomes = append(result.Outcomes, outcome)
			if outcome.Success {
				break
			}
		}
		if delivered(result.Outcomes) {
			break
		}
	}

	result.Finalize(e.clk.Now())

	if !result.OverallSuccess && priority == models.PriorityCritical {
		result.EscalationTriggered = true
		if methodEscalationEligible {
			e.log.Debug("method escalation eligibility reached before retry exhaustion", map[string]interface{}{"requestId": req.ID})
		}
		if _, err := e.TriggerEmergencyEscalation(ctx, req.PatientID, req.MedicationID, models.TriggerFailedDeliveries, models.EscalationContext{
			RequestID: req.ID,
			Priority:  priority,
			Profile:   req.Profile,
		}); err != nil && !apperrors.IsCode(err, apperrors.ErrCodeEscalationSuppressed) {
			e.log.Error("tier escalation trigger failed", map[string]interface{}{"requestId": req.ID, "error": err.Error()})
		}
	}

	e.persistResult(ctx, result)
	return result, nil
}

// deliverWithRetries attempts one method config with exponential backoff.
// The second return reports escalation eligibility per the policy's
// EscalateAfter threshold.
func (e *Engine) deliverWithRetries(ctx context.Context, req *models.DeliveryRequest, mc models.MethodConfig, policy models.RetryPolicy) ([]models.MethodOutcome, bool) {
	maxAttempts := policy.MaxAttempts
	if mc.MaxRetries > 0 && mc.MaxRetries < maxAttempts {
		maxAttempts = mc.MaxRetries
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var outcomes []models.MethodOutcome
	consecutiveFailures := 0
	eligible := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome := e.deliverer.DeliverMethod(ctx, req, mc.Type)
		outcomes = append(outcomes, outcome)

		if outcome.Success {
			return outcomes, eligible
		}

		consecutiveFailures++
		if policy.EscalateAfter > 0 && consecutiveFailures >= policy.EscalateAfter {
			eligible = true
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-e.clk.After(backoffDelay(policy, attempt)):
		case <-ctx.Done():
			return outcomes, eligible
		}
	}

	return outcomes, eligible
}

// backoffDelay computes min(base * multiplier^(attempt-1), max).
func backoffDelay(policy models.RetryPolicy, attempt int) time.Duration {
	mult := policy.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(policy.BaseDelay) * math.Pow(mult, float64(attempt-1)))
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	return d
}

// TriggerEmergencyEscalation fires the matching escalation rules for a
// patient/medication pair. A second trigger inside the cooldown window is
// suppressed; the check-and-set on the active key is atomic, so concurrent
// triggers produce exactly one record.
func (e *Engine) TriggerEmergencyEscalation(ctx context.Context, patientID, medicationID string, trigger models.TriggerType, escCtx models.EscalationContext) (*models.EscalationRecord, error) {
	if e.store == nil {
		return nil, apperrors.NewNotInitializedError("escalation-engine")
	}

	recordID := uuid.New().String()
	activeKey := storage.KeyEscalationActive + patientID + ":" + medicationID

	inserted, err := e.store.PutIfAbsent(ctx, activeKey, []byte(recordID), e.cooldown)
	if err != nil {
		return nil, apperrors.NewStorageFailureError("escalation cooldown check", err)
	}
	if !inserted {
		return nil, apperrors.NewEscalationSuppressedError(patientID, medicationID)
	}

	now := e.clk.Now()
	record := &models.EscalationRecord{
		ID:           recordID,
		RequestID:    escCtx.RequestID,
		PatientID:    patientID,
		MedicationID: medicationID,
		TriggerType:  trigger,
		TriggerTime:  now,
		Level:        1,
		Status:       models.EscalationActive,
		UpdatedAt:    now,
	}

	matched := e.matchRules(trigger, medicationID, escCtx, now)
	log := e.log.WithFields(map[string]interface{}{
		"escalationId": recordID,
		"patientId":    patientID,
		"medicationId": medicationID,
		"trigger":      string(trigger),
	})
	log.Info("escalation triggered", map[string]interface{}{"matchedRules": len(matched)})

	if len(matched) > 0 {
		record.RuleID = matched[0].ID
	}
	e.persistRecord(ctx, record)

	metrics.EscalationsTriggered.WithLabelValues(string(trigger)).Inc()
	metrics.EscalationsActive.Inc()

	for _, rule := range matched {
		e.executeRule(ctx, record, rule, escCtx, log)
	}

	return record, nil
}

// matchRules selects the enabled rules whose trigger condition is satisfied
// by the current context.
func (e *Engine) matchRules(trigger models.TriggerType, medicationID string, escCtx models.EscalationContext, now time.Time) []models.EscalationRule {
	var matched []models.EscalationRule
	for _, rule := range e.tiers.Rules() {
		if !rule.Enabled || rule.Trigger.Type != trigger {
			continue
		}
		if !thresholdMet(rule.Trigger, escCtx, now) {
			continue
		}
		if !filtersMatch(rule.Trigger.Conditions, medicationID, escCtx) {
			continue
		}
		matched = append(matched, rule)
	}
	return matched
}

func thresholdMet(cond models.TriggerCondition, escCtx models.EscalationContext, now time.Time) bool {
	switch cond.Type {
	case models.TriggerMissedDoses:
		if escCtx.MissedDoses < cond.Threshold {
			return false
		}
	case models.TriggerNoResponse:
		if cond.Threshold > 1 && escCtx.MissedDoses < cond.Threshold {
			return false
		}
	}
	if cond.TimeWindow > 0 && !escCtx.WindowStart.IsZero() {
		if now.Sub(escCtx.WindowStart) > cond.TimeWindow {
			return false
		}
	}
	return true
}

func filtersMatch(filters *models.TriggerFilters, medicationID string, escCtx models.EscalationContext) bool {
	if filters == nil {
		return true
	}
	if len(filters.MedicationIDs) > 0 && !containsString(filters.MedicationIDs, medicationID) {
		return false
	}
	if len(filters.Priorities) > 0 {
		found := false
		for _, p := range filters.Priorities {
			if p == escCtx.Priority {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filters.ElderlyOnly && !escCtx.Profile.Elderly {
		return false
	}
	return true
}

// executeRule runs a rule's actions in order. Each action's delay is
// honored, the record state is re-read before each action so a resolution
// that arrived mid-sequence stops further actions, and a single action's
// failure never aborts its siblings.
func (e *Engine) executeRule(ctx context.Context, record *models.EscalationRecord, rule models.EscalationRule, escCtx models.EscalationContext, log logger.Logger) {
	for _, action := range rule.Actions {
		if action.Delay > 0 {
			select {
			case <-e.clk.After(action.Delay):
			case <-ctx.Done():
				return
			}
		}

		if !e.stillActive(ctx, record.ID) {
			record.Actions = append(record.Actions, models.ActionResult{
				Type:       action.Type,
				ExecutedAt: e.clk.Now(),
				Skipped:    true,
			})
			e.persistRecord(ctx, record)
			log.Info("escalation resolved mid-sequence, remaining actions skipped", map[string]interface{}{"skippedAction": string(action.Type)})
			return
		}

		err := e.executeAction(ctx, record, action, escCtx)
		result := models.ActionResult{
			Type:       action.Type,
			ExecutedAt: e.clk.Now(),
			Success:    err == nil,
		}
		if err != nil {
			result.Error = err.Error()
			log.Error("escalation action failed", map[string]interface{}{
				"action": string(action.Type),
				"error":  err.Error(),
			})
		}
		record.Actions = append(record.Actions, result)
		record.UpdatedAt = e.clk.Now()
		e.persistRecord(ctx, record)
	}
}

func (e *Engine) executeAction(ctx context.Context, record *models.EscalationRecord, action models.EscalationAction, escCtx models.EscalationContext) error {
	switch action.Type {
	case models.ActionNotifyFamily:
		return e.notifyFamily(ctx, record, escCtx)
	case models.ActionNotifyDoctor:
		return e.notifyDoctor(ctx, record, escCtx)
	case models.ActionEmergencyServices:
		return e.dispatchEmergency(ctx, record)
	case models.ActionIncreasePriority:
		e.increasePriority(record.RequestID, escCtx.Priority)
		return nil
	case models.ActionChangeDeliveryMethod:
		e.changeDeliveryMethods(record.RequestID, action.Methods)
		return nil
	default:
		return apperrors.NewEscalationActionFailedError(string(action.Type), fmt.Errorf("unknown action type"))
	}
}

func (e *Engine) notifyFamily(ctx context.Context, record *models.EscalationRecord, escCtx models.EscalationContext) error {
	e.mu.RLock()
	broadcaster := e.broadcaster
	contacts := e.contacts
	e.mu.RUnlock()

	if broadcaster == nil || contacts == nil {
		return apperrors.NewEscalationActionFailedError(string(models.ActionNotifyFamily), fmt.Errorf("broadcast service not wired"))
	}

	circle, err := contacts.GetFamilyCircle(ctx, record.PatientID)
	if err != nil {
		return apperrors.NewEscalationActionFailedError(string(models.ActionNotifyFamily), err)
	}

	emergencyType := models.EmergencyMissedDoses
	if record.TriggerType == models.TriggerNoResponse {
		emergencyType = models.EmergencyNoResponse
	}

	_, err = broadcaster.SendFamilyEmergencyNotification(ctx, models.EmergencyContext{
		EscalationID: record.ID,
		PatientID:    record.PatientID,
		MedicationID: record.MedicationID,
		Severity:     models.PriorityCritical,
		MissedDoses:  escCtx.MissedDoses,
		LastTakenAt:  escCtx.LastTakenAt,
	}, circle, emergencyType)
	if err != nil {
		return apperrors.NewEscalationActionFailedError(string(models.ActionNotifyFamily), err)
	}
	return nil
}

func (e *Engine) notifyDoctor(ctx context.Context, record *models.EscalationRecord, escCtx models.EscalationContext) error {
	e.mu.RLock()
	doctor := e.doctor
	contacts := e.contacts
	e.mu.RUnlock()

	if doctor == nil || contacts == nil {
		return apperrors.NewEscalationActionFailedError(string(models.ActionNotifyDoctor), fmt.Errorf("doctor alerter not wired"))
	}

	circle, err := contacts.GetFamilyCircle(ctx, record.PatientID)
	if err != nil {
		return apperrors.NewEscalationActionFailedError(string(models.ActionNotifyDoctor), err)
	}
	if len(circle.Doctors) == 0 {
		return apperrors.NewEscalationActionFailedError(string(models.ActionNotifyDoctor), fmt.Errorf("no clinical contacts for patient %s", record.PatientID))
	}

	subject := fmt.Sprintf("Medication adherence alert: patient %s", record.PatientID)
	lastTaken := "unknown"
	if !escCtx.LastTakenAt.IsZero() {
		lastTaken = escCtx.LastTakenAt.Format(time.RFC3339)
	}
	body := fmt.Sprintf(
		"Patient: %s\nMedication: %s\nMissed doses: %d\nLast taken: %s\nTrigger: %s\nEscalation: %s\n",
		record.PatientID, record.MedicationID, escCtx.MissedDoses, lastTaken, record.TriggerType, record.ID,
	)

	var firstErr error
	sent := 0
	for _, doc := range circle.Doctors {
		res, err := doctor.SendRaw(ctx, doc.Email, subject, body)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if res != nil && res.Success {
			sent++
		}
	}
	if sent == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("no clinical alert delivered")
		}
		return apperrors.NewEscalationActionFailedError(string(models.ActionNotifyDoctor), firstErr)
	}
	return nil
}

func (e *Engine) dispatchEmergency(ctx context.Context, record *models.EscalationRecord) error {
	e.mu.RLock()
	dispatcher := e.dispatcher
	e.mu.RUnlock()

	if dispatcher == nil {
		return apperrors.NewEscalationActionFailedError(string(models.ActionEmergencyServices), fmt.Errorf("dispatcher not wired"))
	}
	if err := dispatcher.Dispatch(ctx, record); err != nil {
		return apperrors.NewEscalationActionFailedError(string(models.ActionEmergencyServices), err)
	}
	return nil
}

// increasePriority bumps the in-flight request one level. The override is
// keyed by request id and consulted only by retries of that request.
func (e *Engine) increasePriority(requestID string, current models.Priority) {
	if requestID == "" {
		return
	}
	next := nextPriority(current)

	e.mu.Lock()
	defer e.mu.Unlock()
	ov := e.overrides[requestID]
	if ov == nil {
		ov = &requestOverride{}
		e.overrides[requestID] = ov
	}
	if ov.priority == "" || next.Rank() > ov.priority.Rank() {
		ov.priority = next
	}
}

func (e *Engine) changeDeliveryMethods(requestID string, methods []models.DeliveryMethod) {
	if requestID == "" || len(methods) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ov := e.overrides[requestID]
	if ov == nil {
		ov = &requestOverride{}
		e.overrides[requestID] = ov
	}
	ov.methods = append([]models.DeliveryMethod(nil), methods...)
}

// effectiveRequest resolves any overrides registered for the request.
func (e *Engine) effectiveRequest(req *models.DeliveryRequest) (models.Priority, []models.DeliveryMethod) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ov := e.overrides[req.ID]
	if ov == nil {
		return req.Priority, nil
	}
	priority := req.Priority
	if ov.priority != "" && ov.priority.Rank() > priority.Rank() {
		priority = ov.priority
	}
	return priority, ov.methods
}

// ClearOverrides drops any overrides for a completed request.
func (e *Engine) ClearOverrides(requestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.overrides, requestID)
}

// ResolveEscalation closes an active record and releases its cooldown hold
// on new escalations for the pair.
func (e *Engine) ResolveEscalation(ctx context.Context, escalationID, resolvedBy string) error {
	record, err := e.loadRecord(ctx, escalationID)
	if err != nil {
		return err
	}
	if record.Status != models.EscalationActive {
		return nil
	}

	now := e.clk.Now()
	record.Status = models.EscalationResolved
	record.ResolvedAt = &now
	record.ResolvedBy = resolvedBy
	record.UpdatedAt = now
	e.persistRecord(ctx, record)

	activeKey := storage.KeyEscalationActive + record.PatientID + ":" + record.MedicationID
	if err := e.store.Delete(ctx, activeKey); err != nil && err != storage.ErrNotFound {
		e.log.Warn("active escalation key release failed", map[string]interface{}{"key": activeKey, "error": err.Error()})
	}

	metrics.EscalationsActive.Dec()
	e.log.Info("escalation resolved", map[string]interface{}{
		"escalationId": escalationID,
		"resolvedBy":   resolvedBy,
	})
	return nil
}

func (e *Engine) stillActive(ctx context.Context, escalationID string) bool {
	record, err := e.loadRecord(ctx, escalationID)
	if err != nil {
		return false
	}
	return record.Status == models.EscalationActive
}

func (e *Engine) loadRecord(ctx context.Context, escalationID string) (*models.EscalationRecord, error) {
	raw, err := e.store.Get(ctx, storage.KeyEscalationRecord+escalationID)
	if err == storage.ErrNotFound {
		return nil, apperrors.NewRecordNotFoundError("escalation", escalationID)
	}
	if err != nil {
		return nil, apperrors.NewStorageFailureError("load escalation record", err)
	}
	var record models.EscalationRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, apperrors.NewStorageFailureError("decode escalation record", err)
	}
	return &record, nil
}

func (e *Engine) persistRecord(ctx context.Context, record *models.EscalationRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		e.log.Error("marshal escalation record failed", map[string]interface{}{"escalationId": record.ID, "error": err.Error()})
		return
	}
	if err := e.store.Put(ctx, storage.KeyEscalationRecord+record.ID, payload, 0); err != nil {
		e.log.Error("persist escalation record failed", map[string]interface{}{"escalationId": record.ID, "error": err.Error()})
	}
}

func (e *Engine) persistResult(ctx context.Context, result *models.DeliveryResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		e.log.Error("marshal delivery result failed", map[string]interface{}{"requestId": result.RequestID, "error": err.Error()})
		return
	}
	if err := e.store.Put(ctx, storage.KeyDeliveryResult+result.RequestID, payload, 0); err != nil {
		e.log.Error("persist delivery result failed", map[string]interface{}{"requestId": result.RequestID, "error": err.Error()})
	}
}

func nextPriority(p models.Priority) models.Priority {
	switch p {
	case models.PriorityLow:
		return models.PriorityMedium
	case models.PriorityMedium:
		return models.PriorityHigh
	default:
		return models.PriorityCritical
	}
}

func delivered(outcomes []models.MethodOutcome) bool {
	for _, o := range outcomes {
		if o.Success {
			return true
		}
	}
	return false
}

func containsMethod(methods []models.DeliveryMethod, m models.DeliveryMethod) bool {
	for _, x := range methods {
		if x == m {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
