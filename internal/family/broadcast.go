// internal/family/broadcast.go
package family

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
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

// Deliverer is the slice of the delivery coordinator the broadcaster uses
// for family-member notifications.
type Deliverer interface {
	ProcessDeliveryRequest(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryResult, error)
}

// SMSSender reaches external emergency contacts directly over SMS.
type SMSSender interface {
	SendRaw(ctx context.Context, phoneNumber, message string) (*channels.SendResult, error)
}

// EscalationResolver cascades a notification resolution back to its
// originating escalation record.
type EscalationResolver interface {
	ResolveEscalation(ctx context.Context, escalationID, resolvedBy string) error
}

// Broadcaster builds multilingual emergency content, fans it out to a
// patient's family circle and tracks responses until resolution.
type Broadcaster struct {
	deliverer Deliverer
	sms       SMSSender
	store     storage.Repository
	clk       clock.Clock
	log       logger.Logger

	responseTimeout time.Duration

	mu       sync.Mutex
	resolver EscalationResolver
}

func NewBroadcaster(
	deliverer Deliverer,
	sms SMSSender,
	store storage.Repository,
	responseTimeout time.Duration,
	clk clock.Clock,
	log logger.Logger,
) *Broadcaster {
	if clk == nil {
		clk = clock.New()
	}
	return &Broadcaster{
		deliverer:       deliverer,
		sms:             sms,
		store:           store,
		responseTimeout: responseTimeout,
		clk:             clk,
		log:             log.WithFields(map[string]interface{}{"component": "family-broadcaster"}),
	}
}

// SetResolver wires the escalation engine for resolution cascade. Wired
// after construction because the engine broadcasts through this service.
func (b *Broadcaster) SetResolver(r EscalationResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolver = r
}

// SendFamilyEmergencyNotification broadcasts an emergency to the patient's
// family circle and returns the notification id. Family members are
// reached through the delivery coordinator at critical priority; emergency
// contacts get a direct SMS.
func (b *Broadcaster) SendFamilyEmergencyNotification(ctx context.Context, emergency models.EmergencyContext, circle *models.FamilyCircle, emergencyType models.EmergencyType) (string, error) {
	if b.deliverer == nil || b.store == nil {
		return "", apperrors.NewNotInitializedError("family-broadcaster")
	}

	members := selectFamilyRecipients(circle, emergency.Severity)
	now := b.clk.Now()

	notification := &models.FamilyEmergencyNotification{
		ID:          uuid.New().String(),
		EmergencyID: emergency.EscalationID,
		PatientID:   emergency.PatientID,
		Type:        emergencyType,
		Content:     map[string]models.EmergencyContent{},
		Delivery: models.BroadcastDeliveryConfig{
			Methods:         []models.DeliveryMethod{models.MethodPush, models.MethodSMS, models.MethodVoice},
			Immediate:       true,
			ResponseTimeout: b.responseTimeout,
		},
		CreatedAt:      now,
		DeliveryStatus: models.BroadcastPending,
	}

	for _, m := range members {
		notification.Recipients = append(notification.Recipients, models.NotificationRecipient{
			ID: m.ID, Type: models.ResponderFamily, Language: m.Language,
		})
		lang := normalizeLanguage(m.Language)
		if _, ok := notification.Content[lang]; !ok {
			notification.Content[lang] = BuildContent(emergency, emergencyType, lang)
		}
	}
	for _, c := range circle.EmergencyContacts {
		notification.Recipients = append(notification.Recipients, models.NotificationRecipient{
			ID: c.ID, Type: models.ResponderEmergencyContact, Language: c.Language,
		})
		lang := normalizeLanguage(c.Language)
		if _, ok := notification.Content[lang]; !ok {
			notification.Content[lang] = BuildContent(emergency, emergencyType, lang)
		}
	}
	notification.Analytics.TotalRecipients = len(notification.Recipients)

	if err := b.persist(ctx, notification); err != nil {
		return "", err
	}

	log := b.log.WithFields(map[string]interface{}{
		"notificationId": notification.ID,
		"patientId":      emergency.PatientID,
		"type":           string(emergencyType),
		"recipients":     notification.Analytics.TotalRecipients,
	})

	succeeded, failed := b.deliverToFamily(ctx, notification, emergency, members, log)

	for _, contact := range circle.EmergencyContacts {
		content := notification.Content[normalizeLanguage(contact.Language)]
		if err := b.sendContactSMS(ctx, contact, content); err != nil {
			failed++
			log.Warn("emergency contact SMS failed", map[string]interface{}{
				"contactId": contact.ID,
				"error":     err.Error(),
			})
			continue
		}
		succeeded++
	}

	notification.Analytics.SuccessfulDeliveries = succeeded
	notification.Analytics.FailedDeliveries = failed

	switch {
	case succeeded == 0 && notification.Analytics.TotalRecipients > 0:
		notification.DeliveryStatus = models.BroadcastFailed
	case failed > 0:
		notification.DeliveryStatus = models.BroadcastPartial
	default:
		notification.DeliveryStatus = models.BroadcastDelivered
	}
	if succeeded > 0 {
		deliveredAt := b.clk.Now()
		notification.DeliveredAt = &deliveredAt
	}

	if err := b.persist(ctx, notification); err != nil {
		return "", err
	}

	metrics.FamilyNotificationsTotal.WithLabelValues(notification.DeliveryStatus).Inc()
	log.Info("family emergency notification sent", map[string]interface{}{
		"status":    notification.DeliveryStatus,
		"succeeded": succeeded,
		"failed":    failed,
	})

	return notification.ID, nil
}

// deliverToFamily submits one critical-priority delivery request per family
// member through the coordinator.
func (b *Broadcaster) deliverToFamily(ctx context.Context, notification *models.FamilyEmergencyNotification, emergency models.EmergencyContext, members []models.FamilyMember, log logger.Logger) (succeeded, failed int) {
	for _, m := range members {
		content := notification.Content[normalizeLanguage(m.Language)]
		req := &models.DeliveryRequest{
			ID:           uuid.New().String(),
			PatientID:    emergency.PatientID,
			MedicationID: emergency.MedicationID,
			Content: models.ReminderContent{
				MedicationName: content.Title,
				Dosage:         content.Body,
				Instructions:   content.Instructions,
				Language:       normalizeLanguage(m.Language),
			},
			Methods:     availableMethods(m.Targets, notification.Delivery.Methods),
			Targets:     m.Targets,
			Priority:    models.PriorityCritical,
			ScheduledAt: b.clk.Now(),
			CreatedAt:   b.clk.Now(),
		}
		if len(req.Methods) == 0 {
			failed++
			log.Warn("family member has no reachable channel", map[string]interface{}{"memberId": m.ID})
			continue
		}

		result, err := b.deliverer.ProcessDeliveryRequest(ctx, req)
		if err != nil || !result.OverallSuccess {
			failed++
			fields := map[string]interface{}{"memberId": m.ID}
			if err != nil {
				fields["error"] = err.Error()
			}
			log.Warn("family member delivery failed", fields)
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

func (b *Broadcaster) sendContactSMS(ctx context.Context, contact models.EmergencyContact, content models.EmergencyContent) error {
	if b.sms == nil {
		return apperrors.NewNotInitializedError("family-broadcaster sms sender")
	}
	res, err := b.sms.SendRaw(ctx, contact.PhoneNumber, smsText(content))
	if err != nil {
		return err
	}
	if !res.Success {
		return apperrors.NewAdapterFailureError(string(models.MethodSMS), errors.New(res.Error))
	}
	return nil
}

// RecordFamilyResponse appends one response and recomputes the broadcast
// analytics. A patient_safe response, or any response from the patient
// themselves, resolves the notification and cascades to the escalation.
func (b *Broadcaster) RecordFamilyResponse(ctx context.Context, notificationID, responderID, responderType string, responseType models.FamilyResponseType, note string) error {
	notification, err := b.load(ctx, notificationID)
	if err != nil {
		return err
	}

	now := b.clk.Now()
	response := models.FamilyEmergencyResponse{
		ID:             uuid.New().String(),
		NotificationID: notificationID,
		ResponderID:    responderID,
		ResponderType:  responderType,
		Type:           responseType,
		Note:           note,
		RespondedAt:    now,
		Latency:        now.Sub(notification.CreatedAt),
	}
	notification.Responses = append(notification.Responses, response)

	if notification.Analytics.TotalRecipients > 0 {
		notification.Analytics.ResponseRate = float64(len(notification.Responses)) / float64(notification.Analytics.TotalRecipients)
	}
	var totalLatency time.Duration
	for _, r := range notification.Responses {
		totalLatency += r.Latency
	}
	notification.Analytics.MeanResponseLatency = totalLatency / time.Duration(len(notification.Responses))

	resolves := responseType == models.FamilyResponsePatientSafe || responderType == models.ResponderPatient
	if resolves && notification.DeliveryStatus != models.BroadcastResolved {
		notification.DeliveryStatus = models.BroadcastResolved
		b.cascadeResolution(ctx, notification, responderID)
	}

	if err := b.persist(ctx, notification); err != nil {
		return err
	}

	metrics.ResponsesTotal.WithLabelValues(string(responseType)).Inc()
	b.log.Info("family response recorded", map[string]interface{}{
		"notificationId": notificationID,
		"responderId":    responderID,
		"responseType":   string(responseType),
		"resolved":       resolves,
	})
	return nil
}

func (b *Broadcaster) cascadeResolution(ctx context.Context, notification *models.FamilyEmergencyNotification, responderID string) {
	if notification.EmergencyID == "" {
		return
	}
	b.mu.Lock()
	resolver := b.resolver
	b.mu.Unlock()
	if resolver == nil {
		return
	}
	if err := resolver.ResolveEscalation(ctx, notification.EmergencyID, responderID); err != nil {
		b.log.Error("escalation resolution cascade failed", map[string]interface{}{
			"escalationId": notification.EmergencyID,
			"error":        err.Error(),
		})
	}
}

// Notification loads a broadcast by id.
func (b *Broadcaster) Notification(ctx context.Context, notificationID string) (*models.FamilyEmergencyNotification, error) {
	return b.load(ctx, notificationID)
}

func (b *Broadcaster) load(ctx context.Context, notificationID string) (*models.FamilyEmergencyNotification, error) {
	raw, err := b.store.Get(ctx, storage.KeyFamilyNotification+notificationID)
	if err == storage.ErrNotFound {
		return nil, apperrors.NewRecordNotFoundError("family notification", notificationID)
	}
	if err != nil {
		return nil, apperrors.NewStorageFailureError("load family notification", err)
	}
	var notification models.FamilyEmergencyNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		return nil, apperrors.NewStorageFailureError("decode family notification", err)
	}
	return &notification, nil
}

func (b *Broadcaster) persist(ctx context.Context, notification *models.FamilyEmergencyNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return apperrors.NewStorageFailureError("marshal family notification", err)
	}
	if err := b.store.Put(ctx, storage.KeyFamilyNotification+notification.ID, payload, 0); err != nil {
		return apperrors.NewStorageFailureError("persist family notification", err)
	}
	return nil
}

// selectFamilyRecipients picks the alert-eligible members. Critical
// severity broadcasts to the whole circle; lower severities notify only
// the top-priority contact.
func selectFamilyRecipients(circle *models.FamilyCircle, severity models.Priority) []models.FamilyMember {
	var eligible []models.FamilyMember
	for _, m := range circle.FamilyMembers {
		if m.CanReceiveAlerts && m.Enabled {
			eligible = append(eligible, m)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority < eligible[j].Priority
	})

	if severity != models.PriorityCritical && len(eligible) > 1 {
		return eligible[:1]
	}
	return eligible
}

// availableMethods intersects the broadcast method list with the channels
// the member is actually reachable on.
func availableMethods(targets models.DeliveryTargets, wanted []models.DeliveryMethod) []models.DeliveryMethod {
	var methods []models.DeliveryMethod
	for _, m := range wanted {
		switch m {
		case models.MethodPush:
			if targets.Push != nil {
				methods = append(methods, m)
			}
		case models.MethodSMS:
			if targets.SMS != nil {
				methods = append(methods, m)
			}
		case models.MethodVoice:
			if targets.Voice != nil {
				methods = append(methods, m)
			}
		case models.MethodVisual:
			if targets.Visual != nil {
				methods = append(methods, m)
			}
		case models.MethodEmail:
			if targets.Email != nil {
				methods = append(methods, m)
			}
		}
	}
	return methods
}
