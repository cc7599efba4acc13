// internal/models/delivery.go
package models

import "time"

// DeliveryMethod identifies a channel capable of delivering reminder content.
type DeliveryMethod string

const (
	MethodPush   DeliveryMethod = "push"
	MethodSMS    DeliveryMethod = "sms"
	MethodVoice  DeliveryMethod = "voice"
	MethodVisual DeliveryMethod = "visual"
	MethodEmail  DeliveryMethod = "email"
)

// Priority levels for a delivery request.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities for comparison; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return -1
	}
}

// User response types recorded against a delivered reminder.
const (
	ResponseTaken   = "taken"
	ResponseSnoozed = "snoozed"
	ResponseSkipped = "skipped"
)

// ReminderContent is the payload rendered onto every channel.
type ReminderContent struct {
	MedicationName string `json:"medicationName"`
	Dosage         string `json:"dosage"`
	Instructions   string `json:"instructions,omitempty"`
	Language       string `json:"language"`
}

// PushTarget carries the fields the push channel needs.
type PushTarget struct {
	DeviceToken string `json:"deviceToken"`
	Platform    string `json:"platform,omitempty"` // "ios" or "android"
}

// SMSTarget carries the fields the SMS channel needs.
type SMSTarget struct {
	PhoneNumber string `json:"phoneNumber"` // E.164
}

// VoiceTarget carries the fields the voice channel needs, including
// accessibility options for elderly patients.
type VoiceTarget struct {
	PhoneNumber string `json:"phoneNumber"`
	SlowSpeech  bool   `json:"slowSpeech,omitempty"`
	RepeatCount int    `json:"repeatCount,omitempty"`
}

// VisualTarget carries the fields the in-app visual channel needs.
type VisualTarget struct {
	DeviceID string `json:"deviceId"`
}

// EmailTarget carries the fields the email channel needs.
type EmailTarget struct {
	Address string `json:"address"`
}

// DeliveryTargets holds per-method addressing. Only the entries for the
// request's selected methods need to be populated.
type DeliveryTargets struct {
	Push   *PushTarget   `json:"push,omitempty"`
	SMS    *SMSTarget    `json:"sms,omitempty"`
	Voice  *VoiceTarget  `json:"voice,omitempty"`
	Visual *VisualTarget `json:"visual,omitempty"`
	Email  *EmailTarget  `json:"email,omitempty"`
}

// PatientProfile carries the patient attributes that influence channel
// ordering and content adaptation.
type PatientProfile struct {
	Elderly  bool   `json:"elderly"`
	Language string `json:"language"`
}

// DeliveryRequest is a single reminder delivery attempt. Immutable once
// created; callers must generate a fresh ID per attempt.
type DeliveryRequest struct {
	ID           string           `json:"id"`
	PatientID    string           `json:"patientId"`
	MedicationID string           `json:"medicationId"`
	ReminderID   string           `json:"reminderId,omitempty"`
	Content      ReminderContent  `json:"content"`
	Methods      []DeliveryMethod `json:"methods"`
	Targets      DeliveryTargets  `json:"targets"`
	Priority     Priority         `json:"priority"`
	Profile      PatientProfile   `json:"profile"`
	ScheduledAt  time.Time        `json:"scheduledAt"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// MethodOutcome is the result of one channel attempt within a request.
type MethodOutcome struct {
	Method       DeliveryMethod `json:"method"`
	Success      bool           `json:"success"`
	MessageID    string         `json:"messageId,omitempty"`
	Error        string         `json:"error,omitempty"`
	DeliveredAt  *time.Time     `json:"deliveredAt,omitempty"`
	UserResponse string         `json:"userResponse,omitempty"`
}

// DeliveryAnalytics aggregates per-request attempt counters.
type DeliveryAnalytics struct {
	TotalAttempts        int            `json:"totalAttempts"`
	SuccessfulDeliveries int            `json:"successfulDeliveries"`
	PreferredMethod      DeliveryMethod `json:"preferredMethod,omitempty"`
}

// DeliveryResult is created once per request and finalized at completion.
// OverallSuccess holds iff at least one method succeeded.
type DeliveryResult struct {
	RequestID           string            `json:"requestId"`
	PatientID           string            `json:"patientId"`
	MedicationID        string            `json:"medicationId"`
	Outcomes            []MethodOutcome   `json:"outcomes"`
	OverallSuccess      bool              `json:"overallSuccess"`
	EscalationTriggered bool              `json:"escalationTriggered"`
	Analytics           DeliveryAnalytics `json:"analytics"`
	FinalizedAt         time.Time         `json:"finalizedAt"`
}

// Finalize recomputes the aggregate fields from the recorded outcomes.
func (r *DeliveryResult) Finalize(now time.Time) {
	r.Analytics.TotalAttempts = len(r.Outcomes)
	r.Analytics.SuccessfulDeliveries = 0
	for _, o := range r.Outcomes {
		if o.Success {
			r.Analytics.SuccessfulDeliveries++
			if r.Analytics.PreferredMethod == "" {
				r.Analytics.PreferredMethod = o.Method
			}
		}
	}
	r.OverallSuccess = r.Analytics.SuccessfulDeliveries > 0
	r.FinalizedAt = now
}
