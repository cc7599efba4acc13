// internal/models/escalation.go
package models

import "time"

// RetryPolicy bounds retries for the methods of a priority tier.
// EscalateAfter may be lower than MaxAttempts: a method becomes
// escalation-eligible after that many consecutive failures even while
// retries continue.
type RetryPolicy struct {
	MaxAttempts       int           `json:"maxAttempts"`
	BaseDelay         time.Duration `json:"baseDelay"`
	BackoffMultiplier float64       `json:"backoffMultiplier"`
	MaxDelay          time.Duration `json:"maxDelay"`
	EscalateAfter     int           `json:"escalateAfter"`
}

// MethodConfig is one entry in a tier's ordered method list.
type MethodConfig struct {
	Type       DeliveryMethod   `json:"type"`
	Enabled    bool             `json:"enabled"`
	Delay      time.Duration    `json:"delay"` // pre-delivery delay
	MaxRetries int              `json:"maxRetries"`
	Failover   []DeliveryMethod `json:"failover,omitempty"`
}

// PriorityTier is the static, hot-reloadable configuration for one
// priority level.
type PriorityTier struct {
	Level   Priority       `json:"level"`
	Methods []MethodConfig `json:"methods"`
	Retry   RetryPolicy    `json:"retry"`
}

// Escalation trigger types.
type TriggerType string

const (
	TriggerMissedDoses      TriggerType = "missed_doses"
	TriggerFailedDeliveries TriggerType = "failed_deliveries"
	TriggerNoResponse       TriggerType = "no_response"
	TriggerTimeBased        TriggerType = "time_based"
	TriggerManual           TriggerType = "manual"
)

// Escalation action types.
type ActionType string

const (
	ActionNotifyFamily         ActionType = "notify_family"
	ActionNotifyDoctor         ActionType = "notify_doctor"
	ActionEmergencyServices    ActionType = "emergency_services"
	ActionIncreasePriority     ActionType = "increase_priority"
	ActionChangeDeliveryMethod ActionType = "change_delivery_method"
)

// TriggerCondition decides whether an EscalationRule applies.
type TriggerCondition struct {
	Type       TriggerType     `json:"type"`
	Threshold  int             `json:"threshold"`
	TimeWindow time.Duration   `json:"timeWindow"`
	Conditions *TriggerFilters `json:"conditions,omitempty"`
}

// TriggerFilters narrow a rule to specific medications, priorities or
// patient profiles. Empty slices match everything.
type TriggerFilters struct {
	MedicationIDs []string   `json:"medicationIds,omitempty"`
	Priorities    []Priority `json:"priorities,omitempty"`
	ElderlyOnly   bool       `json:"elderlyOnly,omitempty"`
}

// EscalationAction is one step in a rule's ordered action chain.
type EscalationAction struct {
	Type       ActionType       `json:"type"`
	Delay      time.Duration    `json:"delay"`
	Recipients []string         `json:"recipients,omitempty"`
	Methods    []DeliveryMethod `json:"methods,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// CulturalConsiderations adjust how escalation content is produced.
type CulturalConsiderations struct {
	RespectPrayerTimes    bool `json:"respectPrayerTimes"`
	NotifyFamilyFirst     bool `json:"notifyFamilyFirst"`
	UseRespectfulLanguage bool `json:"useRespectfulLanguage"`
	AdaptForElderly       bool `json:"adaptForElderly"`
}

// EscalationRule is static configuration describing when and how to
// escalate.
type EscalationRule struct {
	ID       string                 `json:"id"`
	Enabled  bool                   `json:"enabled"`
	Trigger  TriggerCondition       `json:"trigger"`
	Actions  []EscalationAction     `json:"actions"`
	Cultural CulturalConsiderations `json:"cultural"`
}

// Escalation record statuses.
const (
	EscalationActive    = "active"
	EscalationResolved  = "resolved"
	EscalationCancelled = "cancelled"
)

// ResolvedBySystem marks records auto-resolved by the background monitor.
const ResolvedBySystem = "system"

// ActionResult records one executed (or skipped) escalation action.
type ActionResult struct {
	Type       ActionType `json:"type"`
	ExecutedAt time.Time  `json:"executedAt"`
	Success    bool       `json:"success"`
	Skipped    bool       `json:"skipped,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// EscalationRecord tracks one fired escalation from trigger to resolution.
// Level only increases; at most one active record may exist per
// (patient, medication) pair inside the cooldown window.
type EscalationRecord struct {
	ID           string         `json:"id"`
	RequestID    string         `json:"requestId,omitempty"`
	RuleID       string         `json:"ruleId"`
	PatientID    string         `json:"patientId"`
	MedicationID string         `json:"medicationId"`
	TriggerType  TriggerType    `json:"triggerType"`
	TriggerTime  time.Time      `json:"triggerTime"`
	Level        int            `json:"escalationLevel"`
	Actions      []ActionResult `json:"actions"`
	Status       string         `json:"status"`
	ResolvedAt   *time.Time     `json:"resolvedAt,omitempty"`
	ResolvedBy   string         `json:"resolvedBy,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// EscalationContext carries the runtime facts a trigger evaluation needs.
type EscalationContext struct {
	RequestID   string         `json:"requestId,omitempty"`
	Priority    Priority       `json:"priority"`
	MissedDoses int            `json:"missedDoses"`
	LastTakenAt time.Time      `json:"lastTakenAt,omitempty"`
	WindowStart time.Time      `json:"windowStart,omitempty"`
	Profile     PatientProfile `json:"profile"`
}
