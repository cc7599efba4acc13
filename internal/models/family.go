// internal/models/family.go
package models

import "time"

// FamilyMember is a member of a patient's family circle.
type FamilyMember struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Relationship     string          `json:"relationship"`
	Language         string          `json:"language"`
	Priority         int             `json:"priority"` // lower notifies first
	CanReceiveAlerts bool            `json:"canReceiveAlerts"`
	Enabled          bool            `json:"enabled"`
	Targets          DeliveryTargets `json:"targets"`
}

// EmergencyContact is an external contact reached over SMS only.
type EmergencyContact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	PhoneNumber  string `json:"phoneNumber"`
	Language     string `json:"language"`
}

// ClinicalContact is a contact tagged as the patient's doctor.
type ClinicalContact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FamilyCircle is the full set of contacts associated with a patient.
type FamilyCircle struct {
	PatientID         string             `json:"patientId"`
	FamilyMembers     []FamilyMember     `json:"familyMembers"`
	EmergencyContacts []EmergencyContact `json:"emergencyContacts"`
	Doctors           []ClinicalContact  `json:"doctors,omitempty"`
}

// EmergencyType categorizes a family broadcast.
type EmergencyType string

const (
	EmergencyMissedDoses EmergencyType = "missed_doses"
	EmergencyNoResponse  EmergencyType = "no_response"
	EmergencySOS         EmergencyType = "sos"
)

// EmergencyContext links a broadcast back to its originating escalation.
type EmergencyContext struct {
	EscalationID   string    `json:"escalationId"`
	PatientID      string    `json:"patientId"`
	PatientName    string    `json:"patientName,omitempty"`
	MedicationID   string    `json:"medicationId"`
	MedicationName string    `json:"medicationName,omitempty"`
	Severity       Priority  `json:"severity"`
	MissedDoses    int       `json:"missedDoses,omitempty"`
	LastTakenAt    time.Time `json:"lastTakenAt,omitempty"`
}

// EmergencyContent is the rendered notification bundle for one language.
type EmergencyContent struct {
	Title         string   `json:"title"`
	Body          string   `json:"body"`
	Instructions  string   `json:"instructions"`
	ActionButtons []string `json:"actionButtons"`
}

// Family notification delivery statuses.
const (
	BroadcastPending   = "pending"
	BroadcastDelivered = "delivered"
	BroadcastFailed    = "failed"
	BroadcastPartial   = "partial"
	BroadcastResolved  = "resolved"
)

// Responder types.
const (
	ResponderFamily           = "family"
	ResponderPatient          = "patient"
	ResponderEmergencyContact = "emergency_contact"
	ResponderCaregiver        = "caregiver"
)

// Family response types.
type FamilyResponseType string

const (
	FamilyResponseAcknowledged FamilyResponseType = "acknowledged"
	FamilyResponsePatientSafe  FamilyResponseType = "patient_safe"
	FamilyResponseNeedHelp     FamilyResponseType = "need_help"
	FamilyResponseFalseAlarm   FamilyResponseType = "false_alarm"
	FamilyResponseEscalate     FamilyResponseType = "escalate"
	FamilyResponseCallMade     FamilyResponseType = "call_made"
)

// NotificationRecipient records one targeted contact of a broadcast.
type NotificationRecipient struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "family" or "emergency_contact"
	Language string `json:"language"`
}

// BroadcastDeliveryConfig controls how a broadcast is delivered.
type BroadcastDeliveryConfig struct {
	Methods         []DeliveryMethod `json:"methods"`
	Immediate       bool             `json:"immediate"`
	ResponseTimeout time.Duration    `json:"responseTimeout"`
}

// BroadcastAnalytics aggregates delivery and response activity for one
// broadcast. ResponseRate is responses over total recipients; latency is
// the mean of per-response latencies.
type BroadcastAnalytics struct {
	TotalRecipients      int           `json:"totalRecipients"`
	SuccessfulDeliveries int           `json:"successfulDeliveries"`
	FailedDeliveries     int           `json:"failedDeliveries"`
	ResponseRate         float64       `json:"responseRate"`
	MeanResponseLatency  time.Duration `json:"meanResponseLatency"`
}

// FamilyEmergencyResponse is one append-only response to a broadcast.
type FamilyEmergencyResponse struct {
	ID             string             `json:"id"`
	NotificationID string             `json:"notificationId"`
	ResponderID    string             `json:"responderId"`
	ResponderType  string             `json:"responderType"`
	Type           FamilyResponseType `json:"type"`
	Note           string             `json:"note,omitempty"`
	RespondedAt    time.Time          `json:"respondedAt"`
	Latency        time.Duration      `json:"latency"`
}

// FamilyEmergencyNotification is one broadcast event to a family circle.
type FamilyEmergencyNotification struct {
	ID             string                      `json:"id"`
	EmergencyID    string                      `json:"emergencyId"`
	PatientID      string                      `json:"patientId"`
	Type           EmergencyType               `json:"type"`
	Recipients     []NotificationRecipient     `json:"recipients"`
	Content        map[string]EmergencyContent `json:"content"` // keyed by language
	Delivery       BroadcastDeliveryConfig     `json:"delivery"`
	CreatedAt      time.Time                   `json:"createdAt"`
	DeliveredAt    *time.Time                  `json:"deliveredAt,omitempty"`
	Responses      []FamilyEmergencyResponse   `json:"responses"`
	DeliveryStatus string                      `json:"deliveryStatus"`
	Analytics      BroadcastAnalytics          `json:"analytics"`
}
