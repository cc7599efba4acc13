// internal/escalation/tiers.go
package escalation

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	apperrors "reminder-orchestrator/internal/common/errors"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/models"
)

// TierStore holds the priority tiers and escalation rules. Both are
// hot-reloadable from JSON files; compiled-in defaults apply until a file
// is loaded.
type TierStore struct {
	mu        sync.RWMutex
	tiers     map[models.Priority]models.PriorityTier
	rules     []models.EscalationRule
	tiersPath string
	rulesPath string
	log       logger.Logger
}

func NewTierStore(tiersPath, rulesPath string, log logger.Logger) *TierStore {
	return &TierStore{
		tiers:     DefaultTiers(),
		rules:     DefaultRules(),
		tiersPath: tiersPath,
		rulesPath: rulesPath,
		log:       log.WithFields(map[string]interface{}{"component": "tier-store"}),
	}
}

// Tier returns the configuration for a priority level.
func (s *TierStore) Tier(level models.Priority) (models.PriorityTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tier, ok := s.tiers[level]
	if !ok {
		return models.PriorityTier{}, apperrors.NewUnsupportedPriorityError(string(level))
	}
	return tier, nil
}

// Rules returns a snapshot of the current escalation rules.
func (s *TierStore) Rules() []models.EscalationRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EscalationRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Reload re-reads the configured JSON files. A file that fails to parse or
// validate leaves the previous configuration in place.
func (s *TierStore) Reload() error {
	if s.tiersPath != "" {
		tiers, err := loadTiersFile(s.tiersPath)
		if err != nil {
			s.log.Error("tier file reload failed", map[string]interface{}{"path": s.tiersPath, "error": err.Error()})
			return err
		}
		s.mu.Lock()
		s.tiers = tiers
		s.mu.Unlock()
		s.log.Info("priority tiers reloaded", map[string]interface{}{"path": s.tiersPath, "levels": len(tiers)})
	}

	if s.rulesPath != "" {
		rules, err := loadRulesFile(s.rulesPath)
		if err != nil {
			s.log.Error("rule file reload failed", map[string]interface{}{"path": s.rulesPath, "error": err.Error()})
			return err
		}
		s.mu.Lock()
		s.rules = rules
		s.mu.Unlock()
		s.log.Info("escalation rules reloaded", map[string]interface{}{"path": s.rulesPath, "rules": len(rules)})
	}

	return nil
}

// DefaultTiers returns the compiled-in tier configuration.
func DefaultTiers() map[models.Priority]models.PriorityTier {
	return map[models.Priority]models.PriorityTier{
		models.PriorityLow: {
			Level: models.PriorityLow,
			Methods: []models.MethodConfig{
				{Type: models.MethodPush, Enabled: true, MaxRetries: 1},
			},
			Retry: models.RetryPolicy{
				MaxAttempts: 1, BaseDelay: 5 * time.Minute, BackoffMultiplier: 2,
				MaxDelay: 30 * time.Minute, EscalateAfter: 1,
			},
		},
		models.PriorityMedium: {
			Level: models.PriorityMedium,
			Methods: []models.MethodConfig{
				{Type: models.MethodPush, Enabled: true, MaxRetries: 2},
				{Type: models.MethodSMS, Enabled: true, Delay: 5 * time.Minute, MaxRetries: 1},
			},
			Retry: models.RetryPolicy{
				MaxAttempts: 3, BaseDelay: 2 * time.Minute, BackoffMultiplier: 2,
				MaxDelay: 15 * time.Minute, EscalateAfter: 3,
			},
		},
		models.PriorityHigh: {
			Level: models.PriorityHigh,
			Methods: []models.MethodConfig{
				{Type: models.MethodPush, Enabled: true, MaxRetries: 2, Failover: []models.DeliveryMethod{models.MethodSMS}},
				{Type: models.MethodSMS, Enabled: true, Delay: 2 * time.Minute, MaxRetries: 2},
				{Type: models.MethodVoice, Enabled: true, Delay: 5 * time.Minute, MaxRetries: 1},
			},
			Retry: models.RetryPolicy{
				MaxAttempts: 3, BaseDelay: time.Minute, BackoffMultiplier: 2,
				MaxDelay: 10 * time.Minute, EscalateAfter: 2,
			},
		},
		models.PriorityCritical: {
			Level: models.PriorityCritical,
			Methods: []models.MethodConfig{
				{Type: models.MethodPush, Enabled: true, MaxRetries: 3, Failover: []models.DeliveryMethod{models.MethodSMS, models.MethodVoice}},
				{Type: models.MethodSMS, Enabled: true, MaxRetries: 3},
				{Type: models.MethodVoice, Enabled: true, Delay: time.Minute, MaxRetries: 2},
				{Type: models.MethodVisual, Enabled: true, MaxRetries: 1},
			},
			Retry: models.RetryPolicy{
				MaxAttempts: 5, BaseDelay: 30 * time.Second, BackoffMultiplier: 2,
				MaxDelay: 5 * time.Minute, EscalateAfter: 2,
			},
		},
	}
}

// DefaultRules returns the compiled-in escalation rules.
func DefaultRules() []models.EscalationRule {
	return []models.EscalationRule{
		{
			ID:      "critical-delivery-exhausted",
			Enabled: true,
			Trigger: models.TriggerCondition{
				Type:      models.TriggerFailedDeliveries,
				Threshold: 1,
			},
			Actions: []models.EscalationAction{
				{Type: models.ActionNotifyFamily},
				{Type: models.ActionNotifyDoctor, Delay: 15 * time.Minute},
			},
			Cultural: models.CulturalConsiderations{
				RespectPrayerTimes:    true,
				NotifyFamilyFirst:     true,
				UseRespectfulLanguage: true,
				AdaptForElderly:       true,
			},
		},
		{
			ID:      "repeated-missed-doses",
			Enabled: true,
			Trigger: models.TriggerCondition{
				Type:       models.TriggerMissedDoses,
				Threshold:  3,
				TimeWindow: 24 * time.Hour,
			},
			Actions: []models.EscalationAction{
				{Type: models.ActionNotifyFamily},
				{Type: models.ActionNotifyDoctor, Delay: 30 * time.Minute},
				{Type: models.ActionEmergencyServices, Delay: 2 * time.Hour},
			},
			Cultural: models.CulturalConsiderations{
				NotifyFamilyFirst:     true,
				UseRespectfulLanguage: true,
			},
		},
		{
			ID:      "no-response-escalation",
			Enabled: true,
			Trigger: models.TriggerCondition{
				Type:       models.TriggerNoResponse,
				Threshold:  2,
				TimeWindow: 4 * time.Hour,
			},
			Actions: []models.EscalationAction{
				{Type: models.ActionIncreasePriority},
				{Type: models.ActionNotifyFamily, Delay: 30 * time.Minute},
			},
		},
	}
}

// File formats carry durations as Go duration strings ("30s", "5m").

const durationPattern = `^[0-9]+(ns|us|µs|ms|s|m|h)$`

var tiersSchema = fmt.Sprintf(`{
  "type": "object",
  "required": ["tiers"],
  "properties": {
    "tiers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["level", "methods", "retry"],
        "properties": {
          "level": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
          "methods": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["type"],
              "properties": {
                "type": {"type": "string", "enum": ["push", "sms", "voice", "visual", "email"]},
                "enabled": {"type": "boolean"},
                "delay": {"type": "string", "pattern": "%[1]s"},
                "maxRetries": {"type": "integer", "minimum": 0},
                "failover": {"type": "array", "items": {"type": "string"}}
              }
            }
          },
          "retry": {
            "type": "object",
            "required": ["maxAttempts", "baseDelay", "backoffMultiplier", "maxDelay"],
            "properties": {
              "maxAttempts": {"type": "integer", "minimum": 1},
              "baseDelay": {"type": "string", "pattern": "%[1]s"},
              "backoffMultiplier": {"type": "number", "minimum": 1},
              "maxDelay": {"type": "string", "pattern": "%[1]s"},
              "escalateAfter": {"type": "integer", "minimum": 1}
            }
          }
        }
      }
    }
  }
}`, durationPattern)

var rulesSchema = fmt.Sprintf(`{
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "trigger", "actions"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "enabled": {"type": "boolean"},
          "trigger": {
            "type": "object",
            "required": ["type"],
            "properties": {
              "type": {"type": "string", "enum": ["missed_doses", "failed_deliveries", "no_response", "time_based", "manual"]},
              "threshold": {"type": "integer", "minimum": 0},
              "timeWindow": {"type": "string", "pattern": "%[1]s"}
            }
          },
          "actions": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["type"],
              "properties": {
                "type": {"type": "string", "enum": ["notify_family", "notify_doctor", "emergency_services", "increase_priority", "change_delivery_method"]},
                "delay": {"type": "string", "pattern": "%[1]s"},
                "methods": {"type": "array", "items": {"type": "string"}},
                "message": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`, durationPattern)

type tierFileMethod struct {
	Type       string   `json:"type"`
	Enabled    *bool    `json:"enabled,omitempty"`
	Delay      string   `json:"delay,omitempty"`
	MaxRetries int      `json:"maxRetries,omitempty"`
	Failover   []string `json:"failover,omitempty"`
}

type tierFileRetry struct {
	MaxAttempts       int     `json:"maxAttempts"`
	BaseDelay         string  `json:"baseDelay"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	MaxDelay          string  `json:"maxDelay"`
	EscalateAfter     int     `json:"escalateAfter,omitempty"`
}

type tierFileEntry struct {
	Level   string           `json:"level"`
	Methods []tierFileMethod `json:"methods"`
	Retry   tierFileRetry    `json:"retry"`
}

type tiersFile struct {
	Tiers []tierFileEntry `json:"tiers"`
}

type ruleFileTrigger struct {
	Type       string                 `json:"type"`
	Threshold  int                    `json:"threshold,omitempty"`
	TimeWindow string                 `json:"timeWindow,omitempty"`
	Conditions *models.TriggerFilters `json:"conditions,omitempty"`
}

type ruleFileAction struct {
	Type       string   `json:"type"`
	Delay      string   `json:"delay,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Methods    []string `json:"methods,omitempty"`
	Message    string   `json:"message,omitempty"`
}

type ruleFileEntry struct {
	ID       string                        `json:"id"`
	Enabled  *bool                         `json:"enabled,omitempty"`
	Trigger  ruleFileTrigger               `json:"trigger"`
	Actions  []ruleFileAction              `json:"actions"`
	Cultural models.CulturalConsiderations `json:"cultural,omitempty"`
}

type rulesFile struct {
	Rules []ruleFileEntry `json:"rules"`
}

func validateJSON(schema string, document []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return apperrors.NewConfigurationError(fmt.Sprintf("schema validation: %v", err))
	}
	if !result.Valid() {
		detail := ""
		for _, e := range result.Errors() {
			if detail != "" {
				detail += "; "
			}
			detail += e.String()
		}
		return apperrors.NewConfigurationError(detail)
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func loadTiersFile(path string) (map[models.Priority]models.PriorityTier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("read tier file: %v", err))
	}
	if err := validateJSON(tiersSchema, raw); err != nil {
		return nil, err
	}

	var file tiersFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("parse tier file: %v", err))
	}

	tiers := make(map[models.Priority]models.PriorityTier, len(file.Tiers))
	for _, entry := range file.Tiers {
		tier := models.PriorityTier{Level: models.Priority(entry.Level)}

		for _, m := range entry.Methods {
			delay, err := parseDuration(m.Delay)
			if err != nil {
				return nil, apperrors.NewConfigurationError(fmt.Sprintf("tier %s method %s delay: %v", entry.Level, m.Type, err))
			}
			enabled := true
			if m.Enabled != nil {
				enabled = *m.Enabled
			}
			mc := models.MethodConfig{
				Type:       models.DeliveryMethod(m.Type),
				Enabled:    enabled,
				Delay:      delay,
				MaxRetries: m.MaxRetries,
			}
			for _, f := range m.Failover {
				mc.Failover = append(mc.Failover, models.DeliveryMethod(f))
			}
			tier.Methods = append(tier.Methods, mc)
		}

		baseDelay, err := parseDuration(entry.Retry.BaseDelay)
		if err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("tier %s baseDelay: %v", entry.Level, err))
		}
		maxDelay, err := parseDuration(entry.Retry.MaxDelay)
		if err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("tier %s maxDelay: %v", entry.Level, err))
		}
		escalateAfter := entry.Retry.EscalateAfter
		if escalateAfter == 0 {
			escalateAfter = entry.Retry.MaxAttempts
		}
		tier.Retry = models.RetryPolicy{
			MaxAttempts:       entry.Retry.MaxAttempts,
			BaseDelay:         baseDelay,
			BackoffMultiplier: entry.Retry.BackoffMultiplier,
			MaxDelay:          maxDelay,
			EscalateAfter:     escalateAfter,
		}

		tiers[tier.Level] = tier
	}

	return tiers, nil
}

func loadRulesFile(path string) ([]models.EscalationRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("read rule file: %v", err))
	}
	if err := validateJSON(rulesSchema, raw); err != nil {
		return nil, err
	}

	var file rulesFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("parse rule file: %v", err))
	}

	rules := make([]models.EscalationRule, 0, len(file.Rules))
	for _, entry := range file.Rules {
		window, err := parseDuration(entry.Trigger.TimeWindow)
		if err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("rule %s timeWindow: %v", entry.ID, err))
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}

		rule := models.EscalationRule{
			ID:      entry.ID,
			Enabled: enabled,
			Trigger: models.TriggerCondition{
				Type:       models.TriggerType(entry.Trigger.Type),
				Threshold:  entry.Trigger.Threshold,
				TimeWindow: window,
				Conditions: entry.Trigger.Conditions,
			},
			Cultural: entry.Cultural,
		}

		for _, a := range entry.Actions {
			delay, err := parseDuration(a.Delay)
			if err != nil {
				return nil, apperrors.NewConfigurationError(fmt.Sprintf("rule %s action %s delay: %v", entry.ID, a.Type, err))
			}
			action := models.EscalationAction{
				Type:       models.ActionType(a.Type),
				Delay:      delay,
				Recipients: a.Recipients,
				Message:    a.Message,
			}
			for _, m := range a.Methods {
				action.Methods = append(action.Methods, models.DeliveryMethod(m))
			}
			rule.Actions = append(rule.Actions, action)
		}

		rules = append(rules, rule)
	}

	return rules, nil
}
