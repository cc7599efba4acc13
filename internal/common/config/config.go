// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Delivery      DeliveryConfig     `mapstructure:"delivery"`
	Cultural      CulturalConfig     `mapstructure:"cultural"`
	Escalation    EscalationConfig   `mapstructure:"escalation"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Delivery Coordinator Config ---

// DeliveryConfig controls execution mode, confirmation waits and the batch
// loop. Durations are configured in milliseconds.
type DeliveryConfig struct {
	Mode                 string         `mapstructure:"mode"` // "simultaneous" or "sequential"
	InterMethodDelay     int            `mapstructure:"inter_method_delay"`
	TimeoutPeriod        int            `mapstructure:"timeout_period"`
	AdapterTimeout       int            `mapstructure:"adapter_timeout"`
	ConfirmationRequired bool           `mapstructure:"confirmation_required"`
	FailoverEnabled      bool           `mapstructure:"failover_enabled"`
	BatchInterval        int            `mapstructure:"batch_interval"`
	MethodWeights        map[string]int `mapstructure:"method_weights"`
}

func (d DeliveryConfig) InterMethodDelayDuration() time.Duration {
	return time.Duration(d.InterMethodDelay) * time.Millisecond
}

func (d DeliveryConfig) TimeoutPeriodDuration() time.Duration {
	return time.Duration(d.TimeoutPeriod) * time.Millisecond
}

func (d DeliveryConfig) AdapterTimeoutDuration() time.Duration {
	return time.Duration(d.AdapterTimeout) * time.Millisecond
}

func (d DeliveryConfig) BatchIntervalDuration() time.Duration {
	return time.Duration(d.BatchInterval) * time.Millisecond
}

// --- Cultural Constraint Config ---

type CulturalConfig struct {
	RespectSchedulingConstraints bool           `mapstructure:"respect_scheduling_constraints"`
	PrayerWindows                []PrayerWindow `mapstructure:"prayer_windows"`
	Holidays                     []string       `mapstructure:"holidays"` // YYYY-MM-DD
}

// PrayerWindow is a daily window in minutes from midnight, local time.
type PrayerWindow struct {
	Name        string `mapstructure:"name"`
	StartMinute int    `mapstructure:"start_minute"`
	EndMinute   int    `mapstructure:"end_minute"`
}

// --- Escalation Config ---

type EscalationConfig struct {
	CooldownPeriod  int    `mapstructure:"cooldown_period"`  // milliseconds
	MonitorInterval int    `mapstructure:"monitor_interval"` // milliseconds
	TiersPath       string `mapstructure:"tiers_path"`
	RulesPath       string `mapstructure:"rules_path"`
}

func (e EscalationConfig) CooldownDuration() time.Duration {
	return time.Duration(e.CooldownPeriod) * time.Millisecond
}

func (e EscalationConfig) MonitorIntervalDuration() time.Duration {
	return time.Duration(e.MonitorInterval) * time.Millisecond
}

// --- Channel Config ---

// NotificationConfig holds settings for the channel adapters.
type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`

	Voice struct {
		Enabled    bool   `mapstructure:"enabled"`
		GatewayURL string `mapstructure:"gateway_url"`
		APIKey     string `mapstructure:"api_key"`
		Timeout    int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"voice"`

	Visual struct {
		Enabled       bool   `mapstructure:"enabled"`
		ChannelPrefix string `mapstructure:"channel_prefix"`
	} `mapstructure:"visual"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
