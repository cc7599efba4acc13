// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay (config.development, config.production, ...)
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig() // ignore error if not found

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env from the working directory upward so services and
// tests can run from nested directories.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "reminder-orchestrator"
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = ":9102"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Delivery.Mode == "" {
		cfg.Delivery.Mode = "simultaneous"
	}
	if cfg.Delivery.TimeoutPeriod == 0 {
		cfg.Delivery.TimeoutPeriod = int(5 * time.Minute / time.Millisecond)
	}
	if cfg.Delivery.AdapterTimeout == 0 {
		cfg.Delivery.AdapterTimeout = int(30 * time.Second / time.Millisecond)
	}
	if cfg.Delivery.InterMethodDelay == 0 {
		cfg.Delivery.InterMethodDelay = int(10 * time.Second / time.Millisecond)
	}
	if cfg.Delivery.BatchInterval == 0 {
		cfg.Delivery.BatchInterval = int(30 * time.Second / time.Millisecond)
	}
	if len(cfg.Delivery.MethodWeights) == 0 {
		cfg.Delivery.MethodWeights = map[string]int{
			"push":   40,
			"sms":    30,
			"voice":  20,
			"visual": 10,
		}
	}

	if cfg.Escalation.CooldownPeriod == 0 {
		cfg.Escalation.CooldownPeriod = int(30 * time.Minute / time.Millisecond)
	}
	if cfg.Escalation.MonitorInterval == 0 {
		cfg.Escalation.MonitorInterval = int(time.Minute / time.Millisecond)
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "delivery-results"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Delivery.Mode {
	case "simultaneous", "sequential":
	default:
		return fmt.Errorf("delivery.mode must be simultaneous or sequential, got %q", cfg.Delivery.Mode)
	}

	if cfg.Escalation.CooldownPeriod < 0 {
		return fmt.Errorf("escalation.cooldown_period must not be negative")
	}

	for _, w := range cfg.Cultural.PrayerWindows {
		if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
			return fmt.Errorf("invalid prayer window %q: [%d, %d)", w.Name, w.StartMinute, w.EndMinute)
		}
	}

	for _, d := range cfg.Cultural.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", d, err)
		}
	}

	return nil
}
