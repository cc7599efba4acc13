// internal/cultural/provider.go
package cultural

import (
	"context"
	"time"

	"reminder-orchestrator/internal/common/config"
)

// Assessment is the evaluated set of cultural flags for one instant.
type Assessment struct {
	IsPrayerTime    bool   `json:"isPrayerTime"`
	PrayerName      string `json:"prayerName,omitempty"`
	IsHoliday       bool   `json:"isHoliday"`
	IsFastingPeriod bool   `json:"isFastingPeriod"`
}

// Provider supplies prayer-time/holiday/fasting flags for a given instant.
// Consumed by the delivery coordinator; never computed there.
type Provider interface {
	Evaluate(ctx context.Context, instant time.Time, language string) (*Assessment, error)
}

// StaticProvider evaluates constraints from configured daily windows and
// holiday dates. Real deployments can swap in a provider backed by a
// prayer-time calculation service.
type StaticProvider struct {
	windows  []config.PrayerWindow
	holidays map[string]bool
}

func NewStaticProvider(cfg config.CulturalConfig) *StaticProvider {
	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, d := range cfg.Holidays {
		holidays[d] = true
	}
	return &StaticProvider{
		windows:  cfg.PrayerWindows,
		holidays: holidays,
	}
}

func (p *StaticProvider) Evaluate(_ context.Context, instant time.Time, _ string) (*Assessment, error) {
	assessment := &Assessment{}

	minute := instant.Hour()*60 + instant.Minute()
	for _, w := range p.windows {
		if minute >= w.StartMinute && minute < w.EndMinute {
			assessment.IsPrayerTime = true
			assessment.PrayerName = w.Name
			break
		}
	}

	if p.holidays[instant.Format("2006-01-02")] {
		assessment.IsHoliday = true
	}

	return assessment, nil
}
