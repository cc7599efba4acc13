// internal/escalation/monitor.go
package escalation

import (
	"context"
	"encoding/json"
	"time"

	"reminder-orchestrator/internal/common/clock"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/models"
)

// Monitor auto-resolves escalation records that stay active past the
// cooldown window without any response. Runs until its context is
// cancelled.
type Monitor struct {
	engine   *Engine
	store    storage.Repository
	clk      clock.Clock
	log      logger.Logger
	interval time.Duration
	cooldown time.Duration
}

func NewMonitor(engine *Engine, store storage.Repository, interval, cooldown time.Duration, clk clock.Clock, log logger.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		engine:   engine,
		store:    store,
		clk:      clk,
		log:      log.WithFields(map[string]interface{}{"component": "escalation-monitor"}),
		interval: interval,
		cooldown: cooldown,
	}
}

// Start launches the monitor loop in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	ticker := m.clk.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("escalation monitor started", map[string]interface{}{
		"interval": m.interval.String(),
		"cooldown": m.cooldown.String(),
	})

	for {
		select {
		case <-ctx.Done():
			m.log.Info("escalation monitor stopped", nil)
			return
		case <-ticker.C():
			m.Sweep(ctx)
		}
	}
}

// Sweep resolves every active record older than the cooldown. Exported so
// tests and an admin path can force a pass.
func (m *Monitor) Sweep(ctx context.Context) {
	records, err := m.store.List(ctx, storage.KeyEscalationRecord)
	if err != nil {
		m.log.Error("escalation sweep list failed", map[string]interface{}{"error": err.Error()})
		return
	}

	now := m.clk.Now()
	for key, raw := range records {
		var record models.EscalationRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			m.log.Warn("skipping undecodable escalation record", map[string]interface{}{"key": key, "error": err.Error()})
			continue
		}
		if record.Status != models.EscalationActive {
			continue
		}
		if now.Sub(record.TriggerTime) <= m.cooldown {
			continue
		}

		if err := m.engine.ResolveEscalation(ctx, record.ID, models.ResolvedBySystem); err != nil {
			m.log.Error("auto-resolve failed", map[string]interface{}{"escalationId": record.ID, "error": err.Error()})
			continue
		}
		m.log.Info("stale escalation auto-resolved", map[string]interface{}{
			"escalationId": record.ID,
			"patientId":    record.PatientID,
			"ageSinceTrigger": now.Sub(record.TriggerTime).String(),
		})
	}
}
