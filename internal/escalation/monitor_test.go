// internal/escalation/monitor_test.go
package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-orchestrator/internal/common/clock"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/models"
)

func TestMonitor_SweepAutoResolvesStaleEscalations(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	tiers := zeroDelayRules(t, `{"rules": [
	  {"id": "r1", "trigger": {"type": "failed_deliveries"}, "actions": [{"type": "notify_family"}]}
	]}`)
	engine, _, _, _, store := newTestEngine(t, tiers, clk)
	monitor := NewMonitor(engine, store, time.Minute, 30*time.Minute, clk, logger.NewNoOpLogger())

	record, err := engine.TriggerEmergencyEscalation(context.Background(), "patient-1", "med-1",
		models.TriggerFailedDeliveries, models.EscalationContext{})
	require.NoError(t, err)

	// Inside the cooldown nothing is touched.
	clk.Advance(10 * time.Minute)
	monitor.Sweep(context.Background())
	current, err := engine.loadRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationActive, current.Status)

	// Past the cooldown the record auto-resolves.
	clk.Advance(25 * time.Minute)
	monitor.Sweep(context.Background())
	current, err = engine.loadRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscalationResolved, current.Status)
	assert.Equal(t, models.ResolvedBySystem, current.ResolvedBy)
	require.NotNil(t, current.ResolvedAt)
	assert.False(t, current.ResolvedAt.Before(current.TriggerTime))

	// A resolved record is skipped by later sweeps.
	resolvedAt := *current.ResolvedAt
	clk.Advance(time.Hour)
	monitor.Sweep(context.Background())
	current, err = engine.loadRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, resolvedAt, *current.ResolvedAt)
}

func TestMonitor_RunStopsOnContextCancel(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	tiers := NewTierStore("", "", logger.NewNoOpLogger())
	engine, _, _, _, store := newTestEngine(t, tiers, clk)
	monitor := NewMonitor(engine, store, time.Minute, 30*time.Minute, clk, logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}
