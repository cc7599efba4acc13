// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_deliveries_total",
			Help: "Total number of channel delivery attempts",
		},
		[]string{"method", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "reminder_delivery_duration_seconds",
			Help: "Duration of delivery request processing in seconds",
		},
		[]string{"mode"},
	)

	EscalationsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_escalations_triggered_total",
			Help: "Total number of emergency escalations triggered",
		},
		[]string{"trigger"},
	)

	EscalationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminder_escalations_active",
			Help: "Number of currently active escalation records",
		},
	)

	FamilyNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_family_notifications_total",
			Help: "Total number of family emergency broadcasts",
		},
		[]string{"status"},
	)

	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_responses_total",
			Help: "Total number of user and family responses recorded",
		},
		[]string{"type"},
	)
)
