package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Total reservation operations by outcome",
		},
		[]string{"status"},
	)

	reservedUnits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reserved_units_total",
			Help: "Total ticket units claimed by created reservations",
		},
	)

	expiredReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expired_reservations_total",
			Help: "Total reservations released by the expiry sweep",
		},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total webhook events by type and outcome",
		},
		[]string{"type", "status"},
	)

	fulfillments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillments_total",
			Help: "Total fulfillment attempts by outcome",
		},
		[]string{"status"},
	)

	fulfillmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fulfillment_duration_seconds",
			Help:    "Duration of fulfillment runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_checkout_sessions_total",
			Help: "Current number of live checkout session mirrors",
		},
	)
)

// TrackReservation counts one reservation operation outcome
// (created, rejected, released).
func TrackReservation(status string) {
	reservationsTotal.WithLabelValues(status).Inc()
}

// TrackReservedQuantity counts units claimed by a created reservation.
func TrackReservedQuantity(n int64) {
	reservedUnits.Add(float64(n))
}

// TrackExpiredReservations counts reservations released by one sweep pass.
func TrackExpiredReservations(n int) {
	expiredReservations.Add(float64(n))
}

// TrackWebhookEvent counts one inbound event by type and outcome
// (processed, duplicate, skipped, failed).
func TrackWebhookEvent(eventType, status string) {
	webhookEvents.WithLabelValues(eventType, status).Inc()
}

// TrackFulfillment counts one fulfillment attempt outcome.
func TrackFulfillment(status string) {
	fulfillments.WithLabelValues(status).Inc()
}

// TrackFulfillmentDuration records how long one fulfillment run took.
func TrackFulfillmentDuration(d time.Duration) {
	fulfillmentDuration.Observe(d.Seconds())
}

type Monitor struct {
	redis *redis.Client
}

// NewMonitor starts a background collector that samples the active session
// mirrors until ctx is cancelled.
func NewMonitor(ctx context.Context, redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics(ctx)

	return monitor
}

func (m *Monitor) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectSessionMetrics(ctx)
		}
	}
}

// collectSessionMetrics counts the reservation mirrors with an incremental
// SCAN so the sample never blocks redis the way KEYS would.
func (m *Monitor) collectSessionMetrics(ctx context.Context) {
	var count int64
	iter := m.redis.Scan(ctx, 0, "reservation:*", 200).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return
	}
	activeSessions.Set(float64(count))
}
