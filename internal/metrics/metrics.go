// Package metrics holds the Prometheus instruments shared by the link,
// pipeline and broadcast layers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartcrowd"

// Metrics groups all collectors exported by the backend.
type Metrics struct {
	framesTotal        *prometheus.CounterVec
	readingsDropped    prometheus.Counter
	linkState          prometheus.Gauge
	linkRetries        *prometheus.CounterVec
	readingsProcessed  prometheus.Counter
	solverFallbacks    prometheus.Counter
	subscribers        prometheus.Gauge
	deliveryFailures   prometheus.Counter
	broadcastDuration  prometheus.Histogram
	calibrationChanges *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Returns nil if reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Notifications received from the tracker by parse result",
		}, []string{"result"}),

		readingsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "readings_dropped_total",
			Help:      "Parsed readings dropped because the pipeline queue was full",
		}),

		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "state",
			Help:      "Current link state (0=disconnected 1=scanning 2=connecting 3=subscribing 4=active)",
		}),

		linkRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "retries_total",
			Help:      "Link failures that sent the session back to scanning",
		}, []string{"reason"}),

		readingsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "readings_total",
			Help:      "Readings turned into sensor_data messages",
		}),

		solverFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "solver_fallbacks_total",
			Help:      "Position solves that returned the fallback point",
		}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Currently connected subscribers",
		}),

		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivery_failures_total",
			Help:      "Deliveries that failed and pruned the subscriber",
		}),

		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Time to deliver one message to every subscriber",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		calibrationChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "changes_total",
			Help:      "Calibration table changes by operation",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.framesTotal,
		m.readingsDropped,
		m.linkState,
		m.linkRetries,
		m.readingsProcessed,
		m.solverFallbacks,
		m.subscribers,
		m.deliveryFailures,
		m.broadcastDuration,
		m.calibrationChanges,
	)
	return m
}

// FrameParsed counts a notification that produced a reading.
func (m *Metrics) FrameParsed() {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues("parsed").Inc()
}

// FrameRejected counts a notification that produced no reading.
func (m *Metrics) FrameRejected() {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues("rejected").Inc()
}

func (m *Metrics) ReadingDropped() {
	if m == nil {
		return
	}
	m.readingsDropped.Inc()
}

// LinkState records the numeric value of the current link state.
func (m *Metrics) LinkState(state int) {
	if m == nil {
		return
	}
	m.linkState.Set(float64(state))
}

func (m *Metrics) LinkRetry(reason string) {
	if m == nil {
		return
	}
	m.linkRetries.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReadingProcessed(fallback bool) {
	if m == nil {
		return
	}
	m.readingsProcessed.Inc()
	if fallback {
		m.solverFallbacks.Inc()
	}
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) BroadcastDone(start time.Time) {
	if m == nil {
		return
	}
	m.broadcastDuration.Observe(time.Since(start).Seconds())
}

// CalibrationChanged counts an "update" or "reset".
func (m *Metrics) CalibrationChanged(op string) {
	if m == nil {
		return
	}
	m.calibrationChanges.WithLabelValues(op).Inc()
}
