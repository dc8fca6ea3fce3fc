package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeEvaluated labels ticks that produced a health assessment.
	OutcomeEvaluated = "evaluated"
	// OutcomeSkipped labels ticks skipped for insufficient data.
	OutcomeSkipped = "skipped"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "ticks_total",
			Help:      "Total evaluation ticks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "guardian",
			Name:      "tick_seconds",
			Help:      "Evaluation tick latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	alertLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guardian",
			Name:      "alert_level",
			Help:      "Current emergency alert level (0 nominal through 3 safe mode).",
		},
	)

	safeMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guardian",
			Name:      "safe_mode_active",
			Help:      "Whether safe mode is active (1) or not (0).",
		},
	)

	droppedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "dropped_events_total",
			Help:      "Intake events dropped because the ingest queue was full.",
		},
	)

	responseFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "response_failures_total",
			Help:      "Emergency response actions that failed after retries, by action.",
		},
		[]string{"action"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "level_transitions_total",
			Help:      "Alert-level transitions, partitioned by direction.",
		},
		[]string{"direction"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guardian",
			Name:      "ingest_queue_depth",
			Help:      "Current number of events waiting in the ingest queue.",
		},
	)
)

// Register attaches Guardian collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		tickDurationSeconds,
		alertLevel,
		safeMode,
		droppedEventsTotal,
		responseFailuresTotal,
		transitionsTotal,
		queueDepth,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records one evaluation tick.
func ObserveTick(duration time.Duration, outcome string) {
	if outcome != OutcomeSkipped {
		outcome = OutcomeEvaluated
	}
	ticksTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
}

// SetAlertLevel publishes the current level and safe-mode flag.
func SetAlertLevel(level int, safeModeActive bool) {
	alertLevel.Set(float64(level))
	if safeModeActive {
		safeMode.Set(1)
	} else {
		safeMode.Set(0)
	}
}

// IncDroppedEvent counts one dropped intake event.
func IncDroppedEvent() {
	droppedEventsTotal.Inc()
}

// IncResponseFailure counts one failed response action.
func IncResponseFailure(action string) {
	responseFailuresTotal.WithLabelValues(action).Inc()
}

// ObserveTransition counts a level transition.
func ObserveTransition(from, to int) {
	direction := "up"
	if to < from {
		direction = "down"
	}
	transitionsTotal.WithLabelValues(direction).Inc()
}

// SetQueueDepth publishes the ingest queue depth.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}
