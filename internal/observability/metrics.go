package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
)

const namespace = "tank_monitor"

// Metrics holds the Prometheus counters, histograms, and gauges for the tank monitor.
type Metrics struct {
	ReadingsConsumed  *prometheus.CounterVec // labels: kind={air_gap,temperature}
	ReadingOutcomes   *prometheus.CounterVec // labels: outcome
	InvalidReadings   prometheus.Counter
	SnapshotsProduced prometheus.Counter
	PipelineRunning   prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Per-tank state.
	TankVolume           *prometheus.GaugeVec   // labels: tank
	TankNormalizedVolume *prometheus.GaugeVec   // labels: tank
	TankDaysUntilEmpty   *prometheus.GaugeVec   // labels: tank
	Refills              *prometheus.CounterVec // labels: tank, source={detected,manual}
	ConsumptionLiters    *prometheus.CounterVec // labels: tank

	PersistenceFailures *prometheus.CounterVec // labels: operation={load,save,backfill}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.ReadingsConsumed,
		m.ReadingOutcomes,
		m.InvalidReadings,
		m.SnapshotsProduced,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.TankVolume,
		m.TankNormalizedVolume,
		m.TankDaysUntilEmpty,
		m.Refills,
		m.ConsumptionLiters,
		m.PersistenceFailures,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		ReadingsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_consumed_total",
			Help:      help("Sensor readings read from the source, by sensor kind."),
		}, []string{"kind"}),
		ReadingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reading_outcomes_total",
			Help:      help("Processing cycle outcomes, by classification."),
		}, []string{"outcome"}),
		InvalidReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_readings_total",
			Help:      help("Sensor readings rejected as malformed, invalid or for an unknown tank."),
		}),
		SnapshotsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_produced_total",
			Help:      help("Snapshots handed to the configured sinks."),
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the pipeline is active, 0 when shut down."),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      help("Number of sensor readings per extracted batch."),
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      help("Duration of a complete extract-process-load cycle."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		TankVolume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tank_volume_liters",
			Help:      help("Current measured volume of the tank."),
		}, []string{"tank"}),
		TankNormalizedVolume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tank_normalized_volume_liters",
			Help:      help("Current volume normalized to the reference temperature."),
		}, []string{"tank"}),
		TankDaysUntilEmpty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tank_days_until_empty",
			Help:      help("Forecast days until the tank runs dry at the average consumption rate."),
		}, []string{"tank"}),
		Refills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refills_total",
			Help:      help("Recorded refills, by tank and source."),
		}, []string{"tank", "source"}),
		ConsumptionLiters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumption_liters_total",
			Help:      help("Liters recorded as consumption."),
		}, []string{"tank"}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      help("Failed state store and history operations."),
		}, []string{"operation"}),
	}
}

// ObserveSnapshot updates the per-tank gauges from a snapshot.
func (m *Metrics) ObserveSnapshot(s domain.Snapshot) {
	m.ReadingOutcomes.WithLabelValues(string(s.Outcome)).Inc()
	if !s.Initialized {
		return
	}
	m.TankVolume.WithLabelValues(s.TankID).Set(s.MeasuredVolume)
	if s.NormalizedVolume != nil {
		m.TankNormalizedVolume.WithLabelValues(s.TankID).Set(*s.NormalizedVolume)
	} else {
		m.TankNormalizedVolume.DeleteLabelValues(s.TankID)
	}
	if s.DaysUntilEmpty != nil {
		m.TankDaysUntilEmpty.WithLabelValues(s.TankID).Set(*s.DaysUntilEmpty)
	} else {
		m.TankDaysUntilEmpty.DeleteLabelValues(s.TankID)
	}
}
