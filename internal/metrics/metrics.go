package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goregress/domain/regression"
)

const namespace = "regress"

const (
	// OutcomeOK labels fits that filled their cells.
	OutcomeOK = "ok"
	// RunCompleted and RunFailed label finished metric runs.
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Recorder owns the regression collectors and the registry they live in.
// It satisfies the orchestrator's FitObserver.
type Recorder struct {
	registry *prometheus.Registry

	fitsTotal        *prometheus.CounterVec
	fitDuration      *prometheus.HistogramVec
	selectedElements prometheus.Gauge
	runsTotal        *prometheus.CounterVec
}

// NewRecorder builds a recorder on a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fits_total",
				Help:      "Model fits attempted, partitioned by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		fitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fit_duration_seconds",
				Help:      "Model fit latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"stage"},
		),
		selectedElements: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "selected_elements",
				Help:      "Elements retained for the multivariate stage of the last run.",
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Metric runs finished, partitioned by status.",
			},
			[]string{"status"},
		),
	}
	r.registry.MustRegister(r.fitsTotal, r.fitDuration, r.selectedElements, r.runsTotal)
	return r
}

// Register attaches extra collectors such as the Go runtime collector. Duplicates are ignored.
func (r *Recorder) Register(extra ...prometheus.Collector) error {
	for _, c := range extra {
		if err := r.registry.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveFit records one fit duration and outcome label
func (r *Recorder) ObserveFit(stage regression.StageName, outcome string, elapsed time.Duration) {
	if outcome == "" {
		outcome = OutcomeOK
	}
	r.fitsTotal.WithLabelValues(string(stage), outcome).Inc()
	if elapsed < 0 {
		elapsed = 0
	}
	r.fitDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// ObserveSelection records how many elements the selector retained
func (r *Recorder) ObserveSelection(retained int) {
	r.selectedElements.Set(float64(retained))
}

// ObserveRun counts a finished metric run
func (r *Recorder) ObserveRun(failed bool) {
	status := RunCompleted
	if failed {
		status = RunFailed
	}
	r.runsTotal.WithLabelValues(status).Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Handler serves the registry over HTTP
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and custom exporters
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}
