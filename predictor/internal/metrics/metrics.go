package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
)

// Metrics - счетчики сервиса предсказаний. Регистрируются в собственном реестре.
type Metrics struct {
	registry *prometheus.Registry

	predictions  *prometheus.CounterVec
	errors       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	modelsLoaded prometheus.Gauge
	cacheHits    prometheus.Counter
	auditDropped prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetal_predictions_total",
			Help: "Predictions served, by model and health status.",
		}, []string{"model", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetal_prediction_errors_total",
			Help: "Failed prediction requests, by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetal_prediction_duration_seconds",
			Help:    "Time to produce one prediction, including cache lookup.",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		}, []string{"model"}),
		modelsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetal_models_loaded",
			Help: "Number of models loaded at startup.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetal_cache_hits_total",
			Help: "Predictions answered from the result cache.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetal_audit_dropped_total",
			Help: "Audit records dropped because the flush queue was full.",
		}),
	}

	m.registry.MustRegister(
		m.predictions,
		m.errors,
		m.duration,
		m.modelsLoaded,
		m.cacheHits,
		m.auditDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler отдает метрики для GET /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetModelsLoaded(n int) {
	m.modelsLoaded.Set(float64(n))
}

// AuditDropped подключается к audit.BatcherConfig.OnDrop
func (m *Metrics) AuditDropped(n int) {
	m.auditDropped.Add(float64(n))
}

func (m *Metrics) PredictionServed(ctx context.Context, e service.Event) {
	m.predictions.WithLabelValues(e.Result.ModelUsed, e.Result.HealthStatus).Inc()
	m.duration.WithLabelValues(e.Result.ModelUsed).Observe(e.Duration.Seconds())
	if e.Cached {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) PredictionFailed(ctx context.Context, model string, err error) {
	m.errors.WithLabelValues(ErrorKind(err)).Inc()
}

// ErrorKind - метка вида ошибки
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidFeatures):
		return "invalid_features"
	case errors.Is(err, service.ErrModelNotFound):
		return "model_not_found"
	case errors.Is(err, service.ErrModelNotLoaded):
		return "model_not_loaded"
	case errors.Is(err, service.ErrNoModelAvailable):
		return "no_model_available"
	case errors.Is(err, service.ErrUnexpectedClassCode):
		return "unexpected_class_code"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
