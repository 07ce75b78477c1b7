package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zaz600/go-status-collector/internal/service/ingest"
)

const metricsPrefix = "status_collector_"

// SubmitError почему отчет не принят
type SubmitError string

const (
	SubmitErrorInvalid     SubmitError = "invalid"
	SubmitErrorQueueClosed SubmitError = "queue_closed"
	SubmitErrorTimeout     SubmitError = "timeout"
)

type Metrics struct {
	accepted     prometheus.Counter
	submitErrors *prometheus.CounterVec
}

// NewMetrics регистрирует метрики приема отчетов и заполненности очереди в reg
func NewMetrics(reg prometheus.Registerer, queue *ingest.Queue) *Metrics {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricsPrefix + "queue_length",
		Help: "Number of reports waiting in the ingestion queue",
	}, func() float64 {
		return float64(queue.Len())
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricsPrefix + "queue_capacity",
		Help: "Capacity of the ingestion queue",
	}, func() float64 {
		return float64(queue.Cap())
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricsPrefix + "queue_closed",
		Help: "1 when the ingestion queue no longer accepts reports",
	}, func() float64 {
		if queue.Closed() {
			return 1
		}
		return 0
	})
	return &Metrics{
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "reports_accepted_total",
			Help: "Number of reports admitted to the ingestion queue",
		}),
		submitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "submit_errors_total",
			Help: "Number of reports not admitted to the ingestion queue grouped by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) RecordAccepted() {
	m.accepted.Inc()
}

func (m *Metrics) RecordSubmitError(reason SubmitError) {
	m.submitErrors.With(map[string]string{"reason": string(reason)}).Inc()
}
