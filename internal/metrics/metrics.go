package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	VoidKindItem  = "item"
	VoidKindSale  = "sale"
	VoidKindOrder = "order"
)

// Recorder counts sale lifecycle events on its own registry.
type Recorder struct {
	registry     *prometheus.Registry
	salesCreated prometheus.Counter
	saleReplays  prometheus.Counter
	voids        *prometheus.CounterVec
	voidFailures *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		salesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "sales_created_total",
			Help:      "Sales recorded.",
		}),
		saleReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "sale_idempotent_replays_total",
			Help:      "Create-sale calls answered from an earlier sale with the same idempotency key.",
		}),
		voids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "voids_total",
			Help:      "Successful voids by kind.",
		}, []string{"kind"}),
		voidFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "void_failures_total",
			Help:      "Rejected or failed voids by kind.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(
		r.salesCreated,
		r.saleReplays,
		r.voids,
		r.voidFailures,
		collectors.NewGoCollector(),
	)
	return r
}

// A nil *Recorder is valid and records nothing.

func (r *Recorder) SaleCreated() {
	if r == nil {
		return
	}
	r.salesCreated.Inc()
}

func (r *Recorder) SaleReplayed() {
	if r == nil {
		return
	}
	r.saleReplays.Inc()
}

func (r *Recorder) Voided(kind string) {
	if r == nil {
		return
	}
	r.voids.WithLabelValues(kind).Inc()
}

func (r *Recorder) VoidFailed(kind string) {
	if r == nil {
		return
	}
	r.voidFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
