package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const promNamespace = "messenger_gateway"

// Prometheus holds the gateway's Prometheus collectors.
type Prometheus struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	HandshakesTotal *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	EntriesTotal    *prometheus.CounterVec
	EventsTotal     *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
}

// NewPrometheus creates and registers all collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	return &Prometheus{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: promNamespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: promNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		HandshakesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: promNamespace,
				Name:      "handshakes_total",
				Help:      "Subscription handshakes by result",
			},
			[]string{"result"}, // verified/failed
		),
		DeliveriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: promNamespace,
				Name:      "deliveries_total",
				Help:      "Webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		EntriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: promNamespace,
				Name:      "entries_total",
				Help:      "Envelope entries by page resolution",
			},
			[]string{"result"}, // resolved/unknown_page
		),
		EventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: promNamespace,
				Name:      "events_total",
				Help:      "Handler invocations by handler, event kind and result",
			},
			[]string{"handler", "kind", "result"},
		),
		HandlerDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: promNamespace,
				Name:      "handler_duration_seconds",
				Help:      "Handler invocation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler"},
		),
	}
}

func (p *Prometheus) Request(route, method string, status int, elapsed time.Duration) {
	p.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	p.RequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (p *Prometheus) Handshake(ok bool) {
	if ok {
		p.HandshakesTotal.WithLabelValues("verified").Inc()
		return
	}
	p.HandshakesTotal.WithLabelValues("failed").Inc()
}

func (p *Prometheus) Delivery(outcome string) {
	p.DeliveriesTotal.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) Entry(resolved bool) {
	if resolved {
		p.EntriesTotal.WithLabelValues("resolved").Inc()
		return
	}
	p.EntriesTotal.WithLabelValues("unknown_page").Inc()
}

func (p *Prometheus) Event(handler, kind, result string, elapsed time.Duration) {
	p.EventsTotal.WithLabelValues(handler, kind, result).Inc()
	p.HandlerDuration.WithLabelValues(handler).Observe(elapsed.Seconds())
}
