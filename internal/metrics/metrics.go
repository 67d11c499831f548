// Package metrics holds the prometheus collectors for the chat service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itscraftings/converse/internal/events"
)

const namespace = "chat"

// Collector implements events.Observer, outbox.Metrics and the relay and
// WebSocket hooks.
type Collector struct {
	registry *prometheus.Registry

	published   *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers *prometheus.GaugeVec

	outbox      *prometheus.CounterVec
	relayErrors *prometheus.CounterVec
	wsConns     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "published_total",
			Help: "Events published on the in-process bus.",
		}, []string{"topic"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "delivered_total",
			Help: "Event deliveries enqueued to subscribers.",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "dropped_total",
			Help: "Event deliveries dropped because a subscriber queue was full.",
		}, []string{"topic"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus", Name: "subscribers",
			Help: "Live subscriptions per topic.",
		}, []string{"topic"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "rows_total",
			Help: "Outbox rows processed by outcome.",
		}, []string{"status"}),
		relayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "errors_total",
			Help: "Cross-node relay failures.",
		}, []string{"op"}),
		wsConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Open subscription connections.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(
		c.published, c.delivered, c.dropped, c.subscribers,
		c.outbox, c.relayErrors, c.wsConns,
		c.httpRequests, c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Published(t events.Topic) { c.published.WithLabelValues(t.String()).Inc() }
func (c *Collector) Delivered(t events.Topic) { c.delivered.WithLabelValues(t.String()).Inc() }
func (c *Collector) Dropped(t events.Topic)   { c.dropped.WithLabelValues(t.String()).Inc() }
func (c *Collector) SubscribersChanged(t events.Topic, n int) {
	c.subscribers.WithLabelValues(t.String()).Set(float64(n))
}

func (c *Collector) OutboxProcessed(status string) { c.outbox.WithLabelValues(status).Inc() }
func (c *Collector) RelayError(op string)          { c.relayErrors.WithLabelValues(op).Inc() }
func (c *Collector) ConnectionOpened()             { c.wsConns.Inc() }
func (c *Collector) ConnectionClosed()             { c.wsConns.Dec() }

// Middleware records request counts and latency labelled by the matched route template.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		c.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		c.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack passes through so the WebSocket upgrade works behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
