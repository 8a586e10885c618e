package obs

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"launchpad.org/internal/events"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_events_total",
			Help: "Domain events emitted, by type.",
		},
		[]string{"type"},
	)

	ticketsSoldTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "launchpad_raffle_tickets_sold_total",
		Help: "Raffle tickets sold across all raffles.",
	})

	registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_sale_registrations_total",
			Help: "Sale registrations, by tier.",
		},
		[]string{"tier"},
	)

	randomnessFulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchpad_vrf_fulfillments_total",
			Help: "Randomness fulfillments delivered to consumers, by result.",
		},
		[]string{"result"},
	)

	randomnessPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "launchpad_vrf_pending_requests",
		Help: "Randomness requests waiting for fulfillment.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			eventsTotal, ticketsSoldTotal, registrationsTotal,
			randomnessFulfillments, randomnessPending,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests. The path label is
// the chi route pattern when one matched, CanonicalPath otherwise.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = CanonicalPath(r.URL.Path)
		}
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var (
	hashSegment    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressSegment = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	indexSegment   = regexp.MustCompile(`^[0-9]+$`)
)

// CanonicalPath collapses identifiers in a request path so metric label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i, part := range parts {
		switch {
		case hashSegment.MatchString(part):
			parts[i] = ":id"
		case addressSegment.MatchString(part):
			parts[i] = ":address"
		case indexSegment.MatchString(part):
			parts[i] = ":index"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// statusWriter captures the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the instrumented writer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// EventMetrics counts domain events. It is registered on the platform fan-out.
type EventMetrics struct{}

func (EventMetrics) Emit(e events.Event) {
	eventsTotal.WithLabelValues(e.EventType()).Inc()
	switch ev := e.(type) {
	case events.TicketsPurchased:
		ticketsSoldTotal.Add(float64(ev.Count))
	case events.SaleRegistered:
		registrationsTotal.WithLabelValues(strconv.Itoa(int(ev.Tier))).Inc()
	}
}

// ObserveFulfillment records one randomness delivery attempt.
func ObserveFulfillment(ok bool) {
	if ok {
		randomnessFulfillments.WithLabelValues("ok").Inc()
		return
	}
	randomnessFulfillments.WithLabelValues("rejected").Inc()
}

// SetPendingRandomness reports the oracle queue depth.
func SetPendingRandomness(n int) {
	randomnessPending.Set(float64(n))
}
