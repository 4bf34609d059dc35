package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quotecore"

var (
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cache lookups by backend and result (hit, miss).",
	}, []string{"backend", "result"})

	CacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Cache backend errors.",
	}, []string{"backend"})

	RateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "rate_limited_total",
		Help:      "Upstream calls rejected by the local rate limiter.",
	})

	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream REST calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	UpstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_seconds",
		Help:      "Upstream REST call latency.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"endpoint"})

	StreamState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "state",
		Help:      "Stream state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
	})

	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Stream reconnect attempts.",
	})

	StreamTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "ticks_total",
		Help:      "Stream price events by result (accepted, dropped).",
	}, []string{"result"})

	Deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "deliveries_total",
		Help:      "Snapshots delivered to subscriber queues.",
	})

	DeliveryDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "drops_total",
		Help:      "Snapshots evicted from full subscriber queues.",
	})

	RegistrySymbols = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "symbols",
		Help:      "Symbols with at least one subscriber.",
	})

	SchedulerCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "cycles_total",
		Help:      "Scheduler cycles by outcome (ok, idle, rate_limited, error).",
	}, []string{"outcome"})

	TenantPools = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "tenant_pools",
		Help:      "Open tenant connection pools.",
	})

	DBHealthChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "health_checks_total",
		Help:      "Database health checks by resulting status.",
	}, []string{"status"})

	WriterFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "flushes_total",
		Help:      "Snapshot writer batch flushes by outcome.",
	}, []string{"outcome"})

	WriterRows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "rows_total",
		Help:      "Snapshot rows inserted.",
	})

	PublisherMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "messages_total",
		Help:      "Kafka snapshot messages by outcome (sent, failed, dropped).",
	}, []string{"outcome"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CacheRequests, CacheErrors,
		RateLimitRejections, UpstreamRequests, UpstreamLatency,
		StreamState, StreamReconnects, StreamTicks,
		Deliveries, DeliveryDrops, RegistrySymbols,
		SchedulerCycles,
		TenantPools, DBHealthChecks,
		WriterFlushes, WriterRows,
		PublisherMessages,
	}
}

// Register registers all collectors. Collectors that are already registered
// are skipped so Register is safe to call more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
