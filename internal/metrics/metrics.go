package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the ticker graph.
type Metrics struct {
	// Ingestion metrics
	TicksReceived  *prometheus.CounterVec
	TicksRejected  *prometheus.CounterVec
	TickLatency    prometheus.Histogram
	FeedConnected  *prometheus.GaugeVec
	FeedReconnects *prometheus.CounterVec

	// Graph metrics
	GraphNodes    *prometheus.GaugeVec
	GraphEdges    *prometheus.GaugeVec
	GraphCycles   *prometheus.GaugeVec
	EdgeUpserts   *prometheus.CounterVec
	UpsertLatency prometheus.Histogram

	// Detection metrics
	CyclesDiscovered     *prometheus.CounterVec
	NegativeCycles       *prometheus.CounterVec
	OpportunitiesQueued  prometheus.Counter
	OpportunitiesDropped prometheus.Counter
	SinkErrors           *prometheus.CounterVec

	gatherer prometheus.Gatherer
	server   *http.Server
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates all metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		TicksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tg_ticks_received_total",
				Help: "Total number of price ticks received by exchange",
			},
			[]string{"exchange"},
		),
		TicksRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tg_ticks_rejected_total",
				Help: "Total number of price ticks rejected by reason",
			},
			[]string{"exchange", "reason"},
		),
		TickLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tg_tick_latency_seconds",
				Help:    "Latency from exchange tick timestamp to processing",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
		),
		FeedConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tg_feed_connected",
				Help: "Feed connection status (1=connected, 0=disconnected)",
			},
			[]string{"exchange"},
		),
		FeedReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tg_feed_reconnects_total",
				Help: "Total number of feed reconnection attempts",
			},
			[]string{"exchange"},
		),
		GraphNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tg_graph_nodes",
				Help: "Current number of nodes (symbols) in the graph",
			},
			[]string{"exchange"},
		),
		GraphEdges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tg_graph_edges",
				Help: "Current number of directed edges in the graph",
			},
			[]string{"exchange"},
		),
		GraphCycles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tg_graph_cycles",
				Help: "Current number of known triangular cycles",
			},
			[]string{"exchange"},
		),
		EdgeUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tg_edge_upserts_total",
				Help: "Total number of edge upserts by outcome (inserted, updated)",
			},
			[]string{"exchange", "outcome"},
		),
		UpsertLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tg_upsert_latency_seconds",
				Help:    "Time spent in a single edge upsert including cycle work",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1us to ~0.5s
			},
		),
		CyclesDiscovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tg_cycles_discovered_total",
				Help: "Total number of triangular cycles discovered",
			},
			[]string{"exchange"},
		),
		NegativeCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tg_negative_cycles_total",
				Help: "Total number of NegativeCycleFound events raised",
			},
			[]string{"exchange"},
		),
		OpportunitiesQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tg_opportunities_queued_total",
				Help: "Total number of opportunities handed to the detector queue",
			},
		),
		OpportunitiesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tg_opportunities_dropped_total",
				Help: "Total number of opportunities dropped because the queue was full",
			},
		),
		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tg_sink_errors_total",
				Help: "Total number of opportunity sink failures",
			},
			[]string{"sink"},
		),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.TicksReceived,
		m.TicksRejected,
		m.TickLatency,
		m.FeedConnected,
		m.FeedReconnects,
		m.GraphNodes,
		m.GraphEdges,
		m.GraphCycles,
		m.EdgeUpserts,
		m.UpsertLatency,
		m.CyclesDiscovered,
		m.NegativeCycles,
		m.OpportunitiesQueued,
		m.OpportunitiesDropped,
		m.SinkErrors,
	)

	return m
}

// StartServer starts the HTTP server for Prometheus metrics.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Int("port", port).Str("path", path).Msg("Starting metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordTickReceived increments the tick counter for the given exchange.
func (m *Metrics) RecordTickReceived(exchange string) {
	m.TicksReceived.WithLabelValues(exchange).Inc()
}

// RecordTickRejected increments the rejected tick counter.
func (m *Metrics) RecordTickRejected(exchange, reason string) {
	m.TicksRejected.WithLabelValues(exchange, reason).Inc()
}

// RecordTickLatency records the latency from exchange timestamp to processing.
func (m *Metrics) RecordTickLatency(tickTime time.Time) {
	if tickTime.IsZero() {
		return
	}
	m.TickLatency.Observe(time.Since(tickTime).Seconds())
}

// SetFeedConnected sets the feed connection status.
func (m *Metrics) SetFeedConnected(exchange string, connected bool) {
	if connected {
		m.FeedConnected.WithLabelValues(exchange).Set(1)
	} else {
		m.FeedConnected.WithLabelValues(exchange).Set(0)
	}
}

// RecordFeedReconnect increments the reconnect counter.
func (m *Metrics) RecordFeedReconnect(exchange string) {
	m.FeedReconnects.WithLabelValues(exchange).Inc()
}

// RecordGraphStats updates node, edge and cycle gauges for one exchange graph.
func (m *Metrics) RecordGraphStats(exchange string, nodes, edges, cycles int) {
	m.GraphNodes.WithLabelValues(exchange).Set(float64(nodes))
	m.GraphEdges.WithLabelValues(exchange).Set(float64(edges))
	m.GraphCycles.WithLabelValues(exchange).Set(float64(cycles))
}

// RecordEdgeUpsert counts an upsert by outcome.
func (m *Metrics) RecordEdgeUpsert(exchange string, inserted bool) {
	outcome := "updated"
	if inserted {
		outcome = "inserted"
	}
	m.EdgeUpserts.WithLabelValues(exchange, outcome).Inc()
}

// RecordUpsertLatency records the time spent in one upsert.
func (m *Metrics) RecordUpsertLatency(d time.Duration) {
	m.UpsertLatency.Observe(d.Seconds())
}

// RecordCyclesDiscovered adds n to the discovered cycle counter.
func (m *Metrics) RecordCyclesDiscovered(exchange string, n int) {
	if n > 0 {
		m.CyclesDiscovered.WithLabelValues(exchange).Add(float64(n))
	}
}

// RecordNegativeCycles adds n to the negative cycle event counter.
func (m *Metrics) RecordNegativeCycles(exchange string, n int) {
	if n > 0 {
		m.NegativeCycles.WithLabelValues(exchange).Add(float64(n))
	}
}

// RecordOpportunityQueued increments the queued opportunity counter.
func (m *Metrics) RecordOpportunityQueued() {
	m.OpportunitiesQueued.Inc()
}

// RecordOpportunityDropped increments the dropped opportunity counter.
func (m *Metrics) RecordOpportunityDropped() {
	m.OpportunitiesDropped.Inc()
}

// RecordSinkError increments the sink failure counter.
func (m *Metrics) RecordSinkError(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}
