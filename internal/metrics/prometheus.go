// Package metrics exposes extraction counters to Prometheus.
package metrics

import (
	"Go2DNSPrint/internal/logger"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Capture outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
)

// Metrics holds every collector of the extraction engine.
type Metrics struct {
	framesRead      prometheus.Counter
	framesSkipped   *prometheus.CounterVec
	retransmissions prometheus.Counter
	sessions        prometheus.Counter
	degradedPairs   prometheus.Counter
	truncatedLists  prometheus.Counter
	rowsWritten     *prometheus.CounterVec
	captures        *prometheus.CounterVec
	latency         prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg uses a
// private registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}

	m := &Metrics{
		framesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsprint_frames_read_total",
			Help: "Frames read from capture files.",
		}),
		framesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsprint_frames_skipped_total",
			Help: "Frames skipped by the dissector, by reason.",
		}, []string{"reason"}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsprint_retransmissions_total",
			Help: "TLS-bearing segments dropped as retransmissions.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsprint_sessions_total",
			Help: "Sessions reduced to a canonical pair.",
		}),
		degradedPairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsprint_degraded_pairs_total",
			Help: "Canonical pairs taken from the positional default.",
		}),
		truncatedLists: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsprint_truncated_lists_total",
			Help: "Feature lists cut to their column capacity.",
		}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsprint_rows_written_total",
			Help: "Feature rows written, by writer.",
		}, []string{"writer"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsprint_captures_total",
			Help: "Processed captures, by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dnsprint_capture_duration_seconds",
			Help:    "Wall time spent extracting one capture.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		gatherer: gatherer,
	}

	var err error
	if m.framesRead, err = register(reg, m.framesRead); err != nil {
		return nil, err
	}
	if m.framesSkipped, err = register(reg, m.framesSkipped); err != nil {
		return nil, err
	}
	if m.retransmissions, err = register(reg, m.retransmissions); err != nil {
		return nil, err
	}
	if m.sessions, err = register(reg, m.sessions); err != nil {
		return nil, err
	}
	if m.degradedPairs, err = register(reg, m.degradedPairs); err != nil {
		return nil, err
	}
	if m.truncatedLists, err = register(reg, m.truncatedLists); err != nil {
		return nil, err
	}
	if m.rowsWritten, err = register(reg, m.rowsWritten); err != nil {
		return nil, err
	}
	if m.captures, err = register(reg, m.captures); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) FramesRead(n int)           { m.framesRead.Add(float64(n)) }
func (m *Metrics) FrameSkipped(reason string) { m.framesSkipped.WithLabelValues(reason).Inc() }
func (m *Metrics) Retransmissions(n int)      { m.retransmissions.Add(float64(n)) }
func (m *Metrics) Sessions(n int)             { m.sessions.Add(float64(n)) }
func (m *Metrics) DegradedPairs(n int)        { m.degradedPairs.Add(float64(n)) }
func (m *Metrics) TruncatedLists(n int)       { m.truncatedLists.Add(float64(n)) }
func (m *Metrics) RowWritten(writer string)   { m.rowsWritten.WithLabelValues(writer).Inc() }

// register registers c, or returns the collector already registered under
// the same description.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// CaptureDone records the outcome and duration of one capture.
func (m *Metrics) CaptureDone(outcome string, d time.Duration) {
	m.captures.WithLabelValues(outcome).Inc()
	m.latency.Observe(d.Seconds())
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve starts a dedicated metrics listener on addr.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server exited: %v", err)
		}
	}()
	return srv
}
