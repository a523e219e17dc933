package http

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"groovecast/internal/cache"
	"groovecast/internal/core"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	EventsTotal        *prometheus.CounterVec
	TrackFailuresTotal *prometheus.CounterVec
	CommandsTotal      *prometheus.CounterVec
	ResolveDuration    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groovecast_events_total",
				Help: "Total number of session events emitted",
			},
			[]string{"type"},
		),
		TrackFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groovecast_track_failures_total",
				Help: "Tracks skipped because they could not be played",
			},
			[]string{"reason"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groovecast_commands_total",
				Help: "Session commands by outcome",
			},
			[]string{"command", "result"},
		),
		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groovecast_resolve_duration_seconds",
				Help:    "Time spent resolving play queries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
	}

	m.Registry.MustRegister(
		m.EventsTotal,
		m.TrackFailuresTotal,
		m.CommandsTotal,
		m.ResolveDuration,
	)
	return m
}

// Publish counts an outbound event.
func (m *Metrics) Publish(event core.Event) {
	m.EventsTotal.WithLabelValues(event.Name).Inc()
	if event.Type == core.EventTrackFailed {
		m.TrackFailuresTotal.WithLabelValues(event.Reason).Inc()
	}
}

// RecordCommand counts a command; err nil counts as "ok", otherwise the error kind.
func (m *Metrics) RecordCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = core.KindOf(err).String()
	}
	m.CommandsTotal.WithLabelValues(command, result).Inc()
}

// ObserveSessions exposes the number of live sessions, read at scrape time.
func (m *Metrics) ObserveSessions(active func() int) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "groovecast_active_sessions",
			Help: "Number of chats with a live session",
		},
		func() float64 { return float64(active()) },
	))
}

// ObserveCache exposes fetch cache statistics, read at scrape time.
func (m *Metrics) ObserveCache(stats func() cache.Stats) {
	gauge := func(name, help string, value func(cache.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return value(stats()) })
	}
	counter := func(name, help string, value func(cache.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(value(stats())) })
	}

	m.Registry.MustRegister(
		gauge("groovecast_cache_entries", "Artifacts tracked by the fetch cache",
			func(s cache.Stats) float64 { return float64(s.Entries) }),
		gauge("groovecast_cache_bytes", "Bytes of ready artifacts",
			func(s cache.Stats) float64 { return float64(s.Bytes) }),
		gauge("groovecast_cache_pinned", "Entries held by at least one session",
			func(s cache.Stats) float64 { return float64(s.Pinned) }),
		gauge("groovecast_cache_pending", "Fetches in flight",
			func(s cache.Stats) float64 { return float64(s.Pending) }),
		counter("groovecast_cache_hits_total", "Acquires served by a ready entry",
			func(s cache.Stats) uint64 { return s.Hits }),
		counter("groovecast_cache_misses_total", "Acquires that started a fetch",
			func(s cache.Stats) uint64 { return s.Misses }),
		counter("groovecast_cache_coalesced_total", "Acquires that joined a fetch in flight",
			func(s cache.Stats) uint64 { return s.Coalesced }),
		counter("groovecast_cache_evictions_total", "Artifacts evicted",
			func(s cache.Stats) uint64 { return s.Evictions }),
		counter("groovecast_cache_fetch_failures_total", "Fetches that failed after retries",
			func(s cache.Stats) uint64 { return s.Failures }),
	)
}

type instrumentedResolver struct {
	next    core.Resolver
	metrics *Metrics
}

// InstrumentResolver records resolve latency by outcome.
func InstrumentResolver(next core.Resolver, metrics *Metrics) core.Resolver {
	return &instrumentedResolver{next: next, metrics: metrics}
}

func (r *instrumentedResolver) Resolve(ctx context.Context, query, requestedBy string) ([]core.TrackDescriptor, error) {
	start := time.Now()
	tracks, err := r.next.Resolve(ctx, query, requestedBy)
	result := "ok"
	if err != nil {
		result = core.KindOf(err).String()
	}
	r.metrics.ResolveDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return tracks, err
}
