package metrics

import (
	"context"
	"net/http"

	"github.com/brollyhub/screenrec/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "screenrec"

// Metrics exposes session metrics on a private registry.
type Metrics struct {
	registry  *prometheus.Registry
	sessions  *prometheus.CounterVec
	state     prometheus.Gauge
	recorded  prometheus.Counter
	fallbacks prometheus.Counter
	autoStops prometheus.Counter
}

// New creates and registers the recorder metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished recording sessions by outcome.",
		}, []string{"outcome"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (0 idle, 1 counting down, 2 recording, 3 paused, 4 stopping, 5 finalizing, 6 complete, 7 failed).",
		}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_seconds",
			Help:      "Recording time captured, excluding pauses.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_fallbacks_total",
			Help:      "Sessions delivered as raw files because transcoding failed.",
		}),
		autoStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_stops_total",
			Help:      "Sessions stopped because the duration ran out.",
		}),
	}

	m.registry.MustRegister(
		m.sessions,
		m.state,
		m.recorded,
		m.fallbacks,
		m.autoStops,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe updates metrics from one controller event.
func (m *Metrics) Observe(ev session.Event) {
	switch ev.Type {
	case session.EventStateChange:
		m.state.Set(float64(ev.State))
		if r := ev.Result; r != nil {
			outcome := "complete"
			if r.State == session.StateFailed {
				outcome = "failed"
			}
			m.sessions.WithLabelValues(outcome).Inc()
			m.recorded.Add(r.Recorded.Seconds())
			if r.TranscodeErr != nil {
				m.fallbacks.Inc()
			}
		}
	case session.EventDurationExpired:
		m.autoStops.Inc()
	}
}

// Run observes events until ctx is done or the channel closes.
func (m *Metrics) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}
