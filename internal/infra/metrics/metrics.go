package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "buybot"

// Metrics owns its registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Polls               *prometheus.CounterVec
	RecordsFetched      prometheus.Counter
	CursorMisses        prometheus.Counter
	EventsAccepted      *prometheus.CounterVec
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
	RateLimited         *prometheus.CounterVec
	MarketErrors        prometheus.Counter
	PersistFailures     prometheus.Counter
	CommandsHandled     *prometheus.CounterVec
	SubscribedChats     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "source", Name: "polls_total",
			Help: "Chain poll cycles by result.",
		}, []string{"result"}),
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "source", Name: "records_new_total",
			Help: "Chain records newer than the cursor.",
		}),
		CursorMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cursor_misses_total",
			Help: "Polls where the last seen signature fell out of the fetched window.",
		}),
		EventsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "filter", Name: "events_accepted_total",
			Help: "Buy events that passed the filter, by origin.",
		}, []string{"source"}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "sent_total",
			Help: "Notifications delivered to a chat.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "failed_total",
			Help: "Notifications that could not be delivered to a chat.",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Calls abandoned because no rate limit token was available.",
		}, []string{"target"}),
		MarketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "market", Name: "errors_total",
			Help: "Failed market data lookups.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "settings", Name: "persist_failures_total",
			Help: "Settings saves that failed after the in-memory change was applied.",
		}),
		CommandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "operator", Name: "commands_total",
			Help: "Operator commands by name and outcome.",
		}, []string{"command", "outcome"}),
		SubscribedChats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "settings", Name: "subscribed_chats",
			Help: "Chats currently receiving buy notifications.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Polls, m.RecordsFetched, m.CursorMisses, m.EventsAccepted,
		m.NotificationsSent, m.NotificationsFailed, m.RateLimited,
		m.MarketErrors, m.PersistFailures, m.CommandsHandled, m.SubscribedChats,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PollResult(result string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) NewRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsFetched.Add(float64(n))
}

func (m *Metrics) CursorMiss() {
	if m == nil {
		return
	}
	m.CursorMisses.Inc()
}

func (m *Metrics) Accepted(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsAccepted.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) Delivered(sent, failed int) {
	if m == nil {
		return
	}
	m.NotificationsSent.Add(float64(sent))
	m.NotificationsFailed.Add(float64(failed))
}

func (m *Metrics) Throttled(target string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(target).Inc()
}

func (m *Metrics) MarketError() {
	if m == nil {
		return
	}
	m.MarketErrors.Inc()
}

func (m *Metrics) PersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) Command(name, outcome string) {
	if m == nil {
		return
	}
	m.CommandsHandled.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.SubscribedChats.Set(float64(n))
}
