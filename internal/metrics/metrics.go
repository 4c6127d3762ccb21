package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/wsession/internal/connection"
	"github.com/rickgao/wsession/internal/events"
)

const metricsNamespace = "wsession"

// ErrAlreadyObserved is returned when a session with the same url and
// client id is already reported.
var ErrAlreadyObserved = errors.New("session with the same url and client id is already observed")

// Metrics holds the session collectors.
type Metrics struct {
	opened       *prometheus.CounterVec
	closed       *prometheus.CounterVec
	reconnecting *prometheus.CounterVec
	errors       *prometheus.CounterVec
	messages     *prometheus.CounterVec
	heartbeats   *prometheus.CounterVec
	stats        *statsCollector
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "connections_opened_total",
			Help:      "Total number of sockets that opened.",
		}, []string{"url", "client_id"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "connections_closed_total",
			Help:      "Total number of sockets that closed.",
		}, []string{"url", "client_id", "clean"}),
		reconnecting: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Total number of scheduled reconnect attempts.",
		}, []string{"url", "client_id"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Total number of session errors by kind.",
		}, []string{"url", "client_id", "kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "messages_received_total",
			Help:      "Total number of inbound frames by frame type.",
		}, []string{"url", "client_id", "frame"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "heartbeats_sent_total",
			Help:      "Total number of heartbeats written.",
		}, []string{"url", "client_id"}),
		stats: newStatsCollector(),
	}
	reg.MustRegister(
		m.opened,
		m.closed,
		m.reconnecting,
		m.errors,
		m.messages,
		m.heartbeats,
		m.stats,
	)
	return m
}

// Observe starts counting events from s and reporting its stats. The
// returned function stops observing.
func (m *Metrics) Observe(s *connection.Session) (func(), error) {
	url, id := s.URL(), s.ClientID()
	if err := m.stats.add(s); err != nil {
		return nil, err
	}
	handlers := map[events.Name]func(events.Event){
		events.Opened: func(events.Event) {
			m.opened.WithLabelValues(url, id).Inc()
		},
		events.Closed: func(ev events.Event) {
			clean := false
			if ce, ok := ev.Payload.(connection.ClosedEvent); ok {
				clean = ce.WasClean
			}
			m.closed.WithLabelValues(url, id, strconv.FormatBool(clean)).Inc()
		},
		events.Reconnecting: func(events.Event) {
			m.reconnecting.WithLabelValues(url, id).Inc()
		},
		events.Error: func(ev events.Event) {
			m.errors.WithLabelValues(url, id, errorKind(ev)).Inc()
		},
		events.Message: func(events.Event) {
			m.messages.WithLabelValues(url, id, "text").Inc()
		},
		events.Binary: func(events.Event) {
			m.messages.WithLabelValues(url, id, "binary").Inc()
		},
		events.Heartbeat: func(events.Event) {
			m.heartbeats.WithLabelValues(url, id).Inc()
		},
	}

	registered := make(map[events.Name]*events.Listener, len(handlers))
	detach := func() {
		for name, l := range registered {
			s.Off(name, l)
		}
		m.stats.remove(s)
	}
	for name, fn := range handlers {
		l, err := s.On(name, fn)
		if err != nil {
			detach()
			return nil, err
		}
		registered[name] = l
	}
	return detach, nil
}

func errorKind(ev events.Event) string {
	ee, ok := ev.Payload.(connection.ErrorEvent)
	if !ok {
		return "unknown"
	}
	var e *connection.Error
	if errors.As(ee.Err, &e) {
		return string(e.Kind)
	}
	return "unknown"
}

// statsCollector reads gauges from observed sessions at scrape time.
type statsCollector struct {
	state    *prometheus.Desc
	pending  *prometheus.Desc
	cached   *prometheus.Desc
	attempts *prometheus.Desc
	uptime   *prometheus.Desc
	totalUp  *prometheus.Desc
	queued   *prometheus.Desc
	evicted  *prometheus.Desc

	mu       sync.Mutex
	sessions map[*connection.Session]struct{}
	labels   map[[2]string]*connection.Session
}

func newStatsCollector() *statsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "session", name),
			help, []string{"url", "client_id"}, nil,
		)
	}
	return &statsCollector{
		state:    desc("state", "Current session state (0 idle .. 6 failed)."),
		pending:  desc("pending_requests", "Requests waiting for a correlated response."),
		cached:   desc("cached_messages", "Outbound messages waiting for a ready connection."),
		attempts: desc("reconnect_attempts", "Consecutive reconnect attempts since the last ready state."),
		uptime:   desc("uptime_seconds", "Age of the current connection."),
		totalUp:  desc("total_uptime_seconds", "Accumulated uptime of closed connections."),
		queued:   desc("queued_events", "Events waiting for delivery to listeners."),
		evicted:  desc("evicted_messages_total", "Outbound messages dropped from a full cache."),
		sessions: make(map[*connection.Session]struct{}),
		labels:   make(map[[2]string]*connection.Session),
	}
}

// add reserves the label pair of s. Two sessions with equal labels would
// make every scrape fail.
func (c *statsCollector) add(s *connection.Session) error {
	key := [2]string{s.URL(), s.ClientID()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if other, ok := c.labels[key]; ok && other != s {
		return fmt.Errorf("%w: %s %s", ErrAlreadyObserved, key[0], key[1])
	}
	c.labels[key] = s
	c.sessions[s] = struct{}{}
	return nil
}

func (c *statsCollector) remove(s *connection.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[s]; !ok {
		return
	}
	delete(c.sessions, s)
	delete(c.labels, [2]string{s.URL(), s.ClientID()})
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.pending
	ch <- c.cached
	ch <- c.attempts
	ch <- c.uptime
	ch <- c.totalUp
	ch <- c.queued
	ch <- c.evicted
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	sessions := make([]*connection.Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		st := s.Stats()
		url, id := s.URL(), s.ClientID()
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(st.State), url, id)
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.PendingRequests), url, id)
		ch <- prometheus.MustNewConstMetric(c.cached, prometheus.GaugeValue, float64(st.CachedMessages), url, id)
		ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.GaugeValue, float64(st.ReconnectAttempts), url, id)
		ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, st.CurrentUptime.Seconds(), url, id)
		ch <- prometheus.MustNewConstMetric(c.totalUp, prometheus.CounterValue, st.TotalUptime.Seconds(), url, id)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(st.QueuedEvents), url, id)
		ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(st.EvictedMessages), url, id)
	}
}
