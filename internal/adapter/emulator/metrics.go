package emulator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RESULT_ACK       = "ack"
	RESULT_DEDUPED   = "deduped"
	RESULT_RESPONDED = "responded"
	RESULT_IGNORED   = "ignored"
	RESULT_MALFORMED = "malformed"
	RESULT_NO_ROUTE  = "no_route"
	RESULT_NO_VALUE  = "no_value"
)

// Metrics is shared by all emulators, labelled by emulator name. A nil
// *Metrics records nothing.
type Metrics struct {
	datagrams    *prometheus.CounterVec
	sessions     *prometheus.GaugeVec
	messagesSent *prometheus.CounterVec
}

// NewMetrics registers emulator metrics on registry. It returns nil when
// registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "b2500meter",
			Subsystem: "emulator",
			Name:      "datagrams_total",
			Help:      "UDP datagrams handled, by outcome",
		}, []string{"emulator", "result"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "b2500meter",
			Subsystem: "emulator",
			Name:      "tcp_sessions",
			Help:      "Open TCP polling sessions",
		}, []string{"emulator"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "b2500meter",
			Subsystem: "emulator",
			Name:      "tcp_messages_sent_total",
			Help:      "Readings streamed over TCP sessions",
		}, []string{"emulator"}),
	}
	registry.MustRegister(m.datagrams, m.sessions, m.messagesSent)
	return m
}

func (m *Metrics) Datagram(emulator string, result string) {
	if m == nil {
		return
	}
	m.datagrams.WithLabelValues(emulator, result).Inc()
}

func (m *Metrics) SessionOpened(emulator string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(emulator).Inc()
}

func (m *Metrics) SessionClosed(emulator string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(emulator).Dec()
}

func (m *Metrics) MessageSent(emulator string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(emulator).Inc()
}
