// Package metrics exports the connection metrics of HiSLIP sessions to Prometheus.
//
// Collector reads the atomic counters of client.ConnectionMetrics at scrape time, so registering a
// session adds no work to the I/O path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-hislip/client"
)

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

type collectorConfig struct {
	namespace   string
	constLabels prometheus.Labels
}

// WithNamespace sets the metrics namespace. The default is "hislip".
func WithNamespace(namespace string) CollectorOption {
	return func(c *collectorConfig) {
		c.namespace = namespace
	}
}

// WithConstLabels sets constant labels added to all metrics.
func WithConstLabels(labels prometheus.Labels) CollectorOption {
	return func(c *collectorConfig) {
		c.constLabels = labels
	}
}

type sessionMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(s *client.Session) float64
}

// Collector is a prometheus.Collector for a set of named sessions.
//
// Every metric carries the labels "session" (the name given to Register) and "address".
type Collector struct {
	sessions *xsync.MapOf[string, *client.Session]
	metrics  []sessionMetric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector without sessions.
func NewCollector(opts ...CollectorOption) *Collector {
	cfg := collectorConfig{namespace: "hislip"}
	for _, opt := range opts {
		opt(&cfg)
	}

	labels := []string{"session", "address"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(cfg.namespace, "", name), help, labels, cfg.constLabels)
	}

	counter := func(name, help string, value func(m *client.ConnectionMetrics) uint64) sessionMetric {
		return sessionMetric{
			desc:      desc(name, help),
			valueType: prometheus.CounterValue,
			value:     func(s *client.Session) float64 { return float64(value(s.Metrics())) },
		}
	}

	return &Collector{
		sessions: xsync.NewMapOf[string, *client.Session](),
		metrics: []sessionMetric{
			counter("messages_sent_total", "Number of messages sent on both channels.",
				func(m *client.ConnectionMetrics) uint64 { return m.MsgSendCount.Load() }),
			counter("messages_received_total", "Number of messages received on both channels.",
				func(m *client.ConnectionMetrics) uint64 { return m.MsgRecvCount.Load() }),
			counter("sent_bytes_total", "Number of bytes sent on both channels.",
				func(m *client.ConnectionMetrics) uint64 { return m.BytesSent.Load() }),
			counter("received_bytes_total", "Number of bytes received on both channels.",
				func(m *client.ConnectionMetrics) uint64 { return m.BytesRecv.Load() }),
			counter("stale_messages_total", "Number of discarded responses to earlier requests.",
				func(m *client.ConnectionMetrics) uint64 { return m.StaleMsgCount.Load() }),
			counter("interrupted_total", "Number of Interrupted and AsyncInterrupted messages received.",
				func(m *client.ConnectionMetrics) uint64 { return m.InterruptedCount.Load() }),
			counter("errors_total", "Number of non-fatal errors.",
				func(m *client.ConnectionMetrics) uint64 { return m.ErrorCount.Load() }),
			counter("fatal_errors_total", "Number of fatal errors that closed the session.",
				func(m *client.ConnectionMetrics) uint64 { return m.FatalErrCount.Load() }),
			counter("connects_total", "Number of successful handshakes.",
				func(m *client.ConnectionMetrics) uint64 { return m.ConnectCount.Load() }),
			{
				desc:      desc("connect_retries", "Number of failed handshakes since the last successful one."),
				valueType: prometheus.GaugeValue,
				value:     func(s *client.Session) float64 { return float64(s.Metrics().ConnRetryGauge.Load()) },
			},
			{
				desc:      desc("session_up", "Whether the session is ready (1) or not (0)."),
				valueType: prometheus.GaugeValue,
				value: func(s *client.Session) float64 {
					if s.State().IsReady() {
						return 1
					}
					return 0
				},
			},
		},
	}
}

// Register adds a session under name, replacing any session registered under the same name.
func (c *Collector) Register(name string, s *client.Session) {
	c.sessions.Store(name, s)
}

// Unregister removes the session registered under name.
func (c *Collector) Unregister(name string) {
	c.sessions.Delete(name)
}

// Len returns the number of registered sessions.
func (c *Collector) Len() int {
	return c.sessions.Size()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.sessions.Range(func(name string, s *client.Session) bool {
		address := s.Config().Address().String()
		for _, m := range c.metrics {
			ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(s), name, address)
		}

		return true
	})
}
