package conn

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks transport health. A nil *Metrics records nothing.
type Metrics struct {
	dialAttempts prometheus.Counter
	dialFailures prometheus.Counter
	disconnects  prometheus.Counter
	frames       prometheus.Counter
	connected    prometheus.Gauge
}

// NewMetrics creates the transport metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dialAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpv",
			Subsystem: "conn",
			Name:      "dial_attempts_total",
			Help:      "Total number of connection attempts",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpv",
			Subsystem: "conn",
			Name:      "dial_failures_total",
			Help:      "Total number of failed connection attempts",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpv",
			Subsystem: "conn",
			Name:      "disconnects_total",
			Help:      "Total number of established connections that closed",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpv",
			Subsystem: "conn",
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dpv",
			Subsystem: "conn",
			Name:      "connected",
			Help:      "1 while a connection is open",
		}),
	}
	for _, c := range []prometheus.Collector{m.dialAttempts, m.dialFailures, m.disconnects, m.frames, m.connected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) dialed(ok bool) {
	if m == nil {
		return
	}
	m.dialAttempts.Inc()
	if ok {
		m.connected.Set(1)
	} else {
		m.dialFailures.Inc()
	}
}

func (m *Metrics) closed() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
	m.connected.Set(0)
}

func (m *Metrics) frame() {
	if m == nil {
		return
	}
	m.frames.Inc()
}
