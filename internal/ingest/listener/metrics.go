package listener

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type listenerMetrics struct {
	received        prometheus.Counter
	admitted        prometheus.Counter
	rejected        *prometheus.CounterVec
	persistFailures prometheus.Counter
	storeReports    prometheus.Gauge
	state           prometheus.Gauge
}

func newListenerMetrics(reg prometheus.Registerer) (*listenerMetrics, error) {
	m := &listenerMetrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ais_messages_received_total",
			Help: "Number of messages received from the broker.",
		}),
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ais_messages_admitted_total",
			Help: "Number of messages admitted into the report store.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ais_messages_rejected_total",
			Help: "Number of messages rejected, by reason.",
		}, []string{"reason"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ais_snapshot_persist_failures_total",
			Help: "Number of snapshot writes which failed.",
		}),
		storeReports: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ais_store_reports",
			Help: "Number of reports currently held in the store.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ais_listener_state",
			Help: "Listener state: 0 disconnected, 1 connecting, 2 subscribed, 3 processing.",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"received messages counter":       m.received,
		"admitted messages counter":       m.admitted,
		"rejected messages counter":       m.rejected,
		"snapshot persist failures count": m.persistFailures,
		"store reports gauge":             m.storeReports,
		"listener state gauge":            m.state,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register %s: %v", name, err)
		}
	}
	return m, nil
}
