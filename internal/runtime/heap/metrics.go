package heap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	mappedBytes    *prometheus.GaugeVec
	operations     *prometheus.CounterVec
	fatal          *prometheus.CounterVec
	zeroedBytes    prometheus.Counter
	suspiciousRefs prometheus.Counter
}

func newMetrics(r prometheus.Registerer) *metrics {
	return &metrics{
		mappedBytes: promauto.With(r).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orizon",
			Subsystem: "heap",
			Name:      "mapped_bytes",
			Help:      "Bytes currently covered by each heap region.",
		}, []string{"heap"}),
		operations: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Namespace: "orizon",
			Subsystem: "heap",
			Name:      "operations_total",
			Help:      "Completed region operations by kind.",
		}, []string{"op"}),
		fatal: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Namespace: "orizon",
			Subsystem: "heap",
			Name:      "fatal_total",
			Help:      "Fatal heap conditions by code.",
		}, []string{"code"}),
		zeroedBytes: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: "orizon",
			Subsystem: "heap",
			Name:      "zeroed_bytes_total",
			Help:      "Bytes cleared by zero and parallel zero passes.",
		}),
		suspiciousRefs: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: "orizon",
			Subsystem: "heap",
			Name:      "suspicious_refs_total",
			Help:      "Possible cross-heap references found by paranoid scans.",
		}),
	}
}
