// Package telemetry exposes heap metrics over HTTP.
package telemetry

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SnapshotFunc returns a map of metric name -> current value. Names should be
// simple tokens; anything outside [a-zA-Z0-9_:] is replaced.
type SnapshotFunc func() map[string]float64

// StartMetricsServer serves the metrics gathered by g under "/metrics" on
// addr (host:port). It returns the bound address, which differs from addr
// when port 0 was used, and a shutdown function.
func StartMetricsServer(addr string, g prometheus.Gatherer) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "listen on %s", addr)
	}
	bound := ln.Addr().String()
	go func() {
		_ = srv.Serve(ln)
	}()
	stop := func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
	return bound, stop, nil
}

// snapshotCollector turns a SnapshotFunc into gauges named
// <namespace>_<key>, read on every scrape.
type snapshotCollector struct {
	namespace string
	fn        SnapshotFunc
}

// NewSnapshotCollector returns a collector reporting fn's values as gauges.
// The set of names may change between scrapes.
func NewSnapshotCollector(namespace string, fn SnapshotFunc) prometheus.Collector {
	return &snapshotCollector{namespace: namespace, fn: fn}
}

// Describe sends nothing, which makes the collector unchecked.
func (c *snapshotCollector) Describe(chan<- *prometheus.Desc) {}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.fn()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		desc := prometheus.NewDesc(sanitizeMetricToken(c.namespace+"_"+k), "Snapshot value "+k+".", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, snapshot[k])
	}
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	out := string(b)
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return out
}
