// Package metrics exports fabric and fault-tracer counters to Prometheus.
//
// A Collector owns its own registry so several can coexist in tests. It
// implements both service.Metrics and sft.Metrics; Handler serves the
// registry in the Prometheus text format.
package metrics
