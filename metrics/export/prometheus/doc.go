// Package prometheus renders session engine metrics in Prometheus text format.
//
// [NewPrometheusExporter] reads a [toystory.Engine] on every scrape. Counters
// are named toystory_*_total, login latency is the
// toystory_login_latency_seconds histogram (only when latency histograms are
// enabled) and toystory_session_authenticated is a 0/1 gauge.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
