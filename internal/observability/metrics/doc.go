// Package metrics exposes DrawSight's Prometheus collectors: HTTP request
// instrumentation, plugin execution counters fed by the plugin manager and
// a job backlog collector.
package metrics
