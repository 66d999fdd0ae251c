/*
Package metrics defines and registers the coordinator's Prometheus metrics:
entity gauges (repositories, executors, bindings, tasks, unprocessed
events), Raft health, API request counters, and per-stage timings for the
reconciliation driver (event processing, distribution, admission,
completion).

All metrics are registered at package init via prometheus.MustRegister.
Handler exposes them over HTTP for scraping; Timer is a small helper for
observing stage durations into a histogram.
*/
package metrics
