/*
Package metrics provides Prometheus instrumentation and health reporting
for the worker daemon.

All metrics live on the default registry under the agentd_ prefix and are
registered at package init. Counters and histograms are incremented inline
by the router, image builder, and crash monitor; the state gauges are
refreshed by a Collector that polls the status store on a fixed interval.

	┌─────────────┐     inline      ┌───────────────────┐
	│ router /    │ ───────────────►│ agentd_commands_* │
	│ monitor     │                 │ agentd_crash_*    │
	└─────────────┘                 └───────────────────┘
	┌─────────────┐     polling     ┌───────────────────┐
	│ Collector   │ ───────────────►│ agentd_workers_*  │
	│ (store)     │                 │ agentd_image_*    │
	└─────────────┘                 └───────────────────┘

The Server exposes /metrics for scraping and /healthz for liveness.
Components report their health through RegisterComponent; any unhealthy
component turns /healthz into a 503.
*/
package metrics
