// Package metrics exports the bridge's Prometheus metrics.
//
// Collector keeps its own registry, so tests and multiple bridges in one
// process never collide on the global default registry. Metrics:
//
//	meshbridge_frames_total{result}            consumed frames
//	meshbridge_publishes_total{result}         publish attempts
//	meshbridge_session_state{state}            1 for the current state
//	meshbridge_publish_budget_remaining        publishes left
//	meshbridge_publish_budget_unlimited        1 without a budget
//	meshbridge_last_publish_timestamp_seconds  last successful publish
//	meshbridge_build_info{version}
//
// The endpoint is served on metrics.listen at metrics.path when
// metrics.enabled is set. The same server answers /healthz with a JSON
// report of every registered component check: 200 when all pass, 503 when
// any fails.
package metrics
