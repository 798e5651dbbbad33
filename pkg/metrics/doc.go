/*
Package metrics provides Prometheus metrics collection and exposition for
the deployment agent.

The metrics package defines and registers the deployment pipeline's
metrics using the Prometheus client library, providing observability into
queue depth, deployment outcomes, and per-stage latency. Metrics are
exposed via an HTTP endpoint for scraping by Prometheus servers.

# Metrics Catalog

dagent_queue_depth:
  - Type: Gauge
  - Description: Number of deployments currently queued (the active
    deployment is not counted)
  - Example: dagent_queue_depth 2

dagent_deployments_total{type, status}:
  - Type: Counter
  - Description: Total completed deployments by origin and outcome status
  - Labels: type (CLOUD_JOB/SHADOW/LOCAL), status (SUCCESSFUL/...)
  - Example: dagent_deployments_total{type="CLOUD_JOB",status="SUCCESSFUL"} 42

dagent_deployment_duration_seconds{type}:
  - Type: Histogram
  - Description: Deployment duration in seconds by type
  - Buckets: 1, 5, 10, 30, 60, 120, 300, 600, 1800

dagent_deployments_rolled_back_total{reason}:
  - Type: Counter
  - Description: Total deployments whose activation converged via rollback

dagent_deployment_retries_total:
  - Type: Counter
  - Description: Total deployment task re-invocations after a retryable
    failure

dagent_thing_group_list_duration_seconds:
  - Type: Histogram
  - Description: Time taken by the capability discovery step

dagent_activation_duration_seconds{activator}:
  - Type: Histogram
  - Description: Time to activate a merge plan, by activator
    (default/host_agent)

dagent_package_prepare_duration_seconds:
  - Type: Histogram
  - Description: Time to resolve and prepare component packages

# Usage

	timer := metrics.NewTimer()
	result := task.Run(ctx, d, groupToRoots)
	timer.ObserveDurationVec(metrics.DeploymentDuration, string(d.Type))
	metrics.DeploymentsTotal.WithLabelValues(string(d.Type), string(result.Status)).Inc()

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/orchestrator: updates queue depth and deployment outcome counters
  - pkg/deploytask: records retry counts and capability discovery latency
  - pkg/merger: records activation duration by activator
  - Prometheus: scrapes /metrics endpoint

# Design Patterns

Package Init Registration: all metrics are registered in init(), so
MustRegister panics immediately on a duplicate name rather than at first
use.

Label Discipline: labels are bounded sets (deployment type, job status,
activator name), never deployment or configuration ARNs.
*/
package metrics
