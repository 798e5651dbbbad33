// Package deploytask implements the per-deployment pipeline: capability
// discovery, dependency resolution, artifact preparation, kernel-config
// resolution, and hand-off to the config merger, with the
// retry-on-transient-failure policy that wraps the whole sequence.
package deploytask

import (
	"context"
	"time"

	log "github.com/cuemby/dagent/pkg/agentlog"
	"github.com/cuemby/dagent/pkg/deployerr"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/metrics"
	"github.com/cuemby/dagent/pkg/packagemgr"
)

// maxReinvocations is the number of extra attempts a retryable failure is
// allowed, for three total attempts.
const maxReinvocations = 2

// ThingGroupLister is the optional capability-discovery call (step 1). Not
// every agent implements it; a nil Lister skips the step.
type ThingGroupLister interface {
	ListThingGroups(ctx context.Context) error
}

// Merger applies the resolved kernel config, either in-process or via a
// host-agent restart for self-updates, and reports the deployment's outcome.
type Merger interface {
	Merge(ctx context.Context, d *domain.Deployment, kernelConfig map[string]map[string]interface{}) (*domain.DeploymentResult, error)
}

// Task runs one deployment through the full pipeline.
type Task struct {
	Lister     ThingGroupLister
	PackageMgr packagemgr.PackageManager
	Merger     Merger

	// ListThingGroupsBackoff bounds the capped exponential backoff for
	// step 1's transient 5xx retries. Defaults to a three-step backoff
	// starting at 200ms if zero.
	ListThingGroupsBackoff []time.Duration
}

func (t *Task) backoffSchedule() []time.Duration {
	if len(t.ListThingGroupsBackoff) > 0 {
		return t.ListThingGroupsBackoff
	}
	return []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
}

// Run executes the deployment pipeline for d, retrying the whole sequence
// up to maxReinvocations times when the failure is tagged retryable.
func (t *Task) Run(ctx context.Context, d *domain.Deployment, groupToRoots map[string][]domain.GroupRoot) *domain.DeploymentResult {
	var lastErr error
	for attempt := 0; attempt <= maxReinvocations; attempt++ {
		result, err := t.runOnce(ctx, d, groupToRoots)
		if err == nil {
			return result
		}
		lastErr = err
		if !deployerr.IsRetryable(err) {
			break
		}
		if attempt < maxReinvocations {
			metrics.RetriesTotal.Inc()
			taskLogger := log.WithDeployment(d.DeploymentID, string(d.Type))
			taskLogger.Warn().Msg("retryable failure, re-invoking deployment task")
		}
	}
	return &domain.DeploymentResult{Status: domain.ResultFailedNoStateChange, Err: lastErr}
}

func (t *Task) runOnce(ctx context.Context, d *domain.Deployment, groupToRoots map[string][]domain.GroupRoot) (*domain.DeploymentResult, error) {
	if err := t.listThingGroups(ctx); err != nil {
		return nil, err
	}

	prepareTimer := metrics.NewTimer()
	components, err := t.PackageMgr.ResolveDependencies(d.Document, groupToRoots)
	if err != nil {
		return nil, err
	}

	prepareCtx, cancelPrepare := context.WithCancel(ctx)
	defer cancelPrepare()
	if err := t.PackageMgr.PreparePackages(prepareCtx, components); err != nil {
		return nil, err
	}
	prepareTimer.ObserveDuration(metrics.PackagePrepareDuration)

	currentRoots := currentRootNames(groupToRoots)
	kernelConfig, err := t.PackageMgr.ResolveKernelConfig(components, d.Document, currentRoots)
	if err != nil {
		return nil, err
	}

	result, err := t.Merger.Merge(ctx, d, kernelConfig)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// listThingGroups performs the best-effort capability discovery step:
// FORBIDDEN is swallowed, transient 5xx is retried with capped backoff, and
// ctx cancellation fails the step outright.
func (t *Task) listThingGroups(ctx context.Context) error {
	if t.Lister == nil {
		return nil
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ThingGroupListDuration)

	var lastErr error
	for _, delay := range append([]time.Duration{0}, t.backoffSchedule()...) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return deployerr.Wrap(ctx.Err(), deployerr.CodeNetworkError, "list thing groups interrupted", deployerr.TypeNetwork)
			}
		}

		err := t.Lister.ListThingGroups(ctx)
		if err == nil {
			return nil
		}
		if de, ok := err.(*deployerr.DeploymentError); ok && de.Code == deployerr.CodeAccessDenied {
			return nil
		}
		lastErr = err
		if !deployerr.IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

func currentRootNames(groupToRoots map[string][]domain.GroupRoot) []string {
	var names []string
	for _, roots := range groupToRoots {
		for _, r := range roots {
			names = append(names, r.ComponentName)
		}
	}
	return names
}
