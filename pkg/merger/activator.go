package merger

import (
	"context"
	"fmt"
	"time"

	log "github.com/cuemby/dagent/pkg/agentlog"
	"github.com/cuemby/dagent/pkg/deployerr"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/metrics"
	"github.com/cuemby/dagent/pkg/supervisor"
	"github.com/cuemby/dagent/pkg/workspace"
)

const defaultPollInterval = time.Second

// Plan is everything an Activator needs to carry out one activation.
type Plan struct {
	Deployment    *domain.Deployment
	CurrentConfig map[string]map[string]interface{}
	TargetConfig  map[string]map[string]interface{}
	Diff          ServiceDiff
}

// Activator carries out a merge plan, either immediately (DefaultActivator)
// or by handing off to a host-agent restart cycle (hostupdate.Task).
type Activator interface {
	Activate(ctx context.Context, plan Plan) (*domain.DeploymentResult, error)
}

// ServiceTimeout returns a service's declared startup timeout.
type ServiceTimeout func(serviceName string) time.Duration

// DefaultActivator applies a merge plan in-process: snapshot, replace,
// reinstall-broken, start-new, remove-obsolete, converge-or-rollback.
type DefaultActivator struct {
	Supervisor     supervisor.Supervisor
	Workspace      *workspace.Manager
	PollInterval   time.Duration
	ServiceTimeout ServiceTimeout
}

func (a *DefaultActivator) pollInterval() time.Duration {
	if a.PollInterval > 0 {
		return a.PollInterval
	}
	return defaultPollInterval
}

func (a *DefaultActivator) serviceTimeout(name string) time.Duration {
	if a.ServiceTimeout != nil {
		return a.ServiceTimeout(name)
	}
	return 2 * time.Minute
}

// Activate runs the full activation sequence for plan, rolling back on
// convergence failure per plan.Deployment.Document.FailureHandlingPolicy.
func (a *DefaultActivator) Activate(ctx context.Context, plan Plan) (*domain.DeploymentResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ActivationDuration, "default")

	if err := a.Workspace.TakeConfigSnapshot(a.Workspace.SnapshotFilePath()); err != nil {
		return nil, err
	}

	mergeStart := time.Now()
	if err := a.apply(plan.TargetConfig, plan.Diff); err != nil {
		return nil, err
	}

	_, convergeErr := a.converge(ctx, plan.Diff.Tracked(), mergeStart)
	if convergeErr == nil {
		return &domain.DeploymentResult{Status: domain.ResultSuccessful, RootPackages: plan.Deployment.Document.RootNames()}, nil
	}

	activatorLogger := log.WithDeployment(plan.Deployment.DeploymentID, string(plan.Deployment.Type))
	activatorLogger.Warn().Err(convergeErr).Msg("activation failed to converge")

	if plan.Deployment.Document.FailureHandlingPolicy == domain.FailureHandlingDoNothing {
		return &domain.DeploymentResult{Status: domain.ResultFailedRollbackNotRequested, Err: convergeErr}, nil
	}
	return a.rollback(ctx, plan, convergeErr)
}

func (a *DefaultActivator) rollback(ctx context.Context, plan Plan, cause error) (*domain.DeploymentResult, error) {
	metrics.RolledBackDeploymentsTotal.WithLabelValues(rollbackReason(cause)).Inc()

	rollbackDiff := plan.Diff.Inverse()
	rollbackStart := time.Now()

	if err := a.apply(plan.CurrentConfig, rollbackDiff); err != nil {
		return &domain.DeploymentResult{Status: domain.ResultFailedUnableToRollback, Err: err}, nil
	}

	_, convergeErr := a.converge(ctx, rollbackDiff.Tracked(), rollbackStart)
	if convergeErr != nil {
		return &domain.DeploymentResult{Status: domain.ResultFailedUnableToRollback, Err: convergeErr}, nil
	}
	metrics.RolledBackDeploymentsTotal.WithLabelValues(rollbackReason(cause)).Inc()
	return &domain.DeploymentResult{Status: domain.ResultFailedRollbackComplete, Err: cause}, nil
}

// apply swaps in the target configuration, reinstalls broken services,
// starts newly-added auto-start services, and closes and removes obsolete
// ones.
func (a *DefaultActivator) apply(targetConfig map[string]map[string]interface{}, diff ServiceDiff) error {
	flattened := make(map[string]interface{}, len(targetConfig))
	for name, cfg := range targetConfig {
		flattened[name] = cfg
	}
	if err := a.Supervisor.ReplaceAndWait([]string{"services"}, flattened); err != nil {
		return deployerr.Wrap(err, deployerr.CodeNucleusError, "replace service graph", deployerr.TypeNucleus)
	}

	all, err := a.Supervisor.OrderedDependencies()
	if err != nil {
		return deployerr.Wrap(err, deployerr.CodeNucleusError, "enumerate services", deployerr.TypeNucleus)
	}
	for _, svc := range all {
		if svc.GetState() == supervisor.StateBroken {
			if err := svc.RequestReinstall(); err != nil {
				return deployerr.Wrap(err, deployerr.CodeComponentBroken, fmt.Sprintf("reinstall broken service %q", svc.Name()), deployerr.TypeComponent)
			}
		}
	}

	for _, name := range diff.ToAdd {
		svc, err := a.Supervisor.Locate(name)
		if err != nil {
			return deployerr.Wrap(err, deployerr.CodeNucleusError, fmt.Sprintf("locate added service %q", name), deployerr.TypeNucleus)
		}
		if svc.ShouldAutoStart() {
			if err := svc.RequestStart(); err != nil {
				return deployerr.Wrap(err, deployerr.CodeComponentUpdateError, fmt.Sprintf("start service %q", name), deployerr.TypeComponent)
			}
		}
	}

	for _, name := range diff.ToRemove {
		svc, err := a.Supervisor.Locate(name)
		if err != nil {
			continue
		}
		if err := <-svc.Close(); err != nil {
			return deployerr.Wrap(err, deployerr.CodeComponentUpdateError, fmt.Sprintf("close removed service %q", name), deployerr.TypeComponent)
		}
		if err := a.Supervisor.Remove(name); err != nil {
			return deployerr.Wrap(err, deployerr.CodeNucleusError, fmt.Sprintf("remove service config %q", name), deployerr.TypeNucleus)
		}
	}
	return nil
}

// rollbackReason reduces cause to a metric label: the error code when
// cause carries one, otherwise a generic fallback.
func rollbackReason(cause error) string {
	if de, ok := cause.(*deployerr.DeploymentError); ok {
		return string(de.Code)
	}
	return "unknown"
}

// converge polls tracked services until they all reach their desired
// state, one of them goes BROKEN after start, or one of them exceeds its
// startup timeout.
func (a *DefaultActivator) converge(ctx context.Context, tracked []string, start time.Time) (bool, error) {
	ticker := time.NewTicker(a.pollInterval())
	defer ticker.Stop()

	for {
		allReady := true
		for _, name := range tracked {
			svc, err := a.Supervisor.Locate(name)
			if err != nil {
				return false, deployerr.Wrap(err, deployerr.CodeNucleusError, fmt.Sprintf("locate tracked service %q", name), deployerr.TypeNucleus)
			}
			if svc.GetState() == supervisor.StateBroken && svc.GetStateModTime().After(start) {
				return false, deployerr.New(deployerr.CodeComponentBroken, fmt.Sprintf("service %q became broken", name), deployerr.TypeComponent)
			}
			if svc.ReachedDesiredState() {
				continue
			}
			if time.Since(start) > a.serviceTimeout(name) {
				return false, deployerr.New(deployerr.CodeComponentUpdateError, fmt.Sprintf("service %q did not reach desired state in time", name), deployerr.TypeComponent)
			}
			allReady = false
		}
		if allReady {
			return true, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, deployerr.Wrap(ctx.Err(), deployerr.CodeComponentUpdateError, "convergence cancelled", deployerr.TypeComponent)
		}
	}
}
