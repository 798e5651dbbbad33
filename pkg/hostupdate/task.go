// Package hostupdate implements the host-agent update task: the activator
// variant used when applying a deployment requires restarting the host
// agent process itself, plus the boot-time resume logic that completes or
// rolls back an update left in flight across that restart.
package hostupdate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/dagent/pkg/deployerr"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/merger"
	"github.com/cuemby/dagent/pkg/metrics"
	"github.com/cuemby/dagent/pkg/supervisor"
	"github.com/cuemby/dagent/pkg/workspace"
)

const restartPanicMarkerFile = "restart.panic"

// BootstrapPlan is the content of bootstrap_tasks.json: the merge plan a
// host-agent restart must resume once the new process comes up.
// StageDetails is empty until the post-restart observation fails; the
// rollback cycle carries it forward so the terminal status can still name
// the original failure.
type BootstrapPlan struct {
	TargetConfig map[string]map[string]interface{} `json:"targetConfig"`
	Diff         merger.ServiceDiff                `json:"diff"`
	StageDetails string                            `json:"stageDetails,omitempty"`
}

// Task drives an update across a host-agent restart. It implements
// merger.Activator so the config merger can select it in place of the
// DefaultActivator when a restart is required.
type Task struct {
	Workspace         *workspace.Manager
	Supervisor        supervisor.Supervisor
	NucleusWorkDir    string
	GraceSeconds      int
	PollInterval      time.Duration
	ConvergenceWindow time.Duration
}

func (t *Task) pollInterval() time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return time.Second
}

func (t *Task) convergenceWindow() time.Duration {
	if t.ConvergenceWindow > 0 {
		return t.ConvergenceWindow
	}
	return 2 * time.Minute
}

// Activate hands the deployment off to a restart cycle: it writes
// bootstrap_tasks.json, flips the ongoing workspace to
// HOST_AGENT_ACTIVATION, requests a supervisor restart, and returns without
// completing a result; the outcome is produced by Resume in the next
// process lifetime.
func (t *Task) Activate(ctx context.Context, plan merger.Plan) (*domain.DeploymentResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ActivationDuration, "host_agent")

	d := plan.Deployment.Clone()
	d.Stage = domain.StageHostAgentActivation
	if err := t.Workspace.WriteDeploymentMetadata(d); err != nil {
		return nil, err
	}

	if err := t.writeBootstrapPlan(BootstrapPlan{TargetConfig: plan.TargetConfig, Diff: plan.Diff}); err != nil {
		return nil, err
	}

	if err := t.Supervisor.Shutdown(t.GraceSeconds, "REQUEST_RESTART"); err != nil {
		return nil, deployerr.Wrap(err, deployerr.CodeNucleusError, "request host agent restart", deployerr.TypeNucleus)
	}
	return nil, nil
}

// ResumeOutcome is what Resume reports at boot. At most one of Requeue and
// Result is set; both are nil when a rollback restart has been requested
// and the outcome is left to the next process lifetime.
type ResumeOutcome struct {
	// Requeue is set when the ongoing deployment is at BOOTSTRAP stage:
	// the orchestrator re-enqueues it to complete pre-activation steps
	// through the normal task/merge path.
	Requeue *domain.Deployment
	// Result is set when the ongoing deployment was mid host-agent
	// restart (HOST_AGENT_ACTIVATION or HOST_AGENT_ROLLBACK): a terminal
	// outcome the Finisher can act on directly.
	Result *domain.DeploymentResult
}

// Resume inspects the ongoing workspace at process start and completes
// whatever host-agent restart cycle was in flight.
func (t *Task) Resume() (*ResumeOutcome, error) {
	d, err := t.Workspace.ReadDeploymentMetadata()
	if err != nil {
		return nil, err
	}

	if t.restartPanicMarkerExists() {
		return &ResumeOutcome{Result: &domain.DeploymentResult{
			Status: domain.ResultFailedRollbackComplete,
			Err:    deployerr.New(deployerr.CodeNucleusRestartFailure, "loader fell back after a restart panic", deployerr.TypeNucleus),
		}}, nil
	}

	switch d.Stage {
	case domain.StageBootstrap:
		return &ResumeOutcome{Requeue: d}, nil
	case domain.StageHostAgentActivation:
		return t.resumeActivation(d)
	case domain.StageHostAgentRollback:
		return t.resumeRollback(d)
	default:
		return nil, deployerr.New(deployerr.CodeIOWriteError, "ongoing deployment at unexpected stage for host-agent resume: "+string(d.Stage), deployerr.TypeDevice)
	}
}

func (t *Task) resumeActivation(d *domain.Deployment) (*ResumeOutcome, error) {
	plan, err := t.readBootstrapPlan()
	if err != nil {
		return nil, err
	}

	if t.observe(plan.Diff.Tracked()) {
		return &ResumeOutcome{Result: &domain.DeploymentResult{Status: domain.ResultSuccessful, RootPackages: d.Document.RootNames()}}, nil
	}

	// Persist the failure cause before requesting the rollback restart:
	// the next process lifetime only has the plan file to reconstruct
	// what went wrong.
	plan.StageDetails = "services did not converge after host agent update restart"
	if err := t.writeBootstrapPlan(*plan); err != nil {
		return nil, err
	}

	d.Stage = domain.StageHostAgentRollback
	if err := t.Workspace.WriteDeploymentMetadata(d); err != nil {
		return nil, err
	}
	if err := t.Supervisor.Shutdown(t.GraceSeconds, "REQUEST_RESTART"); err != nil {
		return nil, deployerr.Wrap(err, deployerr.CodeNucleusError, "request rollback restart", deployerr.TypeNucleus)
	}
	return &ResumeOutcome{Result: nil}, nil
}

func (t *Task) resumeRollback(d *domain.Deployment) (*ResumeOutcome, error) {
	plan, err := t.readBootstrapPlan()
	if err != nil {
		return nil, err
	}

	if t.observe(plan.Diff.Inverse().Tracked()) {
		metrics.RolledBackDeploymentsTotal.WithLabelValues(string(deployerr.CodeNucleusRestartFailure)).Inc()
		cause := deployerr.New(deployerr.CodeComponentUpdateError, stageDetailsOrFallback(plan), deployerr.TypeComponent)
		if plan.StageDetails == "" {
			cause = deployerr.New(deployerr.CodeIOWriteError, stageDetailsOrFallback(plan), deployerr.TypeDevice)
		}
		return &ResumeOutcome{Result: &domain.DeploymentResult{
			Status: domain.ResultFailedRollbackComplete,
			Err:    cause,
		}}, nil
	}
	return &ResumeOutcome{Result: &domain.DeploymentResult{
		Status: domain.ResultFailedUnableToRollback,
		Err:    deployerr.New(deployerr.CodeComponentBroken, "services did not converge after rollback restart", deployerr.TypeComponent),
	}}, nil
}

// stageDetailsOrFallback returns the failure cause persisted by the
// pre-rollback lifetime. An empty StageDetails means a silent loader
// restart skipped the persist step; name that explicitly rather than
// reporting nothing.
func stageDetailsOrFallback(plan *BootstrapPlan) string {
	if plan.StageDetails != "" {
		return plan.StageDetails
	}
	return "rollback completed but the original failure cause was not persisted"
}

func (t *Task) writeBootstrapPlan(plan BootstrapPlan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return deployerr.Wrap(err, deployerr.CodeIOWriteError, "marshal bootstrap tasks", deployerr.TypeDevice)
	}
	if err := os.WriteFile(t.Workspace.BootstrapTaskFilePath(), data, 0o644); err != nil {
		return deployerr.Wrap(err, deployerr.CodeIOWriteError, "write bootstrap tasks", deployerr.TypeDevice)
	}
	return nil
}

func (t *Task) readBootstrapPlan() (*BootstrapPlan, error) {
	data, err := os.ReadFile(t.Workspace.BootstrapTaskFilePath())
	if err != nil {
		return nil, deployerr.Wrap(err, deployerr.CodeIOWriteError, "missing stageDetails after restart", deployerr.TypeDevice)
	}
	var plan BootstrapPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, deployerr.Wrap(err, deployerr.CodeIOWriteError, "unmarshal bootstrap tasks", deployerr.TypeDevice)
	}
	return &plan, nil
}

// observe polls tracked services for up to the convergence window,
// reporting whether every one reached its desired state.
func (t *Task) observe(tracked []string) bool {
	deadline := time.Now().Add(t.convergenceWindow())
	ticker := time.NewTicker(t.pollInterval())
	defer ticker.Stop()

	for {
		allReady := true
		for _, name := range tracked {
			svc, err := t.Supervisor.Locate(name)
			if err != nil || !svc.ReachedDesiredState() {
				allReady = false
				break
			}
		}
		if allReady {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

func (t *Task) restartPanicMarkerExists() bool {
	_, err := os.Stat(filepath.Join(t.NucleusWorkDir, restartPanicMarkerFile))
	return err == nil
}
