// Package merger implements the config merge engine: diffing the target
// service configuration against the current graph, gating activation behind
// the safety-window negotiation, and choosing between the in-process
// DefaultActivator and a host-agent-restart activator when the bootstrap
// checker reports the update requires one.
package merger

import (
	"context"
	"time"

	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/safety"
	"github.com/cuemby/dagent/pkg/supervisor"
)

// BootstrapChecker decides, ahead of activation, whether a target
// configuration requires a host-agent restart to apply.
type BootstrapChecker interface {
	RequiresHostAgentRestart(targetConfig map[string]map[string]interface{}) bool
}

// Merger wires the service diff, safety-window gate, and activator
// selection together.
type Merger struct {
	Supervisor      supervisor.Supervisor
	Safety          safety.Safety
	Default         Activator
	HostAgentUpdate Activator
	Bootstrap       BootstrapChecker
}

type activationOutcome struct {
	result *domain.DeploymentResult
	err    error
}

// Merge computes the service diff for targetConfig against the current
// graph and runs it through the safety-window gate and the chosen
// activator.
func (m *Merger) Merge(ctx context.Context, d *domain.Deployment, targetConfig map[string]map[string]interface{}) (*domain.DeploymentResult, error) {
	raw, err := m.Supervisor.LookupTopics("services")
	if err != nil {
		return nil, err
	}
	current := serviceConfigMap(raw)

	diff := Diff(current, targetConfig, m.isBuiltin)
	plan := Plan{Deployment: d, CurrentConfig: current, TargetConfig: targetConfig, Diff: diff}

	activator := m.Default
	if m.Bootstrap != nil && m.HostAgentUpdate != nil && m.Bootstrap.RequiresHostAgentRestart(targetConfig) {
		activator = m.HostAgentUpdate
	}

	return m.gate(ctx, d, plan, activator)
}

// serviceConfigMap narrows the supervisor's generic config subtree into the
// per-service configuration maps Diff and the activators operate on.
func serviceConfigMap(raw map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(raw))
	for name, v := range raw {
		if cfg, ok := v.(map[string]interface{}); ok {
			out[name] = cfg
		}
	}
	return out
}

func (m *Merger) isBuiltin(name string) bool {
	svc, err := m.Supervisor.Locate(name)
	if err != nil {
		return false
	}
	return svc.IsBuiltin()
}

// gate applies the component-update policy: NOTIFY_COMPONENTS registers the
// activation as a safety-service update action, bounded by
// timeoutSeconds; SKIP_NOTIFY (or a zero timeout) runs the activator
// immediately. Cancelling the deployment while the action is pending
// discards it and completes with CANCELLED; once the action has passed the
// point of no return, the deployment proceeds to completion.
func (m *Merger) gate(ctx context.Context, d *domain.Deployment, plan Plan, activator Activator) (*domain.DeploymentResult, error) {
	policy := d.Document.ComponentUpdatePolicy
	if policy.Action == domain.ActionSkipNotify || policy.TimeoutSeconds == 0 {
		return activator.Activate(ctx, plan)
	}

	outcomeCh := make(chan activationOutcome, 1)
	err := m.Safety.AddUpdateAction(d.DeploymentID, safety.UpdateAction{
		Timeout:      time.Duration(policy.TimeoutSeconds) * time.Second,
		DeploymentID: d.DeploymentID,
		Action: func() error {
			result, err := activator.Activate(ctx, plan)
			outcomeCh <- activationOutcome{result, err}
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	select {
	case outcome := <-outcomeCh:
		return outcome.result, outcome.err
	case <-ctx.Done():
		if m.Safety.DiscardPendingUpdateAction(d.DeploymentID) {
			return &domain.DeploymentResult{Status: domain.ResultCancelled}, nil
		}
		outcome := <-outcomeCh
		return outcome.result, outcome.err
	}
}
