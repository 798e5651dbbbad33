package merger

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/dagent/pkg/domain"
	fakesupervisor "github.com/cuemby/dagent/pkg/supervisor/fake"
	"github.com/cuemby/dagent/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActivator(t *testing.T, sup *fakesupervisor.Supervisor) *DefaultActivator {
	t.Helper()
	return &DefaultActivator{
		Supervisor:     sup,
		Workspace:      workspace.New(t.TempDir(), sup),
		PollInterval:   time.Millisecond,
		ServiceTimeout: func(string) time.Duration { return 50 * time.Millisecond },
	}
}

func testDeploymentWithPolicy(policy domain.FailureHandlingPolicy) *domain.Deployment {
	return &domain.Deployment{
		DeploymentID: "D1",
		Document: &domain.DeploymentDocument{
			RootComponents:        []domain.RootComponent{{Name: "component1", Version: "1.0.0"}},
			FailureHandlingPolicy: policy,
		},
	}
}

func TestActivateSucceedsWhenAllTrackedServicesConverge(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: true, ModTime: time.Now()})

	a := newTestActivator(t, sup)
	plan := Plan{
		Deployment:    testDeploymentWithPolicy(domain.FailureHandlingRollback),
		CurrentConfig: map[string]map[string]interface{}{},
		TargetConfig:  map[string]map[string]interface{}{"component1": {"version": "1.0.0"}},
		Diff:          ServiceDiff{ToAdd: []string{"component1"}},
	}

	result, err := a.Activate(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccessful, result.Status)
	assert.Equal(t, 1, len(sup.Snapshots))
}

func TestActivateRollsBackOnConvergenceTimeout(t *testing.T) {
	sup := fakesupervisor.New()
	// AutoStart false: the service never reaches RUNNING, so convergence
	// times out and a rollback is attempted.
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: false, ModTime: time.Now()})

	a := newTestActivator(t, sup)
	plan := Plan{
		Deployment:    testDeploymentWithPolicy(domain.FailureHandlingRollback),
		CurrentConfig: map[string]map[string]interface{}{},
		TargetConfig:  map[string]map[string]interface{}{"component1": {"version": "1.0.0"}},
		Diff:          ServiceDiff{ToAdd: []string{"component1"}},
	}

	result, err := a.Activate(context.Background(), plan)
	require.NoError(t, err)
	assert.Contains(t, []domain.ResultStatus{domain.ResultFailedRollbackComplete, domain.ResultFailedUnableToRollback}, result.Status)
	require.Error(t, result.Err)
}

func TestActivateReportsRollbackNotRequestedForDoNothingPolicy(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: false, ModTime: time.Now()})

	a := newTestActivator(t, sup)
	plan := Plan{
		Deployment:    testDeploymentWithPolicy(domain.FailureHandlingDoNothing),
		CurrentConfig: map[string]map[string]interface{}{},
		TargetConfig:  map[string]map[string]interface{}{"component1": {"version": "1.0.0"}},
		Diff:          ServiceDiff{ToAdd: []string{"component1"}},
	}

	result, err := a.Activate(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFailedRollbackNotRequested, result.Status)
}

func TestActivateReinstallsBrokenServices(t *testing.T) {
	sup := fakesupervisor.New()
	broken := &fakesupervisor.Service{ServiceName: "broken-one", State: "BROKEN", AutoStart: true, ModTime: time.Now()}
	sup.AddService(broken)

	a := newTestActivator(t, sup)
	plan := Plan{
		Deployment:    testDeploymentWithPolicy(domain.FailureHandlingDoNothing),
		CurrentConfig: map[string]map[string]interface{}{"broken-one": {}},
		TargetConfig:  map[string]map[string]interface{}{"broken-one": {}},
		Diff:          ServiceDiff{ToUpdate: []string{"broken-one"}},
	}

	// broken-one reinstalls to INSTALLED, not RUNNING, so convergence
	// will still time out; we only assert the reinstall happened.
	_, _ = a.Activate(context.Background(), plan)
	assert.Equal(t, 1, broken.ReinstallCalls)
}
