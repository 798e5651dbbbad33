package merger

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/dagent/pkg/domain"
	fakesafety "github.com/cuemby/dagent/pkg/safety/fake"
	fakesupervisor "github.com/cuemby/dagent/pkg/supervisor/fake"
	"github.com/cuemby/dagent/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMerger(t *testing.T, sup *fakesupervisor.Supervisor, saf *fakesafety.Safety) *Merger {
	t.Helper()
	return &Merger{
		Supervisor: sup,
		Safety:     saf,
		Default: &DefaultActivator{
			Supervisor:     sup,
			Workspace:      workspace.New(t.TempDir(), sup),
			PollInterval:   time.Millisecond,
			ServiceTimeout: func(string) time.Duration { return 50 * time.Millisecond },
		},
	}
}

func deploymentWithPolicy(action domain.UpdatePolicyAction, timeoutSeconds int) *domain.Deployment {
	return &domain.Deployment{
		DeploymentID: "D1",
		Document: &domain.DeploymentDocument{
			RootComponents:        []domain.RootComponent{{Name: "component1", Version: "1.0.0"}},
			ComponentUpdatePolicy: domain.ComponentUpdatePolicy{Action: action, TimeoutSeconds: timeoutSeconds},
			FailureHandlingPolicy: domain.FailureHandlingRollback,
		},
	}
}

func TestMergeSkipsGateOnSkipNotify(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: true, ModTime: time.Now()})
	saf := fakesafety.New()
	m := newTestMerger(t, sup, saf)

	result, err := m.Merge(context.Background(), deploymentWithPolicy(domain.ActionSkipNotify, 60), map[string]map[string]interface{}{"component1": {"version": "1.0.0"}})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccessful, result.Status)
}

func TestMergeNotifiesComponentsViaSafetyService(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: true, ModTime: time.Now()})
	saf := fakesafety.New()
	saf.AutoFire = true
	m := newTestMerger(t, sup, saf)

	result, err := m.Merge(context.Background(), deploymentWithPolicy(domain.ActionNotifyComponents, 60), map[string]map[string]interface{}{"component1": {"version": "1.0.0"}})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccessful, result.Status)
}

func TestMergeCancellationDiscardsPendingAction(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: true, ModTime: time.Now()})
	saf := fakesafety.New()
	saf.AutoFire = false
	m := newTestMerger(t, sup, saf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := m.Merge(ctx, deploymentWithPolicy(domain.ActionNotifyComponents, 60), map[string]map[string]interface{}{"component1": {"version": "1.0.0"}})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultCancelled, result.Status)
}

func TestDiffExcludesBuiltinServicesFromRemoval(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "builtin-svc", Builtin: true, ModTime: time.Now()})
	saf := fakesafety.New()
	m := newTestMerger(t, sup, saf)

	require.NoError(t, sup.ReplaceAndWait([]string{"services"}, map[string]interface{}{"builtin-svc": map[string]interface{}{}}))

	result, err := m.Merge(context.Background(), deploymentWithPolicy(domain.ActionSkipNotify, 0), map[string]map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccessful, result.Status)
}
