package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/dagent/pkg/deploytask"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/finisher"
	"github.com/cuemby/dagent/pkg/groups"
	"github.com/cuemby/dagent/pkg/hostupdate"
	"github.com/cuemby/dagent/pkg/merger"
	fakepkgmgr "github.com/cuemby/dagent/pkg/packagemgr/fake"
	"github.com/cuemby/dagent/pkg/queue"
	fakesafety "github.com/cuemby/dagent/pkg/safety/fake"
	"github.com/cuemby/dagent/pkg/status"
	"github.com/cuemby/dagent/pkg/storage"
	fakesupervisor "github.com/cuemby/dagent/pkg/supervisor/fake"
	"github.com/cuemby/dagent/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T, sup *fakesupervisor.Supervisor, saf *fakesafety.Safety, pm *fakepkgmgr.PackageManager) (*Orchestrator, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ws := workspace.New(t.TempDir(), sup)
	grp := groups.New(store, sup)
	m := &merger.Merger{
		Supervisor: sup,
		Safety:     saf,
		Default: &merger.DefaultActivator{
			Supervisor:     sup,
			Workspace:      ws,
			PollInterval:   time.Millisecond,
			ServiceTimeout: func(string) time.Duration { return 50 * time.Millisecond },
		},
	}
	task := &deploytask.Task{PackageMgr: pm, Merger: m}
	keeper := status.New(store)
	fin := &finisher.Finisher{Workspace: ws, Groups: grp, Status: keeper, Store: store}
	hu := &hostupdate.Task{Workspace: ws, Supervisor: sup}

	o := &Orchestrator{
		Queue:        queue.New(),
		Workspace:    ws,
		Groups:       grp,
		HostUpdate:   hu,
		Task:         task,
		Finisher:     fin,
		Status:       keeper,
		Store:        store,
		PollInterval: 5 * time.Millisecond,
	}
	return o, store
}

func testDeployment(id string) *domain.Deployment {
	return &domain.Deployment{
		DeploymentID:     id,
		ConfigurationArn: "arn:test:" + id,
		Type:             domain.TypeCloudJob,
		Stage:            domain.StageDefault,
		Document: &domain.DeploymentDocument{
			GroupName:             "thinggroup/group1",
			RootComponents:        []domain.RootComponent{{Name: "component1", Version: "1.0.0"}},
			ComponentUpdatePolicy: domain.ComponentUpdatePolicy{Action: domain.ActionSkipNotify},
			FailureHandlingPolicy: domain.FailureHandlingRollback,
		},
	}
}

func TestOrchestratorRunsQueuedDeploymentToSuccess(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: true, ModTime: time.Now()})
	o, store := newTestOrchestrator(t, sup, fakesafety.New(), fakepkgmgr.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	_, err := o.Queue.Offer(testDeployment("D1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		roots, _ := store.GetGroupRoots("thinggroup/group1")
		return len(roots) == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, o.isActive())
}

// TestOrchestratorDropsRetransmitOfCommittedCloudJob checks that a CLOUD_JOB
// already marked processed in the store is dropped without a status record
// or a group membership update.
func TestOrchestratorDropsRetransmitOfCommittedCloudJob(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: true, ModTime: time.Now()})
	o, store := newTestOrchestrator(t, sup, fakesafety.New(), fakepkgmgr.New())
	require.NoError(t, store.MarkDeploymentProcessed("D1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	_, err := o.Queue.Offer(testDeployment("D1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return o.Queue.IsEmpty() }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	recs, err := store.ListStatusRecords(domain.TypeCloudJob)
	require.NoError(t, err)
	assert.Empty(t, recs)
	roots, err := store.GetGroupRoots("thinggroup/group1")
	require.NoError(t, err)
	assert.Empty(t, roots)
}

// TestOrchestratorCancelsActiveDeploymentDuringSafetyWait checks that
// cancelling a deployment while it is waiting on the safety-window gate is
// observed concurrently with the running task, never after it completes.
// With AutoFire disabled the merge never
// resolves until either the test fires the pending action or the
// orchestrator's cancellation discards it.
func TestOrchestratorCancelsActiveDeploymentDuringSafetyWait(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: true, ModTime: time.Now()})
	saf := fakesafety.New()
	saf.AutoFire = false
	o, store := newTestOrchestrator(t, sup, saf, fakepkgmgr.New())

	d := testDeployment("X")
	d.Document.ComponentUpdatePolicy = domain.ComponentUpdatePolicy{Action: domain.ActionNotifyComponents, TimeoutSeconds: 60}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	_, err := o.Queue.Offer(d)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return o.isActive() }, time.Second, 5*time.Millisecond)
	// Give the task goroutine time to reach the safety-window gate and
	// register its pending update action before cancelling.
	time.Sleep(20 * time.Millisecond)

	cancelMarker := d.Clone()
	cancelMarker.Cancelled = true
	_, err = o.Queue.Offer(cancelMarker)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !o.isActive() }, time.Second, 5*time.Millisecond)

	// A cleanly cancelled deployment leaves the IN_PROGRESS record it
	// published on dispatch, but produces no terminal status or group
	// membership update.
	recs, err := store.ListStatusRecords(domain.TypeCloudJob)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.JobStatusInProgress, recs[0].Record.Status)
	roots, err := store.GetGroupRoots("thinggroup/group1")
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestOrchestratorIgnoresCancellationPastPointOfNoReturn(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", AutoStart: true, ModTime: time.Now()})
	saf := fakesafety.New()
	o, store := newTestOrchestrator(t, sup, saf, fakepkgmgr.New())

	d := testDeployment("Y")
	d.Document.ComponentUpdatePolicy = domain.ComponentUpdatePolicy{Action: domain.ActionSkipNotify}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	_, err := o.Queue.Offer(d)
	require.NoError(t, err)

	// By the time the deployment finishes, a late cancellation marker for
	// the same id should find nothing active to cancel and be dropped.
	require.Eventually(t, func() bool {
		roots, _ := store.GetGroupRoots("thinggroup/group1")
		return len(roots) == 1
	}, time.Second, 5*time.Millisecond)

	cancelMarker := d.Clone()
	cancelMarker.Cancelled = true
	_, err = o.Queue.Offer(cancelMarker)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	roots, err := store.GetGroupRoots("thinggroup/group1")
	require.NoError(t, err)
	assert.Len(t, roots, 1)
}
