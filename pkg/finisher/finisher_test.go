package finisher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/dagent/pkg/deployerr"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/groups"
	"github.com/cuemby/dagent/pkg/status"
	"github.com/cuemby/dagent/pkg/storage"
	fakesupervisor "github.com/cuemby/dagent/pkg/supervisor/fake"
	"github.com/cuemby/dagent/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFinisher(t *testing.T, sup *fakesupervisor.Supervisor) (*Finisher, storage.Store, *workspace.Manager) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ws := workspace.New(t.TempDir(), sup)
	f := &Finisher{
		Workspace: ws,
		Groups:    groups.New(store, sup),
		Status:    status.New(store),
		Store:     store,
	}
	return f, store, ws
}

func finishedDeployment(id string) *domain.Deployment {
	return &domain.Deployment{
		DeploymentID:     id,
		ConfigurationArn: "arn:test:" + id,
		Type:             domain.TypeCloudJob,
		Stage:            domain.StageDefault,
		Document: &domain.DeploymentDocument{
			GroupName:      "thinggroup/group1",
			RootComponents: []domain.RootComponent{{Name: "component1", Version: "1.0.0"}},
		},
	}
}

func TestFinishSuccessUpdatesGroupMembershipAndWorkspace(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1", HardDeps: []string{"Dependency"}})
	f, store, ws := newTestFinisher(t, sup)

	d := finishedDeployment("D1")
	_, err := ws.CreateNewDeploymentDirectory(d.ConfigurationArn)
	require.NoError(t, err)

	var published []domain.StatusRecord
	f.Status.RegisterDeploymentStatusConsumer(domain.TypeCloudJob, "cloud", func(rec domain.StatusRecord) bool {
		published = append(published, rec)
		return true
	})

	require.NoError(t, f.Finish(d, &domain.DeploymentResult{Status: domain.ResultSuccessful, RootPackages: []string{"component1"}}))

	roots, err := store.GetGroupRoots("thinggroup/group1")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, domain.GroupRoot{
		ComponentName:   "component1",
		Version:         "1.0.0",
		GroupConfigArn:  "arn:test:D1",
		GroupConfigName: "thinggroup/group1",
	}, roots[0])

	// The dependency closure maps both the root and its hard dependency to
	// the group.
	depGroups, err := store.GetComponentGroups("Dependency")
	require.NoError(t, err)
	require.Len(t, depGroups, 1)
	assert.Equal(t, "thinggroup/group1", depGroups[0].GroupName)

	require.Len(t, published, 1)
	assert.Equal(t, domain.JobStatusSucceeded, published[0].Status)
	assert.Equal(t, []string{"component1"}, published[0].RootPackages)

	_, err = os.Readlink(filepath.Join(ws.Root, "previous-success"))
	assert.NoError(t, err)
	_, err = os.Readlink(filepath.Join(ws.Root, "ongoing"))
	assert.True(t, os.IsNotExist(err))

	history, err := store.ListDeploymentHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "D1", history[0].DeploymentID)
}

func TestFinishRejectedSkipsGroupMembership(t *testing.T) {
	sup := fakesupervisor.New()
	f, store, ws := newTestFinisher(t, sup)

	d := finishedDeployment("D2")
	_, err := ws.CreateNewDeploymentDirectory(d.ConfigurationArn)
	require.NoError(t, err)

	rejectErr := deployerr.New(deployerr.CodeInvalidRequest, "duplicate root names", deployerr.TypeRequest)
	require.NoError(t, f.Finish(d, &domain.DeploymentResult{Status: domain.ResultRejected, Err: rejectErr}))

	roots, err := store.GetGroupRoots("thinggroup/group1")
	require.NoError(t, err)
	assert.Empty(t, roots)

	_, err = os.Readlink(filepath.Join(ws.Root, "previous-failure"))
	assert.NoError(t, err)

	recs, err := store.ListStatusRecords(domain.TypeCloudJob)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.JobStatusRejected, recs[0].Record.Status)
}

func TestFinishRolledBackFailureReaffirmsPriorRoots(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "componentOld"})
	f, store, ws := newTestFinisher(t, sup)

	prior := []domain.GroupRoot{{
		ComponentName:   "componentOld",
		Version:         "0.9.0",
		GroupConfigArn:  "arn:test:D0",
		GroupConfigName: "thinggroup/group1",
	}}
	require.NoError(t, store.PutGroupRoots("thinggroup/group1", prior))

	d := finishedDeployment("D3")
	_, err := ws.CreateNewDeploymentDirectory(d.ConfigurationArn)
	require.NoError(t, err)

	cause := deployerr.New(deployerr.CodeComponentBroken, "service \"component1\" became broken", deployerr.TypeComponent)
	require.NoError(t, f.Finish(d, &domain.DeploymentResult{Status: domain.ResultFailedRollbackComplete, Err: cause}))

	roots, err := store.GetGroupRoots("thinggroup/group1")
	require.NoError(t, err)
	assert.Equal(t, prior, roots)

	recs, err := store.ListStatusRecords(domain.TypeCloudJob)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.JobStatusFailed, recs[0].Record.Status)
	require.NotEmpty(t, recs[0].Record.StatusDetails.ErrorStack)
	assert.Equal(t, string(deployerr.CodeDeploymentFailure), recs[0].Record.StatusDetails.ErrorStack[0])
	assert.Contains(t, recs[0].Record.StatusDetails.ErrorTypes, string(deployerr.TypeComponent))
}

func TestFinishSuccessfulShadowRecordsLastDeploymentID(t *testing.T) {
	sup := fakesupervisor.New()
	sup.AddService(&fakesupervisor.Service{ServiceName: "component1"})
	f, store, ws := newTestFinisher(t, sup)

	d := finishedDeployment("S1")
	d.Type = domain.TypeShadow
	_, err := ws.CreateNewDeploymentDirectory(d.ConfigurationArn)
	require.NoError(t, err)

	require.NoError(t, f.Finish(d, &domain.DeploymentResult{Status: domain.ResultSuccessful}))

	id, ok, err := store.GetLastSuccessfulShadowDeploymentID()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "S1", id)
}

func TestFinishAppendsConverterWarningsToDetails(t *testing.T) {
	sup := fakesupervisor.New()
	f, store, ws := newTestFinisher(t, sup)

	d := finishedDeployment("D4")
	d.Document.Warnings = []string{"failureHandlingPolicy defaulted to ROLLBACK"}
	_, err := ws.CreateNewDeploymentDirectory(d.ConfigurationArn)
	require.NoError(t, err)

	require.NoError(t, f.Finish(d, &domain.DeploymentResult{Status: domain.ResultSuccessful}))

	recs, err := store.ListStatusRecords(domain.TypeCloudJob)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"failureHandlingPolicy defaulted to ROLLBACK"}, recs[0].Record.StatusDetails.Warnings)
}
