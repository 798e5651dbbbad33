package queue

import (
	"testing"

	"github.com/cuemby/dagent/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dep(id string, typ domain.Type, stage domain.Stage, cancelled bool) *domain.Deployment {
	return &domain.Deployment{DeploymentID: id, Type: typ, Stage: stage, Cancelled: cancelled}
}

func TestOfferRejectsNilDeployment(t *testing.T) {
	q := New()
	ok, err := q.Offer(nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNullDeployment)
}

func TestOfferRejectsExactDuplicate(t *testing.T) {
	q := New()
	d := dep("D1", domain.TypeCloudJob, domain.StageDefault, false)
	ok, err := q.Offer(d)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Offer(dep("D1", domain.TypeCloudJob, domain.StageDefault, false))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, q.Snapshot(), 1)
}

func TestBootstrapSupersedesDefaultInPlace(t *testing.T) {
	q := New()
	_, _ = q.Offer(dep("A", domain.TypeCloudJob, domain.StageDefault, false))
	_, _ = q.Offer(dep("B", domain.TypeCloudJob, domain.StageDefault, false))

	ok, err := q.Offer(dep("A", domain.TypeCloudJob, domain.StageBootstrap, false))
	require.NoError(t, err)
	assert.True(t, ok)

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.StageBootstrap, snap[0].Stage)
	assert.Equal(t, "B", snap[1].DeploymentID)
}

func TestCancellationReplacesMatchingEntry(t *testing.T) {
	q := New()
	_, _ = q.Offer(dep("A", domain.TypeCloudJob, domain.StageDefault, false))

	ok, err := q.Offer(dep("A", domain.TypeCloudJob, domain.StageDefault, true))
	require.NoError(t, err)
	assert.True(t, ok)

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Cancelled)
}

func TestCancellationOfBootstrapIsRejected(t *testing.T) {
	q := New()
	_, _ = q.Offer(dep("A", domain.TypeCloudJob, domain.StageBootstrap, false))

	ok, err := q.Offer(dep("A", domain.TypeCloudJob, domain.StageBootstrap, true))
	require.NoError(t, err)
	assert.False(t, ok)

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Cancelled)
}

func TestShadowReplacesOnlyNonHeadEntry(t *testing.T) {
	q := New()
	_, _ = q.Offer(dep("S0", domain.TypeShadow, domain.StageDefault, false))
	_, _ = q.Offer(dep("OTHER", domain.TypeCloudJob, domain.StageDefault, false))
	_, _ = q.Offer(dep("S1", domain.TypeShadow, domain.StageDefault, false))

	// S1 is not at the head (S0 is), so a fresh shadow replaces it in slot.
	ok, err := q.Offer(dep("S2", domain.TypeShadow, domain.StageDefault, false))
	require.NoError(t, err)
	assert.True(t, ok)

	snap := q.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "S0", snap[0].DeploymentID)
	assert.Equal(t, "S2", snap[2].DeploymentID)
}

func TestShadowAtHeadIsNotReplaced(t *testing.T) {
	q := New()
	_, _ = q.Offer(dep("S0", domain.TypeShadow, domain.StageDefault, false))

	ok, err := q.Offer(dep("S1", domain.TypeShadow, domain.StageDefault, false))
	require.NoError(t, err)
	assert.True(t, ok)

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "S0", snap[0].DeploymentID)
	assert.Equal(t, "S1", snap[1].DeploymentID)
}

func TestPollRemovesHead(t *testing.T) {
	q := New()
	_, _ = q.Offer(dep("A", domain.TypeLocal, domain.StageDefault, false))
	_, _ = q.Offer(dep("B", domain.TypeLocal, domain.StageDefault, false))

	first := q.Poll()
	require.NotNil(t, first)
	assert.Equal(t, "A", first.DeploymentID)
	assert.False(t, q.IsEmpty())

	second := q.Poll()
	assert.Equal(t, "B", second.DeploymentID)
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Poll())
}
