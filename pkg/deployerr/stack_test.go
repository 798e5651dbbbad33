package deployerr

import (
	"testing"

	"github.com/cuemby/dagent/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestBuildStatusDetailsIsPure(t *testing.T) {
	err := Wrap(
		Wrap(New(CodeIOWriteError, "disk full", TypeDevice), CodeIOError, "workspace write failed", TypeDevice),
		CodeDeploymentFailure, "deployment failed",
	)

	first := BuildStatusDetails(err)
	second := BuildStatusDetails(err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{
		string(CodeDeploymentFailure),
		string(CodeDeploymentFailure),
		string(CodeIOError),
		string(CodeIOWriteError),
	}, first.ErrorStack)
	assert.ElementsMatch(t, []string{string(TypeDevice)}, first.ErrorTypes)
}

func TestBuildStatusDetailsDedupesTypesNotCodes(t *testing.T) {
	err := Wrap(New(CodeNetworkError, "timeout", TypeNetwork), CodeCloudServiceError, "cloud call failed", TypeNetwork)

	details := BuildStatusDetails(err)
	assert.Equal(t, []string{string(CodeDeploymentFailure), string(CodeCloudServiceError), string(CodeNetworkError)}, details.ErrorStack)
	assert.Len(t, details.ErrorTypes, 1)
}

func TestBuildStatusDetailsErrorTypesAreSortedAndStable(t *testing.T) {
	err := Wrap(
		Wrap(New(CodeNoAvailableVersion, "missing version", TypeComponent, TypeNetwork),
			CodePackagingError, "packaging failed", TypeDevice, TypeComponent),
		CodeDeploymentFailure, "deployment failed",
	)

	var first domain.StatusDetails
	for i := 0; i < 20; i++ {
		details := BuildStatusDetails(err)
		if i == 0 {
			first = details
		}
		assert.Equal(t, first, details)
	}

	assert.Equal(t, []string{string(TypeComponent), string(TypeDevice), string(TypeNetwork)}, first.ErrorTypes)
}

func TestBuildStatusDetailsContextOrderIsStable(t *testing.T) {
	cause := New(CodeIOWriteError, "disk full", TypeDevice).
		WithContext("path", "/var/lib/dagent").
		WithContext("component", "component1").
		WithContext("attempt", "2")
	err := Wrap(cause, CodeDeploymentFailure, "deployment failed")

	first := BuildStatusDetails(err)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildStatusDetails(err))
	}
	assert.Equal(t, []string{
		string(CodeDeploymentFailure),
		string(CodeDeploymentFailure),
		string(CodeIOWriteError),
		"attempt=2",
		"component=component1",
		"path=/var/lib/dagent",
	}, first.ErrorStack)
}

func TestIsRetryable(t *testing.T) {
	retryable := New(CodePackagingError, "transient").AsRetryable()
	nonRetryable := New(CodeNoAvailableVersion, "no version")

	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsRetryable(nonRetryable))
}
