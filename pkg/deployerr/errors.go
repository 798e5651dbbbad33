// Package deployerr implements the deployment error taxonomy as a
// tagged-variant Go error: a DeploymentError carries a stable Code, a set of
// orthogonal Type tags, an optional wrapped Cause, and optional context
// fields. Building the final status details is a pure recursive descent over
// this chain (BuildStatusDetails) without reflection or type-name
// inspection.
package deployerr

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Code is one node of the hierarchical error-code taxonomy.
type Code string

const (
	CodeDeploymentFailure Code = "DEPLOYMENT_FAILURE"

	CodeIOError        Code = "IO_ERROR"
	CodeIOWriteError   Code = "IO_WRITE_ERROR"
	CodeIOUnzipError   Code = "IO_UNZIP_ERROR"
	CodeIOMappingError Code = "IO_MAPPING_ERROR"

	CodeNetworkError Code = "NETWORK_ERROR"

	CodeCloudServiceError Code = "CLOUD_SERVICE_ERROR"
	CodeResourceNotFound  Code = "RESOURCE_NOT_FOUND"
	CodeAccessDenied      Code = "ACCESS_DENIED"
	CodeBadRequest        Code = "BAD_REQUEST"
	CodeThrottlingError   Code = "THROTTLING_ERROR"
	CodeConflictedRequest Code = "CONFLICTED_REQUEST"
	CodeServerError       Code = "SERVER_ERROR"

	CodeS3Error                  Code = "S3_ERROR"
	CodeS3ServerError            Code = "S3_SERVER_ERROR"
	CodeS3ResourceNotFound       Code = "S3_RESOURCE_NOT_FOUND"
	CodeS3AccessDenied           Code = "S3_ACCESS_DENIED"
	CodeS3BadRequest             Code = "S3_BAD_REQUEST"
	CodeS3HeadObjectAccessDenied Code = "S3_HEAD_OBJECT_ACCESS_DENIED"

	CodeArtifactDownloadError Code = "ARTIFACT_DOWNLOAD_ERROR"
	CodeDockerError           Code = "DOCKER_ERROR"
	CodeDockerImageNotValid   Code = "DOCKER_IMAGE_NOT_VALID"

	CodeNucleusError          Code = "NUCLEUS_ERROR"
	CodeMultipleNucleusError  Code = "MULTIPLE_NUCLEUS_ERROR"
	CodeNucleusRestartFailure Code = "NUCLEUS_RESTART_FAILURE"

	CodeComponentError       Code = "COMPONENT_ERROR"
	CodeComponentBroken      Code = "COMPONENT_BROKEN"
	CodeComponentUpdateError Code = "COMPONENT_UPDATE_ERROR"

	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeNoAvailableVersion Code = "NO_AVAILABLE_COMPONENT_VERSION"
	CodePackagingError     Code = "PACKAGING_ERROR"
)

// Type is one of the orthogonal error-type tags accumulated across an error
// chain, independent of the Code hierarchy.
type Type string

const (
	TypeDevice     Type = "DEVICE_ERROR"
	TypeNetwork    Type = "NETWORK_ERROR"
	TypePermission Type = "PERMISSION_ERROR"
	TypeRequest    Type = "REQUEST_ERROR"
	TypeServer     Type = "SERVER_ERROR"
	TypeDependency Type = "DEPENDENCY_ERROR"
	TypeNucleus    Type = "NUCLEUS_ERROR"
	TypeComponent  Type = "COMPONENT_ERROR"
)

// DeploymentError is a single link in the error chain. Retryable marks
// whether the deployment task is allowed to re-invoke the same run; it is
// false by default (non-retryable).
type DeploymentError struct {
	Code      Code
	Types     []Type
	Message   string
	Context   map[string]string
	Retryable bool
	Cause     error
}

func (e *DeploymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As and
// github.com/pkg/errors' Cause() both walk the chain correctly.
func (e *DeploymentError) Unwrap() error {
	return e.Cause
}

// New creates a root DeploymentError with no cause.
func New(code Code, message string, types ...Type) *DeploymentError {
	return &DeploymentError{Code: code, Message: message, Types: types}
}

// Wrap attaches a code and message to an existing error, preserving it as
// Cause. If cause is already a *DeploymentError, this is equivalent to
// prepending a new outer link onto the chain.
func Wrap(cause error, code Code, message string, types ...Type) *DeploymentError {
	return &DeploymentError{Code: code, Message: message, Types: types, Cause: cause}
}

// WithContext attaches diagnostic key/value context to the error, appended
// to the error stack after the root cause.
func (e *DeploymentError) WithContext(key, value string) *DeploymentError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// AsRetryable marks the error retryable in place and returns it for
// chaining.
func (e *DeploymentError) AsRetryable() *DeploymentError {
	e.Retryable = true
	return e
}

// IsRetryable reports whether err (or the outermost *DeploymentError in its
// chain) is marked retryable.
func IsRetryable(err error) bool {
	var de *DeploymentError
	if pkgerrors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// Cause returns the innermost error in the chain, matching
// github.com/pkg/errors' convention.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}
