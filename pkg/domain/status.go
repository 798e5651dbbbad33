package domain

// JobStatus is the terminal (or in-progress) status reported to consumers.
type JobStatus string

const (
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusRejected   JobStatus = "REJECTED"
)

// StatusDetails carries the error taxonomy for a failed or rejected
// deployment. ErrorStack is ordered outer-to-inner and may contain
// duplicate codes; ErrorTypes is a deduplicated, unordered set.
type StatusDetails struct {
	FailureCause string   `json:"failureCause,omitempty"`
	ErrorStack   []string `json:"errorStack,omitempty"`
	ErrorTypes   []string `json:"errorTypes,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// StatusRecord is the persisted, publishable record of a deployment's
// current or terminal status.
type StatusRecord struct {
	DeploymentID     string        `json:"deploymentId"`
	ConfigurationArn string        `json:"configurationArn,omitempty"`
	Type             Type          `json:"type"`
	Status           JobStatus     `json:"status"`
	StatusDetails    StatusDetails `json:"statusDetails"`
	RootPackages     []string      `json:"rootPackages,omitempty"`
}
