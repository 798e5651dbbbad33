package domain

// ResultStatus classifies the outcome of a Deployment Task / Config Merger
// run.
type ResultStatus string

const (
	ResultSuccessful                 ResultStatus = "SUCCESSFUL"
	ResultRejected                   ResultStatus = "REJECTED"
	ResultFailedNoStateChange        ResultStatus = "FAILED_NO_STATE_CHANGE"
	ResultFailedRollbackNotRequested ResultStatus = "FAILED_ROLLBACK_NOT_REQUESTED"
	ResultFailedRollbackComplete     ResultStatus = "FAILED_ROLLBACK_COMPLETE"
	ResultFailedUnableToRollback     ResultStatus = "FAILED_UNABLE_TO_ROLLBACK"
	ResultCancelled                  ResultStatus = "CANCELLED"
)

// DeploymentResult is what a Deployment Task (or its merger) hands back to
// the orchestrator for the Finisher to turn into a status update.
type DeploymentResult struct {
	Status       ResultStatus
	RootPackages []string
	Err          error
}

// IsTerminal reports whether the result should produce a status update at
// all. A CANCELLED result that was discarded before any state change is not
// terminal; the orchestrator drops it silently.
func (r *DeploymentResult) IsTerminal() bool {
	return r != nil && r.Status != ResultCancelled
}
