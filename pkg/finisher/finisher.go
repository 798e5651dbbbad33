// Package finisher implements the end-of-deployment bookkeeping that turns
// a DeploymentResult into a terminal status, updates group membership,
// moves the deployment workspace to its terminal symlink, and records the
// outcome in the device's processed-deployment history.
package finisher

import (
	"fmt"

	log "github.com/cuemby/dagent/pkg/agentlog"
	"github.com/cuemby/dagent/pkg/deployerr"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/groups"
	events "github.com/cuemby/dagent/pkg/lifecycle"
	"github.com/cuemby/dagent/pkg/status"
	"github.com/cuemby/dagent/pkg/storage"
	"github.com/cuemby/dagent/pkg/workspace"
)

// MaxProcessedDeploymentHistory bounds the device-wide processed-deployment
// audit trail; the oldest entries are evicted first.
const MaxProcessedDeploymentHistory = 25

// Finisher commits the outcome of a finished deployment.
type Finisher struct {
	Workspace *workspace.Manager
	Groups    *groups.Store
	Status    *status.Keeper
	Store     storage.Store
	// Events is optional: when set, every terminal outcome is also
	// published for the agent's status/watch surface. A nil Events is a
	// valid no-op (events.Broker.Publish tolerates a nil receiver).
	Events *events.Broker
}

// Finish classifies result against d, updates group membership on success
// or a completed rollback, transitions the workspace to its terminal
// symlink, persists the outcome to history, and publishes the terminal
// status. Callers must not call Finish for a non-terminal result: a cleanly
// cancelled deployment produces no status record at all.
func (f *Finisher) Finish(d *domain.Deployment, result *domain.DeploymentResult) error {
	jobStatus := classify(result.Status)
	details := f.buildStatusDetails(d, result)
	rootPackages := f.finalRootPackages(d, result)

	if jobStatus == domain.JobStatusSucceeded || result.Status == domain.ResultFailedRollbackComplete {
		if err := f.updateGroupMembership(d, rootPackages, jobStatus); err != nil {
			log.Errorf("finisher: update group membership: %v", err)
		}
	}

	if jobStatus == domain.JobStatusSucceeded {
		if err := f.Workspace.PersistLastSuccessfulDeployment(); err != nil {
			log.Errorf("finisher: persist successful workspace: %v", err)
		}
	} else {
		if err := f.Workspace.PersistLastFailedDeployment(); err != nil {
			log.Errorf("finisher: persist failed workspace: %v", err)
		}
	}

	f.recordHistory(d, jobStatus, details, rootPackages)
	f.publishLifecycleEvent(d, jobStatus, result.Status)

	if d.Type == domain.TypeShadow && jobStatus == domain.JobStatusSucceeded {
		if err := f.Store.SetLastSuccessfulShadowDeploymentID(d.DeploymentID); err != nil {
			log.Errorf("finisher: record last successful shadow deployment: %v", err)
		}
	}

	return f.Status.PersistAndPublishDeploymentStatus(d.DeploymentID, d.ConfigurationArn, d.Type, jobStatus, details, rootPackages)
}

// classify maps a DeploymentResult's Status onto the terminal JobStatus the
// cloud expects. REJECTED is reserved for pre-merge
// validation failures; every other failure status is FAILED.
func classify(resultStatus domain.ResultStatus) domain.JobStatus {
	switch resultStatus {
	case domain.ResultSuccessful:
		return domain.JobStatusSucceeded
	case domain.ResultRejected:
		return domain.JobStatusRejected
	default:
		return domain.JobStatusFailed
	}
}

// buildStatusDetails walks result.Err's cause chain into an error stack and
// type set, then appends any defaulting warnings the document converter
// recorded so operators see them in the terminal status.
func (f *Finisher) buildStatusDetails(d *domain.Deployment, result *domain.DeploymentResult) domain.StatusDetails {
	details := deployerr.BuildStatusDetails(result.Err)
	if d.Document != nil {
		details.Warnings = append(details.Warnings, d.Document.Warnings...)
	}
	return details
}

// finalRootPackages returns the root component names the status record
// should report: result.RootPackages when the result carries any,
// otherwise the document's root names.
func (f *Finisher) finalRootPackages(d *domain.Deployment, result *domain.DeploymentResult) []string {
	if len(result.RootPackages) > 0 {
		return result.RootPackages
	}
	if d.Document != nil {
		return d.Document.RootNames()
	}
	return nil
}

// updateGroupMembership records the deployment's roots. Group membership
// is only updated for a success, or a failure whose rollback converged
// (the prior state is reaffirmed so GROUP_TO_ROOTS is never left stale
// relative to the device's actual running state).
func (f *Finisher) updateGroupMembership(d *domain.Deployment, rootPackages []string, jobStatus domain.JobStatus) error {
	if d.Document == nil {
		return nil
	}

	var roots []domain.GroupRoot
	switch {
	case jobStatus == domain.JobStatusSucceeded:
		roots = groupRootsFromDocument(d)
	case jobStatus == domain.JobStatusFailed:
		existing, err := f.Groups.GroupRoots(d.Document.GroupName)
		if err != nil {
			return err
		}
		roots = existing
	default:
		return nil
	}

	if err := f.Groups.UpdateGroupToRoots(d.Document.GroupName, roots); err != nil {
		return err
	}
	if err := f.Groups.SetComponentsToGroupsMapping(); err != nil {
		return err
	}
	return f.Store.SetGroupLastDeployment(d.Document.GroupName, fmt.Sprintf("%s:%s", d.DeploymentID, jobStatus))
}

func groupRootsFromDocument(d *domain.Deployment) []domain.GroupRoot {
	roots := make([]domain.GroupRoot, 0, len(d.Document.RootComponents))
	for _, rc := range d.Document.RootComponents {
		roots = append(roots, domain.GroupRoot{
			ComponentName:   rc.Name,
			Version:         rc.Version,
			GroupConfigArn:  d.ConfigurationArn,
			GroupConfigName: d.Document.GroupName,
		})
	}
	return roots
}

// publishLifecycleEvent emits a terminal lifecycle event for consumers of
// the agent's status/watch surface, distinguishing a rolled-back failure
// from a plain one and mapping CANCELLED outcomes separately from FAILED.
func (f *Finisher) publishLifecycleEvent(d *domain.Deployment, jobStatus domain.JobStatus, resultStatus domain.ResultStatus) {
	eventType := events.EventDeploymentFailed
	switch {
	case jobStatus == domain.JobStatusSucceeded:
		eventType = events.EventDeploymentSucceeded
	case resultStatus == domain.ResultCancelled:
		eventType = events.EventDeploymentCancelled
	case resultStatus == domain.ResultFailedRollbackComplete:
		eventType = events.EventDeploymentRolledBack
	}

	f.Events.Publish(&events.Event{
		Type:         eventType,
		DeploymentID: d.DeploymentID,
		Message:      string(jobStatus),
		Metadata:     map[string]string{"type": string(d.Type)},
	})
}

func (f *Finisher) recordHistory(d *domain.Deployment, jobStatus domain.JobStatus, details domain.StatusDetails, rootPackages []string) {
	entry := storage.DeploymentHistoryEntry{
		DeploymentID:     d.DeploymentID,
		ConfigurationArn: d.ConfigurationArn,
		Type:             d.Type,
		Status:           jobStatus,
		StatusDetails:    details,
		RootPackages:     rootPackages,
	}
	if err := f.Store.RecordDeploymentHistory(entry, MaxProcessedDeploymentHistory); err != nil {
		log.Errorf("finisher: record deployment history: %v", err)
	}
	if err := f.Store.MarkDeploymentProcessed(d.DeploymentID); err != nil {
		log.Errorf("finisher: mark deployment processed: %v", err)
	}
}
