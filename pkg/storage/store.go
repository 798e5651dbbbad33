// Package storage persists the deployment service's runtime state: status
// records pending publication, group membership tables, and the small
// set of bookkeeping values under runtime-config/deployment-service: one
// BoltDB file, one bucket per logical table, JSON-encoded values.
package storage

import (
	"github.com/cuemby/dagent/pkg/domain"
)

// PersistedStatusRecord wraps a StatusRecord with the sequence number it was
// stored under, so callers can delete it once a consumer accepts it without
// losing FIFO ordering among the records still retained.
type PersistedStatusRecord struct {
	Seq    uint64
	Record domain.StatusRecord
}

// Store is the persistence interface the status keeper, group membership
// store, and orchestrator depend on.
type Store interface {
	// AppendStatusRecord stores rec under recordType at the next sequence
	// number for that type, preserving FIFO order.
	AppendStatusRecord(recordType domain.Type, rec domain.StatusRecord) (uint64, error)
	// ListStatusRecords returns every retained record for recordType, in
	// the order they were appended.
	ListStatusRecords(recordType domain.Type) ([]PersistedStatusRecord, error)
	// DeleteStatusRecord removes the record recordType/seq, e.g. once a
	// consumer has acknowledged it.
	DeleteStatusRecord(recordType domain.Type, seq uint64) error

	// PutGroupRoots atomically replaces GROUP_TO_ROOTS[groupName]'s
	// subtree with roots.
	PutGroupRoots(groupName string, roots []domain.GroupRoot) error
	// DeleteGroup removes groupName's entry entirely (membership
	// tombstone).
	DeleteGroup(groupName string) error
	// GetGroupRoots returns groupName's current root set, or nil if the
	// group has no entry.
	GetGroupRoots(groupName string) ([]domain.GroupRoot, error)
	// ListGroups returns the full GROUP_TO_ROOTS table.
	ListGroups() (map[string][]domain.GroupRoot, error)

	// ReplaceComponentToGroups atomically replaces the entire
	// COMPONENT_TO_GROUPS table with entries, keyed by component name.
	ReplaceComponentToGroups(entries map[string][]domain.ComponentGroupEntry) error
	// GetComponentGroups returns the groups a component currently belongs
	// to via COMPONENT_TO_GROUPS.
	GetComponentGroups(componentName string) ([]domain.ComponentGroupEntry, error)

	// IsDeploymentProcessed reports whether deploymentID has already been
	// committed, so the orchestrator can discard a duplicate cloud job.
	IsDeploymentProcessed(deploymentID string) (bool, error)
	// MarkDeploymentProcessed records deploymentID as committed.
	MarkDeploymentProcessed(deploymentID string) error

	// SetGroupLastDeployment records a human-readable summary of the most
	// recent deployment applied to groupName.
	SetGroupLastDeployment(groupName, summary string) error
	// GetGroupLastDeployment returns groupName's last-deployment summary,
	// if any.
	GetGroupLastDeployment(groupName string) (string, bool, error)

	// SetLastSuccessfulShadowDeploymentID records the id of the most
	// recent SHADOW deployment to succeed.
	SetLastSuccessfulShadowDeploymentID(id string) error
	// GetLastSuccessfulShadowDeploymentID returns that id, if any.
	GetLastSuccessfulShadowDeploymentID() (string, bool, error)

	// RecordDeploymentHistory appends entry to the bounded
	// processed-deployment history, evicting the oldest entries once more
	// than maxHistory are retained.
	RecordDeploymentHistory(entry DeploymentHistoryEntry, maxHistory int) error
	// ListDeploymentHistory returns the retained history, oldest first.
	ListDeploymentHistory() ([]DeploymentHistoryEntry, error)

	// Close releases the underlying database handle.
	Close() error
}

// DeploymentHistoryEntry is one retained record of a committed deployment's
// terminal outcome, independent of the FIFO-per-type status records the
// keeper manages. This is the device-wide audit trail an operator's
// `status` command reads.
type DeploymentHistoryEntry struct {
	DeploymentID     string               `json:"deploymentId"`
	ConfigurationArn string               `json:"configurationArn,omitempty"`
	Type             domain.Type          `json:"type"`
	Status           domain.JobStatus     `json:"status"`
	StatusDetails    domain.StatusDetails `json:"statusDetails"`
	RootPackages     []string             `json:"rootPackages,omitempty"`
}
