/*
Package storage provides BoltDB-backed state persistence for the
deployment agent's on-device runtime state.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions over the deployment
service's bookkeeping: pending status records, group membership tables,
processed-deployment markers, and the small set of singleton values the
agent needs across restarts. All data is serialized as JSON and stored in
separate buckets for isolation.

# Bucket Structure

	dagent.db
	├── status_records       nested bucket per Type, sequence-keyed
	├── group_to_roots       groupName -> []GroupRoot
	├── component_to_groups  componentName -> []ComponentGroupEntry
	├── processed_deployments deploymentID -> marker
	├── group_last_deployment groupName -> summary string
	├── singletons           fixed keys (last successful shadow deployment)
	└── deployment_history   sequence-keyed, capped at MaxProcessedDeploymentHistory

# Core Components

BoltStore:
  - Implements Store using BoltDB
  - Single database file under the runtime-config/deployment-service
    directory
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Transaction Model:
  - Read transactions: db.View() - concurrent, consistent snapshots
  - Write transactions: db.Update() - serialized, atomic commits
  - Durability: fsync on commit ensures crash recovery

# Sequence-Keyed Buckets

status_records and deployment_history use BoltDB's NextSequence() to
assign monotonically increasing 8-byte big-endian keys, preserving FIFO
order under ForEach iteration without an explicit timestamp field.
deployment_history additionally evicts its oldest entry whenever the
bucket holds more than maxHistory records, bounding the audit trail on a
long-lived device.

# Usage

	store, err := storage.NewBoltStore("/var/lib/dagent")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	seq, err := store.AppendStatusRecord(domain.TypeCloudJob, rec)
	records, err := store.ListStatusRecords(domain.TypeCloudJob)
	err = store.DeleteStatusRecord(domain.TypeCloudJob, seq)

	err = store.PutGroupRoots("thinggroup/fleet-a", roots)
	err = store.RecordDeploymentHistory(entry, finisher.MaxProcessedDeploymentHistory)

# Integration Points

This package integrates with:

  - pkg/status: persists status records pending cloud publication
  - pkg/groups: persists GROUP_TO_ROOTS / COMPONENT_TO_GROUPS
  - pkg/finisher: records deployment history and processed markers
  - pkg/orchestrator: checks IsDeploymentProcessed before dispatch

# Design Patterns

Error Wrapping: NewBoltStore wraps its open and bucket-creation errors
with github.com/pkg/errors to add a stack trace and an operation-specific
message; the other methods return BoltDB and JSON errors unwrapped.

Idempotent Deletes: DeleteGroup/DeleteStatusRecord return no error if the
key is already absent, so a crashed-and-retried operation is safe to
repeat.

# Security

File Permissions: the database file is created 0600 (owner read/write
only); its parent directory is created 0755 by the caller that first
establishes the data directory.
*/
package storage
