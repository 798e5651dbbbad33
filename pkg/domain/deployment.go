// Package domain holds the core value types the deployment pipeline operates
// on: deployments, their normalized documents, group membership, status
// records, and pipeline results. It has no dependency on any other package
// in this module so every component can import it without cycles.
package domain

import "encoding/json"

// Type identifies where a Deployment originated.
type Type string

const (
	TypeCloudJob Type = "CLOUD_JOB"
	TypeShadow   Type = "SHADOW"
	TypeLocal    Type = "LOCAL"
)

// Stage identifies which phase of the pipeline a Deployment is in. Stage is
// part of a Deployment's identity: (Type, DeploymentID, Stage) uniquely
// identifies an in-flight or queued deployment.
type Stage string

const (
	StageDefault             Stage = "DEFAULT"
	StageBootstrap           Stage = "BOOTSTRAP"
	StageHostAgentActivation Stage = "HOST_AGENT_ACTIVATION"
	StageHostAgentRollback   Stage = "HOST_AGENT_ROLLBACK"
)

// Key is the comparable identity of a Deployment, used by the queue for
// dedup/replace decisions and by the orchestrator to match cancellations to
// the active task.
type Key struct {
	Type         Type
	DeploymentID string
	Stage        Stage
}

// Deployment is an intent to reach a target state, as it travels through the
// queue and orchestrator. RawDocument is the as-received intent payload;
// Document is the normalized form and is set by whoever builds the
// Deployment (cmd/dagent sets it from document.ConvertLocalOverride).
// Nothing in this module parses RawDocument into Document on demand.
type Deployment struct {
	DeploymentID     string
	ConfigurationArn string
	Type             Type
	Stage            Stage
	Cancelled        bool
	RawDocument      json.RawMessage
	Document         *DeploymentDocument
}

// Key returns the comparable identity used for queue dedup and lookups.
func (d *Deployment) Key() Key {
	return Key{Type: d.Type, DeploymentID: d.DeploymentID, Stage: d.Stage}
}

// SameDeployment reports whether two deployments share (Type, DeploymentID),
// ignoring Stage and Cancelled, used by queue rules that match across
// stages (e.g. BOOTSTRAP superseding DEFAULT).
func (d *Deployment) SameDeployment(o *Deployment) bool {
	return d.Type == o.Type && d.DeploymentID == o.DeploymentID
}

// Clone produces a shallow copy suitable for placing a distinct queue entry
// (e.g. a cancellation marker) without aliasing the original's mutable
// fields.
func (d *Deployment) Clone() *Deployment {
	clone := *d
	return &clone
}
