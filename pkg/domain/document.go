package domain

import "time"

// LocalDeploymentGroup is the reserved group name representing every local
// (non-cloud) intent.
const LocalDeploymentGroup = "LOCAL_DEPLOYMENT"

// RootComponent names a single root of a deployment's component tree, pinned
// to an exact version.
type RootComponent struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ConfigurationUpdate describes a per-component configuration change: a tree
// to merge on top of the component's existing configuration, and a list of
// JSON-pointer paths to reset to their recipe defaults.
type ConfigurationUpdate struct {
	Merge map[string]interface{} `json:"merge,omitempty"`
	Reset []string               `json:"reset,omitempty"`
}

// UpdatePolicyAction controls whether running components are notified
// before a configuration swap.
type UpdatePolicyAction string

const (
	ActionNotifyComponents UpdatePolicyAction = "NOTIFY_COMPONENTS"
	ActionSkipNotify       UpdatePolicyAction = "SKIP_NOTIFY"
)

// ComponentUpdatePolicy controls the safety-window negotiation before a
// merge is activated.
type ComponentUpdatePolicy struct {
	Action         UpdatePolicyAction `json:"action"`
	TimeoutSeconds int                `json:"timeoutSeconds"`
}

// FailureHandlingPolicy controls what happens after a merge fails to
// converge.
type FailureHandlingPolicy string

const (
	FailureHandlingRollback  FailureHandlingPolicy = "ROLLBACK"
	FailureHandlingDoNothing FailureHandlingPolicy = "DO_NOTHING"
)

// DeploymentDocument is the normalized form every ingested intent is
// converted into by the document converter, regardless of its original
// shape (cloud full-configuration, legacy fleet configuration, or local
// override request).
type DeploymentDocument struct {
	GroupName             string                         `json:"groupName"`
	ConfigurationArn      string                         `json:"configurationArn,omitempty"`
	Timestamp             time.Time                      `json:"timestamp"`
	RootComponents        []RootComponent                `json:"rootComponents"`
	ComponentUpdates      map[string]ConfigurationUpdate `json:"configurationUpdate,omitempty"`
	RuntimeOverrides      map[string]map[string]string   `json:"runtimeOverrides,omitempty"`
	ComponentUpdatePolicy ComponentUpdatePolicy          `json:"componentUpdatePolicy"`
	FailureHandlingPolicy FailureHandlingPolicy          `json:"failureHandlingPolicy"`
	RequiredCapabilities  []string                       `json:"requiredCapabilities,omitempty"`

	// Warnings records defaults the converter filled in, surfaced to
	// operators via the terminal status's details.
	Warnings []string `json:"-"`
}

// RootNames returns the root component names in document order.
func (d *DeploymentDocument) RootNames() []string {
	names := make([]string, len(d.RootComponents))
	for i, rc := range d.RootComponents {
		names[i] = rc.Name
	}
	return names
}
