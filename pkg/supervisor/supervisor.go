// Package supervisor declares the capabilities the deployment pipeline
// needs from the host agent's service supervisor: locating and
// driving services, reading and atomically replacing the effective-config
// tree, and shutting down for a host-agent restart. Concrete agents
// implement Supervisor; pkg/supervisor/fake provides an in-memory
// implementation for tests.
package supervisor

import "time"

// State is a service's current lifecycle state.
type State string

const (
	StateNew       State = "NEW"
	StateInstalled State = "INSTALLED"
	StateStarting  State = "STARTING"
	StateRunning   State = "RUNNING"
	StateStopping  State = "STOPPING"
	StateFinished  State = "FINISHED"
	StateErrored   State = "ERRORED"
	StateBroken    State = "BROKEN"
)

// Service is one running or installed component, as seen by the deployment
// pipeline.
type Service interface {
	Name() string
	RequestStart() error
	RequestReinstall() error
	// Close requests the service stop and returns a channel that receives
	// its result (nil on a clean stop).
	Close() <-chan error
	GetState() State
	GetStateModTime() time.Time
	ReachedDesiredState() bool
	ShouldAutoStart() bool
	IsBuiltin() bool
}

// Supervisor is the service supervisor's interface to the deployment
// pipeline.
type Supervisor interface {
	Locate(name string) (Service, error)
	OrderedDependencies() ([]Service, error)
	GetMain() (Service, error)

	// LookupTopics returns the raw config subtree at path, or nil if
	// absent.
	LookupTopics(path ...string) (map[string]interface{}, error)
	// Lookup returns a single scalar config value at path.
	Lookup(path ...string) (interface{}, error)
	// ReplaceAndWait replaces the subtree at path with value and blocks
	// until every dependent service has applied it.
	ReplaceAndWait(path []string, value map[string]interface{}) error
	// Remove deletes the subtree at path.
	Remove(path ...string) error

	// WriteTransactionLog writes the current effective-config tree to
	// path as a transaction log, for rollback snapshots.
	WriteTransactionLog(path string) error

	// Shutdown requests the host agent process restart within
	// graceSeconds, for host-agent updates.
	Shutdown(graceSeconds int, reason string) error

	// HardDependencyClosure returns rootComponent and every component it
	// depends on hard, transitively. SOFT dependencies are excluded
	// (DESIGN.md Open Question resolution).
	HardDependencyClosure(rootComponent string) ([]string, error)
}
