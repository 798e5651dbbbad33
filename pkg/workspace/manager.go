// Package workspace manages the on-disk deployment directory tree: one
// directory per deployment ARN, an "ongoing" symlink pointing at the
// directory currently being worked on, and "previous-success"/
// "previous-failure" symlinks recording the last deployment to land in
// each terminal state.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/dagent/pkg/deployerr"
	"github.com/cuemby/dagent/pkg/domain"
)

const (
	ongoingLink         = "ongoing"
	previousSuccessLink = "previous-success"
	previousFailureLink = "previous-failure"

	metadataFileName  = "deployment_metadata.json"
	targetConfigFile  = "target_config.tlog"
	snapshotFile      = "rollback_snapshot.tlog"
	bootstrapTaskFile = "bootstrap_tasks.json"

	dirPerm  = 0o755
	filePerm = 0o644
)

// ConfigSnapshotWriter is the supervisor-side capability the manager
// delegates to when asked to take a rollback snapshot. Every
// supervisor.Supervisor satisfies it, including pkg/supervisor/fake.
type ConfigSnapshotWriter interface {
	WriteTransactionLog(path string) error
}

// Manager owns the deployment directory tree rooted at Root.
type Manager struct {
	Root     string
	snapshot ConfigSnapshotWriter
}

// New creates a Manager rooted at root, using snapshot to satisfy
// TakeConfigSnapshot calls.
func New(root string, snapshot ConfigSnapshotWriter) *Manager {
	return &Manager{Root: root, snapshot: snapshot}
}

// sanitizeArn turns a configuration ARN into a filesystem-safe directory
// name by replacing '/' with '+'. Colons are preserved.
func sanitizeArn(arn string) string {
	return strings.ReplaceAll(arn, "/", "+")
}

// CreateNewDeploymentDirectory derives a directory name from arn, creates
// it, and repoints the "ongoing" symlink at it. If an "ongoing" symlink
// already exists, its target tree is deleted first (not merely the
// symlink), so stale workspaces never accumulate.
func (m *Manager) CreateNewDeploymentDirectory(arn string) (string, error) {
	dir := filepath.Join(m.Root, sanitizeArn(arn))
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", deployerr.Wrap(err, deployerr.CodeIOWriteError, "create deployment directory", deployerr.TypeDevice)
	}

	link := filepath.Join(m.Root, ongoingLink)
	if target, err := os.Readlink(link); err == nil {
		if err := os.RemoveAll(m.resolve(target)); err != nil {
			return "", deployerr.Wrap(err, deployerr.CodeIOWriteError, "remove prior ongoing deployment tree", deployerr.TypeDevice)
		}
		if err := os.Remove(link); err != nil {
			return "", deployerr.Wrap(err, deployerr.CodeIOWriteError, "remove prior ongoing symlink", deployerr.TypeDevice)
		}
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", deployerr.Wrap(err, deployerr.CodeIOWriteError, "create deployment directory", deployerr.TypeDevice)
	}

	if err := os.Symlink(dir, link); err != nil {
		return "", deployerr.Wrap(err, deployerr.CodeIOWriteError, "link ongoing deployment directory", deployerr.TypeDevice)
	}
	return dir, nil
}

func (m *Manager) resolve(target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(m.Root, target)
}

// PersistLastSuccessfulDeployment moves "ongoing" to "previous-success",
// replacing whatever was previously there. Idempotent: safe to call with no
// "ongoing" symlink present.
func (m *Manager) PersistLastSuccessfulDeployment() error {
	return m.persistOngoingAs(previousSuccessLink)
}

// PersistLastFailedDeployment moves "ongoing" to "previous-failure".
func (m *Manager) PersistLastFailedDeployment() error {
	return m.persistOngoingAs(previousFailureLink)
}

func (m *Manager) persistOngoingAs(name string) error {
	ongoing := filepath.Join(m.Root, ongoingLink)
	target, err := os.Readlink(ongoing)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return deployerr.Wrap(err, deployerr.CodeIOWriteError, "read ongoing symlink", deployerr.TypeDevice)
	}

	dest := filepath.Join(m.Root, name)
	if prior, err := os.Readlink(dest); err == nil {
		if err := os.RemoveAll(m.resolve(prior)); err != nil {
			return deployerr.Wrap(err, deployerr.CodeIOWriteError, "remove prior "+name+" tree", deployerr.TypeDevice)
		}
		if err := os.Remove(dest); err != nil {
			return deployerr.Wrap(err, deployerr.CodeIOWriteError, "remove prior "+name+" symlink", deployerr.TypeDevice)
		}
	}

	if err := os.Symlink(m.resolve(target), dest); err != nil {
		return deployerr.Wrap(err, deployerr.CodeIOWriteError, "link "+name, deployerr.TypeDevice)
	}
	if err := os.Remove(ongoing); err != nil {
		return deployerr.Wrap(err, deployerr.CodeIOWriteError, "clear ongoing symlink", deployerr.TypeDevice)
	}
	return nil
}

// WriteDeploymentMetadata serializes d into deployment_metadata.json under
// the ongoing directory.
func (m *Manager) WriteDeploymentMetadata(d *domain.Deployment) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return deployerr.Wrap(err, deployerr.CodeIOWriteError, "marshal deployment metadata", deployerr.TypeDevice)
	}
	path := filepath.Join(m.Root, ongoingLink, metadataFileName)
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return deployerr.Wrap(err, deployerr.CodeIOWriteError, "write deployment metadata", deployerr.TypeDevice)
	}
	return nil
}

// ReadDeploymentMetadata deserializes the ongoing directory's
// deployment_metadata.json.
func (m *Manager) ReadDeploymentMetadata() (*domain.Deployment, error) {
	path := filepath.Join(m.Root, ongoingLink, metadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, deployerr.Wrap(err, deployerr.CodeIOError, "read deployment metadata", deployerr.TypeDevice)
	}
	var d domain.Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, deployerr.Wrap(err, deployerr.CodeIOError, "unmarshal deployment metadata", deployerr.TypeDevice)
	}
	return &d, nil
}

// TakeConfigSnapshot delegates to the supervisor to write the current
// effective-config transaction log to path.
func (m *Manager) TakeConfigSnapshot(path string) error {
	if err := m.snapshot.WriteTransactionLog(path); err != nil {
		return deployerr.Wrap(err, deployerr.CodeIOWriteError, "take config snapshot", deployerr.TypeDevice)
	}
	return nil
}

// SnapshotFilePath returns the path of the rollback snapshot transaction
// log under the ongoing directory.
func (m *Manager) SnapshotFilePath() string {
	return filepath.Join(m.Root, ongoingLink, snapshotFile)
}

// TargetConfigFilePath returns the path of the target-configuration
// transaction log under the ongoing directory.
func (m *Manager) TargetConfigFilePath() string {
	return filepath.Join(m.Root, ongoingLink, targetConfigFile)
}

// BootstrapTaskFilePath returns the path of the pending bootstrap task list
// under the ongoing directory.
func (m *Manager) BootstrapTaskFilePath() string {
	return filepath.Join(m.Root, ongoingLink, bootstrapTaskFile)
}
