// Package packagemgr declares the deployment pipeline's interface to the
// package manager: dependency resolution, artifact
// preparation, and kernel-config resolution. Concrete agents implement
// PackageManager against their real artifact store; tests use a fake.
package packagemgr

import (
	"context"

	"github.com/cuemby/dagent/pkg/domain"
)

// ComponentIdentifier names one resolved component at an exact version.
type ComponentIdentifier struct {
	Name    string
	Version string
}

// PackageManager resolves a DeploymentDocument into concrete component
// versions, downloads and stages their artifacts, and produces the service
// configuration map the merger applies.
type PackageManager interface {
	// ResolveDependencies resolves doc's roots plus groupToRoots (every
	// other group's currently deployed roots, so resolution doesn't
	// clobber a sibling group's pin) into an ordered component list. May
	// fail with deployerr.CodeNoAvailableVersion (non-retryable) or a
	// retryable deployerr.CodePackagingError.
	ResolveDependencies(doc *domain.DeploymentDocument, groupToRoots map[string][]domain.GroupRoot) ([]ComponentIdentifier, error)

	// PreparePackages downloads and stages every component's artifacts.
	// It observes ctx cancellation to support the orchestrator's
	// interruptible-cancel semantics.
	PreparePackages(ctx context.Context, components []ComponentIdentifier) error

	// ResolveKernelConfig produces the per-service configuration map a
	// deployment would install, given components, the document driving
	// it, and the roots currently in effect.
	ResolveKernelConfig(components []ComponentIdentifier, doc *domain.DeploymentDocument, currentRoots []string) (map[string]map[string]interface{}, error)
}
