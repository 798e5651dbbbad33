// Package fake provides an in-memory packagemgr.PackageManager for tests.
package fake

import (
	"context"

	"github.com/cuemby/dagent/pkg/deployerr"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/packagemgr"
)

// PackageManager is a scriptable fake: set ResolveErr/PrepareErr/KernelErr
// to force a failure out of the corresponding method.
type PackageManager struct {
	ResolveErr error
	PrepareErr error
	KernelErr  error

	PreparedCalls [][]packagemgr.ComponentIdentifier
}

func New() *PackageManager {
	return &PackageManager{}
}

func (p *PackageManager) ResolveDependencies(doc *domain.DeploymentDocument, _ map[string][]domain.GroupRoot) ([]packagemgr.ComponentIdentifier, error) {
	if p.ResolveErr != nil {
		return nil, p.ResolveErr
	}
	out := make([]packagemgr.ComponentIdentifier, 0, len(doc.RootComponents))
	for _, root := range doc.RootComponents {
		out = append(out, packagemgr.ComponentIdentifier{Name: root.Name, Version: root.Version})
	}
	return out, nil
}

func (p *PackageManager) PreparePackages(ctx context.Context, components []packagemgr.ComponentIdentifier) error {
	if p.PrepareErr != nil {
		return p.PrepareErr
	}
	select {
	case <-ctx.Done():
		return deployerr.New(deployerr.CodePackagingError, "prepare packages cancelled").AsRetryable()
	default:
	}
	p.PreparedCalls = append(p.PreparedCalls, components)
	return nil
}

func (p *PackageManager) ResolveKernelConfig(components []packagemgr.ComponentIdentifier, _ *domain.DeploymentDocument, _ []string) (map[string]map[string]interface{}, error) {
	if p.KernelErr != nil {
		return nil, p.KernelErr
	}
	out := make(map[string]map[string]interface{}, len(components))
	for _, c := range components {
		out[c.Name] = map[string]interface{}{"version": c.Version}
	}
	return out, nil
}
