// Package document implements the document converter: it normalizes the
// three shapes an ingested deployment intent can arrive in
// (a cloud full-configuration document, a legacy fleet configuration
// payload, or a local override request) into one domain.DeploymentDocument,
// filling in defaults and validating root/version/configurationUpdate
// consistency.
package document

import (
	"fmt"
	"time"

	"github.com/coreos/go-semver/semver"

	"github.com/cuemby/dagent/pkg/deployerr"
	"github.com/cuemby/dagent/pkg/domain"
)

const defaultUpdateTimeoutSeconds = 60

func defaultComponentUpdatePolicy() domain.ComponentUpdatePolicy {
	return domain.ComponentUpdatePolicy{Action: domain.ActionNotifyComponents, TimeoutSeconds: defaultUpdateTimeoutSeconds}
}

// CloudFullDocument is the downloaded, pre-signed-URL cloud deployment
// document: already close to the normalized shape.
type CloudFullDocument struct {
	GroupName             string
	ConfigurationArn      string
	Timestamp             time.Time
	RootComponents        []domain.RootComponent
	ComponentUpdates      map[string]domain.ConfigurationUpdate
	RuntimeOverrides      map[string]map[string]string
	ComponentUpdatePolicy *domain.ComponentUpdatePolicy
	FailureHandlingPolicy *domain.FailureHandlingPolicy
	RequiredCapabilities  []string
}

// ConvertCloudFull normalizes a CloudFullDocument, filling defaults where
// absent.
func ConvertCloudFull(d CloudFullDocument) (*domain.DeploymentDocument, error) {
	if err := validateRoots(d.RootComponents); err != nil {
		return nil, err
	}
	knownNames := rootNameSet(d.RootComponents)
	if err := validateConfigurationUpdateTargets(d.ComponentUpdates, knownNames); err != nil {
		return nil, err
	}

	out := &domain.DeploymentDocument{
		GroupName:             d.GroupName,
		ConfigurationArn:      d.ConfigurationArn,
		Timestamp:             d.Timestamp,
		RootComponents:        d.RootComponents,
		ComponentUpdates:      d.ComponentUpdates,
		RuntimeOverrides:      d.RuntimeOverrides,
		RequiredCapabilities:  d.RequiredCapabilities,
		ComponentUpdatePolicy: defaultComponentUpdatePolicy(),
		FailureHandlingPolicy: domain.FailureHandlingRollback,
	}
	if d.ComponentUpdatePolicy != nil {
		out.ComponentUpdatePolicy = *d.ComponentUpdatePolicy
	} else {
		out.Warnings = append(out.Warnings, "componentUpdatePolicy defaulted to NOTIFY_COMPONENTS/60s")
	}
	if d.FailureHandlingPolicy != nil {
		out.FailureHandlingPolicy = *d.FailureHandlingPolicy
	} else {
		out.Warnings = append(out.Warnings, "failureHandlingPolicy defaulted to ROLLBACK")
	}
	return out, nil
}

// FleetPackage is one entry of a legacy fleet configuration's package list.
type FleetPackage struct {
	Name               string
	Version            string
	ConfigurationMerge map[string]interface{}
}

// FleetDocument is the legacy in-band cloud-job payload shape.
type FleetDocument struct {
	GroupName        string
	ConfigurationArn string
	Packages         []FleetPackage
}

// ConvertFleet maps a legacy FleetDocument's fields onto the normalized
// shape. Its failureHandlingPolicy defaults to DO_NOTHING, unlike the
// other two shapes.
func ConvertFleet(d FleetDocument) (*domain.DeploymentDocument, error) {
	roots := make([]domain.RootComponent, 0, len(d.Packages))
	updates := make(map[string]domain.ConfigurationUpdate)
	for _, pkg := range d.Packages {
		roots = append(roots, domain.RootComponent{Name: pkg.Name, Version: pkg.Version})
		if len(pkg.ConfigurationMerge) > 0 {
			updates[pkg.Name] = domain.ConfigurationUpdate{Merge: pkg.ConfigurationMerge}
		}
	}
	if err := validateRoots(roots); err != nil {
		return nil, err
	}

	return &domain.DeploymentDocument{
		GroupName:             d.GroupName,
		ConfigurationArn:      d.ConfigurationArn,
		Timestamp:             time.Now(),
		RootComponents:        roots,
		ComponentUpdates:      updates,
		ComponentUpdatePolicy: defaultComponentUpdatePolicy(),
		FailureHandlingPolicy: domain.FailureHandlingDoNothing,
		Warnings:              []string{"converted from legacy fleet configuration payload"},
	}, nil
}

// LocalOverrideRequest is a local IPC request to change the device's local
// deployment group.
type LocalOverrideRequest struct {
	CurrentRoots          []domain.RootComponent
	ComponentsToMerge     []domain.RootComponent
	ComponentsToRemove    []string
	ComponentNameToConfig map[string]map[string]interface{}
	ConfigurationUpdate   map[string]domain.ConfigurationUpdate
	ComponentUpdatePolicy *domain.ComponentUpdatePolicy
	FailureHandlingPolicy *domain.FailureHandlingPolicy
}

// ConvertLocalOverride computes the effective root set
// (currentRoots − componentsToRemove) ∪ componentsToMerge, with version
// pins taken from componentsToMerge, and merges per-component config from
// either componentNameToConfig (whole-object replace) or configurationUpdate
// (merge/reset). knownDependencies names every component currently
// reachable as a dependency of some root, used to validate
// configurationUpdate targets that aren't themselves roots.
func ConvertLocalOverride(req LocalOverrideRequest, knownDependencies map[string]bool) (*domain.DeploymentDocument, error) {
	removed := make(map[string]bool, len(req.ComponentsToRemove))
	for _, name := range req.ComponentsToRemove {
		removed[name] = true
	}

	merged := make(map[string]domain.RootComponent)
	for _, r := range req.CurrentRoots {
		if !removed[r.Name] {
			merged[r.Name] = r
		}
	}
	for _, r := range req.ComponentsToMerge {
		merged[r.Name] = r
	}

	roots := make([]domain.RootComponent, 0, len(merged))
	for _, r := range merged {
		roots = append(roots, r)
	}
	if err := validateRoots(roots); err != nil {
		return nil, err
	}

	knownNames := rootNameSet(roots)
	for name := range knownDependencies {
		knownNames[name] = true
	}

	updates := make(map[string]domain.ConfigurationUpdate)
	for name, wholeConfig := range req.ComponentNameToConfig {
		// componentNameToConfig is a whole-object replace: reset the
		// component's config to its recipe default (JSON pointer root,
		// "") before merging the replacement on top.
		updates[name] = domain.ConfigurationUpdate{Merge: wholeConfig, Reset: []string{""}}
	}
	for name, update := range req.ConfigurationUpdate {
		updates[name] = update
	}
	if err := validateConfigurationUpdateTargets(updates, knownNames); err != nil {
		return nil, err
	}

	out := &domain.DeploymentDocument{
		GroupName:             domain.LocalDeploymentGroup,
		Timestamp:             time.Now(),
		RootComponents:        roots,
		ComponentUpdates:      updates,
		ComponentUpdatePolicy: defaultComponentUpdatePolicy(),
		FailureHandlingPolicy: domain.FailureHandlingRollback,
	}
	if req.ComponentUpdatePolicy != nil {
		out.ComponentUpdatePolicy = *req.ComponentUpdatePolicy
	}
	if req.FailureHandlingPolicy != nil {
		out.FailureHandlingPolicy = *req.FailureHandlingPolicy
	}
	return out, nil
}

func rootNameSet(roots []domain.RootComponent) map[string]bool {
	set := make(map[string]bool, len(roots))
	for _, r := range roots {
		set[r.Name] = true
	}
	return set
}

func validateRoots(roots []domain.RootComponent) error {
	seen := make(map[string]bool, len(roots))
	for _, r := range roots {
		if r.Name == "" {
			return deployerr.New(deployerr.CodeInvalidRequest, "root component with empty name", deployerr.TypeRequest)
		}
		if seen[r.Name] {
			return deployerr.New(deployerr.CodeInvalidRequest, fmt.Sprintf("duplicate root component %q", r.Name), deployerr.TypeRequest)
		}
		seen[r.Name] = true

		if _, err := semver.NewVersion(r.Version); err != nil {
			return deployerr.Wrap(err, deployerr.CodeInvalidRequest, fmt.Sprintf("invalid semver %q for component %q", r.Version, r.Name), deployerr.TypeRequest)
		}
	}
	return nil
}

func validateConfigurationUpdateTargets(updates map[string]domain.ConfigurationUpdate, known map[string]bool) error {
	for name := range updates {
		if !known[name] {
			return deployerr.New(deployerr.CodeInvalidRequest, fmt.Sprintf("configurationUpdate references unknown component %q", name), deployerr.TypeRequest)
		}
	}
	return nil
}
