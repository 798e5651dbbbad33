// Package groups implements the group membership store: the
// GROUP_TO_ROOTS / COMPONENT_TO_GROUPS dual-table model that records which
// groups' deployments own which root components, and which groups each
// running component currently belongs to via the transitive hard-dependency
// closure of those roots.
package groups

import (
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/storage"
)

// DependencyResolver is the supervisor-side capability used to compute a
// root component's transitive hard-dependency closure. SOFT dependencies
// are excluded from the closure.
type DependencyResolver interface {
	HardDependencyClosure(rootComponent string) ([]string, error)
}

// Store is the Group Membership Store.
type Store struct {
	db       storage.Store
	resolver DependencyResolver
}

// New creates a Store backed by db, resolving dependency closures through
// resolver.
func New(db storage.Store, resolver DependencyResolver) *Store {
	return &Store{db: db, resolver: resolver}
}

// UpdateGroupToRoots atomically replaces groupName's subtree of
// GROUP_TO_ROOTS. Passing an empty roots slice removes groupName's entry
// entirely (membership tombstone).
func (s *Store) UpdateGroupToRoots(groupName string, roots []domain.GroupRoot) error {
	if len(roots) == 0 {
		return s.db.DeleteGroup(groupName)
	}
	return s.db.PutGroupRoots(groupName, roots)
}

// SetComponentsToGroupsMapping recomputes COMPONENT_TO_GROUPS from the
// current GROUP_TO_ROOTS table: for every (groupName, root) pair, every
// component in root's transitive hard-dependency closure is mapped to
// (root.GroupConfigArn → groupName). The result replaces the whole
// COMPONENT_TO_GROUPS table in one atomic write.
func (s *Store) SetComponentsToGroupsMapping() error {
	allGroups, err := s.db.ListGroups()
	if err != nil {
		return err
	}

	entries := make(map[string][]domain.ComponentGroupEntry)
	for groupName, roots := range allGroups {
		for _, root := range roots {
			closure, err := s.resolver.HardDependencyClosure(root.ComponentName)
			if err != nil {
				return err
			}
			for _, component := range closure {
				entries[component] = append(entries[component], domain.ComponentGroupEntry{
					ComponentName:  component,
					GroupConfigArn: root.GroupConfigArn,
					GroupName:      groupName,
				})
			}
		}
	}

	return s.db.ReplaceComponentToGroups(entries)
}

// GroupRoots returns groupName's current root set.
func (s *Store) GroupRoots(groupName string) ([]domain.GroupRoot, error) {
	return s.db.GetGroupRoots(groupName)
}

// ComponentGroups returns componentName's current COMPONENT_TO_GROUPS
// entries.
func (s *Store) ComponentGroups(componentName string) ([]domain.ComponentGroupEntry, error) {
	return s.db.GetComponentGroups(componentName)
}

// AllGroups returns the full GROUP_TO_ROOTS table, as the Deployment Task
// needs it to resolve dependencies without clobbering a sibling group's
// pinned version.
func (s *Store) AllGroups() (map[string][]domain.GroupRoot, error) {
	return s.db.ListGroups()
}
