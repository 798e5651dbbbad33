package merger

// ServiceDiff is the result of comparing the current service graph against
// a target configuration map.
type ServiceDiff struct {
	ToAdd    []string
	ToUpdate []string
	ToRemove []string
}

// Diff computes the service diff between current and target configuration
// maps. A service present in current but absent from target is only a
// candidate for removal if isBuiltin reports false for it; built-in
// services are never removed.
func Diff(current, target map[string]map[string]interface{}, isBuiltin func(name string) bool) ServiceDiff {
	var d ServiceDiff
	for name := range target {
		if _, ok := current[name]; ok {
			d.ToUpdate = append(d.ToUpdate, name)
		} else {
			d.ToAdd = append(d.ToAdd, name)
		}
	}
	for name := range current {
		if _, ok := target[name]; ok {
			continue
		}
		if isBuiltin != nil && isBuiltin(name) {
			continue
		}
		d.ToRemove = append(d.ToRemove, name)
	}
	return d
}

// Inverse returns the diff with ToAdd and ToRemove swapped, as used by
// DefaultActivator.rollback to undo a failed activation.
func (d ServiceDiff) Inverse() ServiceDiff {
	return ServiceDiff{ToAdd: d.ToRemove, ToUpdate: d.ToUpdate, ToRemove: d.ToAdd}
}

// Tracked returns every service name the convergence poll must watch:
// everything added or updated.
func (d ServiceDiff) Tracked() []string {
	out := make([]string, 0, len(d.ToAdd)+len(d.ToUpdate))
	out = append(out, d.ToAdd...)
	out = append(out, d.ToUpdate...)
	return out
}
