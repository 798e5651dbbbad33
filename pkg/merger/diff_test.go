package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffPartitionsAddUpdateRemove(t *testing.T) {
	current := map[string]map[string]interface{}{
		"a":       {"version": "1"},
		"b":       {"version": "1"},
		"builtin": {"version": "1"},
	}
	target := map[string]map[string]interface{}{
		"b": {"version": "2"},
		"c": {"version": "1"},
	}

	diff := Diff(current, target, func(name string) bool { return name == "builtin" })

	assert.ElementsMatch(t, []string{"c"}, diff.ToAdd)
	assert.ElementsMatch(t, []string{"b"}, diff.ToUpdate)
	assert.ElementsMatch(t, []string{"a"}, diff.ToRemove)
}

func TestDiffNeverRemovesBuiltins(t *testing.T) {
	current := map[string]map[string]interface{}{"builtin": {}}
	target := map[string]map[string]interface{}{}

	diff := Diff(current, target, func(name string) bool { return true })
	assert.Empty(t, diff.ToRemove)
}

func TestInverseSwapsAddAndRemove(t *testing.T) {
	d := ServiceDiff{ToAdd: []string{"a"}, ToUpdate: []string{"b"}, ToRemove: []string{"c"}}
	inv := d.Inverse()
	assert.Equal(t, []string{"c"}, inv.ToAdd)
	assert.Equal(t, []string{"b"}, inv.ToUpdate)
	assert.Equal(t, []string{"a"}, inv.ToRemove)
}

func TestTrackedIsAddedPlusUpdated(t *testing.T) {
	d := ServiceDiff{ToAdd: []string{"a"}, ToUpdate: []string{"b"}, ToRemove: []string{"c"}}
	assert.ElementsMatch(t, []string{"a", "b"}, d.Tracked())
}
