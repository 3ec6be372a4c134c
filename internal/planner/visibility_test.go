package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveVisibility(t *testing.T) {
	defs := DefaultDefinitions()

	tests := []struct {
		name    string
		toggles ToggleState
		visible []string
		hidden  []string
	}{
		{
			name:    "default toggles",
			toggles: DefaultToggles(),
			visible: []string{"question", "hypothesis", "experiment", "analysis", "abstract"},
			hidden:  []string{"needsresearch", "exploratoryresearch", "existingdata", "theorysimulation"},
		},
		{
			name:    "switch approach",
			toggles: ToggleState{Approach: "needsresearch", DataMethod: "experiment"},
			visible: []string{"needsresearch", "experiment"},
			hidden:  []string{"hypothesis", "exploratoryresearch", "existingdata"},
		},
		{
			name:    "switch data method",
			toggles: ToggleState{Approach: "hypothesis", DataMethod: "theorysimulation"},
			visible: []string{"hypothesis", "theorysimulation"},
			hidden:  []string{"experiment", "existingdata"},
		},
		{
			name:    "unknown active id hides the whole group",
			toggles: ToggleState{Approach: "nonexistent", DataMethod: "experiment"},
			visible: []string{"question", "experiment"},
			hidden:  []string{"hypothesis", "needsresearch", "exploratoryresearch"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			visible := ResolveVisibility(defs, tt.toggles)
			for _, id := range tt.visible {
				assert.True(t, visible[id], "expected %s visible", id)
			}
			for _, id := range tt.hidden {
				assert.False(t, visible[id], "expected %s hidden", id)
			}
		})
	}
}

func TestResolveVisibilityCoversEverySection(t *testing.T) {
	defs := DefaultDefinitions()
	visible := ResolveVisibility(defs, DefaultToggles())

	assert.Len(t, visible, len(defs))
	for _, def := range defs {
		_, ok := visible[def.ID]
		assert.True(t, ok, "missing entry for %s", def.ID)
	}
}

func TestResolveVisibilityIsDeterministic(t *testing.T) {
	defs := DefaultDefinitions()
	toggles := ToggleState{Approach: "exploratoryresearch", DataMethod: "existingdata"}

	first := ResolveVisibility(defs, toggles)
	second := ResolveVisibility(defs, toggles)
	assert.Equal(t, first, second)
}

func TestSectionsOutsideToggleGroupsAlwaysVisible(t *testing.T) {
	defs := DefaultDefinitions()

	for _, toggles := range []ToggleState{
		DefaultToggles(),
		{Approach: "needsresearch", DataMethod: "theorysimulation"},
		{},
	} {
		visible := ResolveVisibility(defs, toggles)
		for _, id := range []string{"question", "analysis", "process", "abstract", "audience"} {
			assert.True(t, visible[id], "%s must stay visible under %+v", id, toggles)
		}
	}
}
