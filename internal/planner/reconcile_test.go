package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshotUserInputsShape(t *testing.T) {
	raw := []byte(`{
		"userInputs": {"question": "my question", "abstract": "my abstract"},
		"detectedToggles": {"approach": "needsresearch", "dataMethod": "existingdata"},
		"scores": {"question": 8},
		"chatMessages": {"question": [{"role": "user", "content": "hi", "timestamp": 1}]}
	}`)

	loaded, err := ParseSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, "my question", loaded.Contents["question"])
	assert.Equal(t, "my abstract", loaded.Contents["abstract"])
	require.NotNil(t, loaded.Toggles)
	assert.Equal(t, "needsresearch", loaded.Toggles.Approach)
	assert.Equal(t, 8, loaded.Scores["question"])
	assert.Len(t, loaded.ChatMessages["question"], 1)
	assert.Nil(t, loaded.FullSections)
}

func TestParseSnapshotSectionsShape(t *testing.T) {
	raw := []byte(`{
		"sections": {
			"question": {"content": "full question", "feedbackRating": 7, "editedSinceFeedback": true, "lastEditTimestamp": 1700000000000},
			"abstract": "plain string content"
		}
	}`)

	loaded, err := ParseSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, "full question", loaded.Contents["question"])
	assert.Equal(t, "plain string content", loaded.Contents["abstract"])

	require.Contains(t, loaded.FullSections, "question")
	full := loaded.FullSections["question"]
	require.NotNil(t, full.FeedbackRating)
	assert.Equal(t, 7, *full.FeedbackRating)
	assert.True(t, full.EditedSinceFeedback)
	assert.NotContains(t, loaded.FullSections, "abstract")
}

func TestParseSnapshotFlatShape(t *testing.T) {
	raw := []byte(`{
		"question": "flat question",
		"audience": "flat audience",
		"scores": {"question": 3}
	}`)

	loaded, err := ParseSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, "flat question", loaded.Contents["question"])
	assert.Equal(t, "flat audience", loaded.Contents["audience"])
	// Reserved keys never become section content.
	assert.NotContains(t, loaded.Contents, "scores")
	assert.Equal(t, 3, loaded.Scores["question"])
}

func TestParseSnapshotShapePrecedence(t *testing.T) {
	// A payload carrying both userInputs and a flat marker must classify
	// as the userInputs shape.
	raw := []byte(`{
		"userInputs": {"abstract": "from userInputs"},
		"question": "flat leftover"
	}`)

	loaded, err := ParseSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, "from userInputs", loaded.Contents["abstract"])
	assert.NotContains(t, loaded.Contents, "question")
}

func TestParseSnapshotRejectsUnknownShapes(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"foo": "bar"}`,
		`[1,2,3]`,
		`"just a string"`,
		`not json at all`,
	} {
		_, err := ParseSnapshot([]byte(raw))
		assert.ErrorIs(t, err, ErrInvalidProjectFormat, "payload: %s", raw)
	}
}

func TestReconcileOverlaysOntoDefaults(t *testing.T) {
	defs := DefaultDefinitions()

	loaded := &LoadedProject{
		Contents: map[string]string{
			"question": "loaded question",
			"unknown":  "dropped silently",
		},
		Toggles: &ToggleState{Approach: "exploratoryresearch"},
		Scores:  map[string]int{"question": 9, "unknown": 2},
	}

	state := Reconcile(defs, loaded)

	assert.Equal(t, "loaded question", state.Sections["question"].Content)
	// Sections missing from the snapshot keep their placeholder.
	assert.Equal(t, "Draft your abstract here...", state.Sections["abstract"].Content)
	assert.NotContains(t, state.Sections, "unknown")

	// A partially-specified toggle falls back to the default for the
	// other group.
	assert.Equal(t, "exploratoryresearch", state.ActiveToggles.Approach)
	assert.Equal(t, "experiment", state.ActiveToggles.DataMethod)
	assert.True(t, state.Sections["exploratoryresearch"].IsVisible)
	assert.False(t, state.Sections["hypothesis"].IsVisible)

	assert.Equal(t, 9, state.Scores["question"])
	assert.NotContains(t, state.Scores, "unknown")
	assert.True(t, state.ProMode)
}

func TestReconcileCarriesFeedbackState(t *testing.T) {
	defs := DefaultDefinitions()
	rating := 6

	loaded := &LoadedProject{
		Contents: map[string]string{"question": "loaded"},
		FullSections: map[string]*SectionState{
			"question": {
				ID:                  "question",
				Content:             "loaded",
				FeedbackRating:      &rating,
				EditedSinceFeedback: true,
				LastEditTimestamp:   1700000000000,
				AIInstructions: &FeedbackResult{
					ID:              "question",
					OverallFeedback: "carried over",
					Rating:          6,
				},
			},
		},
	}

	state := Reconcile(defs, loaded)
	sec := state.Sections["question"]
	require.NotNil(t, sec.FeedbackRating)
	assert.Equal(t, 6, *sec.FeedbackRating)
	assert.True(t, sec.EditedSinceFeedback)
	assert.Equal(t, int64(1700000000000), sec.LastEditTimestamp)
	require.NotNil(t, sec.AIInstructions)
	assert.Equal(t, "carried over", sec.AIInstructions.OverallFeedback)
}

func TestReconcileForcesProModeOn(t *testing.T) {
	defs := DefaultDefinitions()
	off := false

	state := Reconcile(defs, &LoadedProject{
		Contents: map[string]string{"question": "x"},
		ProMode:  &off,
	})
	assert.True(t, state.ProMode)
}

func TestExportRoundTrip(t *testing.T) {
	defs := DefaultDefinitions()
	state := NewPlanState(defs)
	require.NoError(t, state.UpdateSectionContent("question", "round trip question"))
	require.NoError(t, state.SetActiveToggle(defs, CategoryDataMethod, "theorysimulation"))
	state.AddChatMessage("question", "user", "hello")
	state.Scores["question"] = 5

	snapshot := ExportSnapshot(state)
	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)

	loaded, err := ParseSnapshot(raw)
	require.NoError(t, err)
	restored := Reconcile(defs, loaded)

	assert.Equal(t, "round trip question", restored.Sections["question"].Content)
	for _, def := range defs {
		assert.Equal(t, state.Sections[def.ID].Content, restored.Sections[def.ID].Content, def.ID)
	}
	assert.Equal(t, state.ActiveToggles, restored.ActiveToggles)
	assert.Equal(t, 5, restored.Scores["question"])
	require.Len(t, restored.ChatMessages["question"], 1)
}
