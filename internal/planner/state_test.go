package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlanState(t *testing.T) {
	defs := DefaultDefinitions()
	state := NewPlanState(defs)

	assert.Equal(t, StateVersion, state.Version)
	assert.True(t, state.ProMode)
	assert.Len(t, state.Sections, len(defs))
	assert.Equal(t, DefaultToggles(), state.ActiveToggles)

	question := state.Sections["question"]
	require.NotNil(t, question)
	assert.Equal(t, "Enter your research question here...", question.Content)
	assert.True(t, question.IsVisible)
	assert.Nil(t, question.AIInstructions)
	assert.Zero(t, question.Revision)

	assert.False(t, state.Sections["needsresearch"].IsVisible)
}

func TestUpdateSectionContent(t *testing.T) {
	defs := DefaultDefinitions()
	state := NewPlanState(defs)

	require.NoError(t, state.UpdateSectionContent("question", "Why do cats purr?"))

	sec := state.Sections["question"]
	assert.Equal(t, "Why do cats purr?", sec.Content)
	assert.Equal(t, int64(1), sec.Revision)
	assert.NotZero(t, sec.LastEditTimestamp)
	// No feedback yet, so the edit does not mark the section stale.
	assert.False(t, sec.EditedSinceFeedback)

	assert.ErrorIs(t, state.UpdateSectionContent("nope", "x"), ErrSectionNotFound)
}

func TestEditAfterFeedbackMarksStale(t *testing.T) {
	defs := DefaultDefinitions()
	state := NewPlanState(defs)
	require.NoError(t, state.UpdateSectionContent("question", "Why do cats purr?"))

	applied, err := state.ApplyFeedback(defs, FeedbackResult{
		ID:               "question",
		OverallFeedback:  "Decent question.",
		CompletionStatus: CompletionPartiallyComplete,
		Rating:           6,
	}, 1)
	require.NoError(t, err)
	require.True(t, applied)

	sec := state.Sections["question"]
	require.NotNil(t, sec.FeedbackRating)
	assert.Equal(t, 6, *sec.FeedbackRating)
	assert.False(t, sec.EditedSinceFeedback)
	assert.Equal(t, 6, state.Scores["question"])

	require.NoError(t, state.UpdateSectionContent("question", "Why do cats purr loudly?"))
	assert.True(t, sec.EditedSinceFeedback)
	// The verdict itself stays until the next feedback round replaces it.
	assert.NotNil(t, sec.AIInstructions)
}

func TestApplyFeedbackSkipsStaleRevision(t *testing.T) {
	defs := DefaultDefinitions()
	state := NewPlanState(defs)
	require.NoError(t, state.UpdateSectionContent("question", "v1"))
	require.NoError(t, state.UpdateSectionContent("question", "v2"))

	// Feedback requested against revision 1; the section is at 2.
	applied, err := state.ApplyFeedback(defs, FeedbackResult{
		ID:              "question",
		OverallFeedback: "ok",
		Rating:          5,
	}, 1)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Nil(t, state.Sections["question"].FeedbackRating)
	assert.Equal(t, "v2", state.Sections["question"].Content)
}

func TestSetActiveToggle(t *testing.T) {
	defs := DefaultDefinitions()
	state := NewPlanState(defs)

	require.NoError(t, state.SetActiveToggle(defs, CategoryDataMethod, "existingdata"))
	assert.Equal(t, "existingdata", state.ActiveToggles.DataMethod)
	assert.True(t, state.Sections["existingdata"].IsVisible)
	assert.False(t, state.Sections["experiment"].IsVisible)
	assert.True(t, state.Sections["hypothesis"].IsVisible)

	assert.ErrorIs(t, state.SetActiveToggle(defs, SectionCategory("bogus"), "x"), ErrUnknownToggleGroup)
}

func TestNormalizeMigratesLegacyState(t *testing.T) {
	defs := DefaultDefinitions()

	state := &PlanState{
		Version: 4,
		ProMode: false,
		Sections: map[string]*SectionState{
			"question": {ID: "question", Content: "old content"},
			"ghost":    {ID: "ghost", Content: "from a removed definition"},
		},
	}
	state.Normalize(defs)

	assert.Equal(t, StateVersion, state.Version)
	// Pre-v6 states are forced into the always-unlocked mode.
	assert.True(t, state.ProMode)
	assert.Equal(t, "old content", state.Sections["question"].Content)
	assert.NotContains(t, state.Sections, "ghost")
	assert.Contains(t, state.Sections, "abstract")
	assert.Equal(t, DefaultToggles(), state.ActiveToggles)
	assert.NotNil(t, state.Scores)
	assert.NotNil(t, state.ChatMessages)
}

func TestNormalizeFillsMissingToggleGroup(t *testing.T) {
	defs := DefaultDefinitions()

	state := &PlanState{
		Version:       StateVersion,
		ProMode:       true,
		ActiveToggles: ToggleState{Approach: "needsresearch"},
	}
	state.Normalize(defs)

	// The set group is kept; only the empty group falls back to its
	// default, so no category ends up with every member hidden.
	assert.Equal(t, "needsresearch", state.ActiveToggles.Approach)
	assert.Equal(t, "experiment", state.ActiveToggles.DataMethod)
	assert.True(t, state.Sections["needsresearch"].IsVisible)
	assert.True(t, state.Sections["experiment"].IsVisible)
	assert.False(t, state.Sections["hypothesis"].IsVisible)
}

func TestHasMeaningfulContent(t *testing.T) {
	defs := DefaultDefinitions()
	def := FindDefinition(defs, "question")
	require.NotNil(t, def)

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", false},
		{"whitespace only", "   \n\t ", false},
		{"placeholder verbatim", def.Placeholder, false},
		{"placeholder with padding", "  " + def.Placeholder + "\n", false},
		{"real content", "Why do cats purr?", true},
		{"placeholder plus more", def.Placeholder + " and my question", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec := &SectionState{ID: "question", Content: tt.content}
			assert.Equal(t, tt.want, HasMeaningfulContent(sec, def))
		})
	}
}

func TestAddChatMessage(t *testing.T) {
	state := NewPlanState(DefaultDefinitions())

	state.AddChatMessage("question", "user", "hello")
	state.AddChatMessage("question", "assistant", "hi")

	transcript := state.ChatMessages["question"]
	require.Len(t, transcript, 2)
	assert.Equal(t, "user", transcript[0].Role)
	assert.Equal(t, "assistant", transcript[1].Role)
	assert.NotZero(t, transcript[0].Timestamp)
}
