package planner

import (
	"strings"
	"time"
)

// StateVersion is the persisted-state schema version. Version 6 made the
// always-unlocked policy permanent; loading any older state forces it on.
const StateVersion = 6

// Completion status values reported by the reviewer.
const (
	CompletionIncomplete        = "incomplete"
	CompletionPartiallyComplete = "partially_complete"
	CompletionComplete          = "complete"
)

// SubsectionFeedback is the reviewer's verdict on one subsection.
type SubsectionFeedback struct {
	ID         string `json:"id"`
	IsComplete bool   `json:"isComplete"`
	Feedback   string `json:"feedback"`
}

// FeedbackResult is the structured reviewer output for one section.
type FeedbackResult struct {
	ID               string               `json:"id"`
	OverallFeedback  string               `json:"overallFeedback"`
	CompletionStatus string               `json:"completionStatus"`
	Rating           int                  `json:"rating"`
	Subsections      []SubsectionFeedback `json:"subsections"`
}

// SectionState is the live state of one section of a plan.
type SectionState struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	Content             string          `json:"content"`
	AIInstructions      *FeedbackResult `json:"aiInstructions,omitempty"`
	IsVisible           bool            `json:"isVisible"`
	FeedbackRating      *int            `json:"feedbackRating,omitempty"`
	EditedSinceFeedback bool            `json:"editedSinceFeedback"`
	LastEditTimestamp   int64           `json:"lastEditTimestamp"`
	// Revision increases on every content edit or reset. Feedback merges
	// record the revision they were requested against and are discarded
	// if the section moved on while the call was in flight.
	Revision int64 `json:"revision"`
}

// ToggleState holds the active section id of each toggle group.
type ToggleState struct {
	Approach   string `json:"approach"`
	DataMethod string `json:"dataMethod"`
}

// ChatMessage is one message of a per-section chat transcript.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// PlanState is the full mutable state of one plan. All mutation goes
// through the methods below; each one recomputes visibility where the
// change can affect it, so callers always observe a consistent state.
type PlanState struct {
	Version       int                      `json:"version"`
	ProMode       bool                     `json:"proMode"`
	Sections      map[string]*SectionState `json:"sections"`
	ActiveToggles ToggleState              `json:"activeToggles"`
	Scores        map[string]int           `json:"scores"`
	ChatMessages  map[string][]ChatMessage `json:"chatMessages"`
}

// NewPlanState builds the default state for the given definition table:
// every section starts with its placeholder as content, no feedback, and
// visibility resolved against the default toggles.
func NewPlanState(defs []SectionDefinition) *PlanState {
	s := &PlanState{
		Version:       StateVersion,
		ProMode:       true,
		Sections:      make(map[string]*SectionState, len(defs)),
		ActiveToggles: DefaultToggles(),
		Scores:        make(map[string]int),
		ChatMessages:  make(map[string][]ChatMessage),
	}
	for _, def := range defs {
		s.Sections[def.ID] = &SectionState{
			ID:      def.ID,
			Title:   def.Title,
			Content: def.Placeholder,
		}
	}
	s.RecomputeVisibility(defs)
	return s
}

// RecomputeVisibility writes the resolver's output into every section.
func (s *PlanState) RecomputeVisibility(defs []SectionDefinition) {
	visible := ResolveVisibility(defs, s.ActiveToggles)
	for id, sec := range s.Sections {
		sec.IsVisible = visible[id]
	}
}

// UpdateSectionContent replaces a section's content, stamps the edit time,
// bumps the revision, and marks the section edited when it already carries
// feedback. Returns ErrSectionNotFound for unknown ids.
func (s *PlanState) UpdateSectionContent(sectionID, content string) error {
	sec, ok := s.Sections[sectionID]
	if !ok {
		return ErrSectionNotFound
	}
	sec.Content = content
	sec.LastEditTimestamp = time.Now().UnixMilli()
	sec.Revision++
	sec.EditedSinceFeedback = sec.FeedbackRating != nil
	return nil
}

// SetActiveToggle replaces the active id of a toggle group and recomputes
// visibility over all sections. The id is not validated against the
// group's category; an id outside the group hides the whole category,
// which the resolver treats as a caller error rather than a crash.
func (s *PlanState) SetActiveToggle(defs []SectionDefinition, group SectionCategory, sectionID string) error {
	switch group {
	case CategoryApproach:
		s.ActiveToggles.Approach = sectionID
	case CategoryDataMethod:
		s.ActiveToggles.DataMethod = sectionID
	default:
		return ErrUnknownToggleGroup
	}
	s.RecomputeVisibility(defs)
	return nil
}

// ApplyFeedback merges one validated reviewer result into its section.
// The merge is skipped (applied=false) when the section's revision no
// longer matches the revision the feedback was requested against.
// Visibility is recomputed afterwards; under the always-unlocked policy
// feedback cannot change it, but the path is shared with toggle updates
// and must stay safe to call.
func (s *PlanState) ApplyFeedback(defs []SectionDefinition, result FeedbackResult, expectedRevision int64) (bool, error) {
	sec, ok := s.Sections[result.ID]
	if !ok {
		return false, ErrSectionNotFound
	}
	if sec.Revision != expectedRevision {
		return false, nil
	}
	res := result
	rating := res.Rating
	sec.AIInstructions = &res
	sec.FeedbackRating = &rating
	sec.EditedSinceFeedback = false
	s.Scores[result.ID] = rating
	s.RecomputeVisibility(defs)
	return true, nil
}

// AddChatMessage appends a message to a section's transcript.
func (s *PlanState) AddChatMessage(sectionID string, role, content string) {
	s.ChatMessages[sectionID] = append(s.ChatMessages[sectionID], ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Normalize reconciles a loaded state against the current definition
// table: sections added since the state was persisted get defaults,
// sections that no longer exist are dropped, nil maps are initialized,
// and the legacy proMode flag is forced on for pre-v6 states. Visibility
// is recomputed at the end.
func (s *PlanState) Normalize(defs []SectionDefinition) {
	if s.Sections == nil {
		s.Sections = make(map[string]*SectionState, len(defs))
	}
	if s.Scores == nil {
		s.Scores = make(map[string]int)
	}
	if s.ChatMessages == nil {
		s.ChatMessages = make(map[string][]ChatMessage)
	}
	if s.Version < StateVersion || !s.ProMode {
		s.ProMode = true
	}
	s.Version = StateVersion

	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		known[def.ID] = true
		if sec, ok := s.Sections[def.ID]; ok {
			sec.ID = def.ID
			sec.Title = def.Title
			continue
		}
		s.Sections[def.ID] = &SectionState{
			ID:      def.ID,
			Title:   def.Title,
			Content: def.Placeholder,
		}
	}
	for id := range s.Sections {
		if !known[id] {
			delete(s.Sections, id)
		}
	}
	defaults := DefaultToggles()
	if s.ActiveToggles.Approach == "" {
		s.ActiveToggles.Approach = defaults.Approach
	}
	if s.ActiveToggles.DataMethod == "" {
		s.ActiveToggles.DataMethod = defaults.DataMethod
	}
	s.RecomputeVisibility(defs)
}

// HasMeaningfulContent reports whether a section's content is non-empty
// after trimming and differs from its trimmed placeholder.
func HasMeaningfulContent(sec *SectionState, def *SectionDefinition) bool {
	if sec == nil || def == nil {
		return false
	}
	content := strings.TrimSpace(sec.Content)
	return content != "" && content != strings.TrimSpace(def.Placeholder)
}
