package planner

import (
	"encoding/json"
)

// Snapshot is the export format of a plan (and the newest of the import
// shapes): a flat content map plus transcript, toggles, and scores.
type Snapshot struct {
	UserInputs      map[string]string        `json:"userInputs"`
	ChatMessages    map[string][]ChatMessage `json:"chatMessages,omitempty"`
	DetectedToggles *ToggleState             `json:"detectedToggles,omitempty"`
	Scores          map[string]int           `json:"scores,omitempty"`
}

// LoadedProject is the parsed, shape-independent view of an imported
// snapshot, ready to be reconciled against the current definition table.
type LoadedProject struct {
	// Contents maps section id to loaded content. Presence matters:
	// an id that is absent keeps the section's default content.
	Contents map[string]string
	// FullSections carries per-section feedback state when the snapshot
	// contained full section objects (shape 2). Nil otherwise.
	FullSections map[string]*SectionState
	ChatMessages map[string][]ChatMessage
	Toggles      *ToggleState
	Scores       map[string]int
	ProMode      *bool
}

// Well-known section ids used to sniff shape-3 flat content maps.
var flatMapMarkers = []string{"question", "abstract", "audience"}

// Keys that never denote section content in a flat map.
var reservedSnapshotKeys = map[string]bool{
	"chatMessages":    true,
	"detectedToggles": true,
	"scores":          true,
	"proMode":         true,
	"version":         true,
}

// ParseSnapshot detects which historical snapshot shape raw is in and
// extracts a LoadedProject from it. The shapes are tried in a fixed
// order (userInputs map, then sections map, then flat content map)
// because snapshots carry no version discriminator and an ambiguous
// payload must classify the same way the original format evolution did.
// Returns ErrInvalidProjectFormat (and touches nothing) when no shape
// matches.
func ParseSnapshot(raw []byte) (*LoadedProject, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil, ErrInvalidProjectFormat
	}

	loaded := &LoadedProject{}
	loaded.ChatMessages = parseChatMessages(top["chatMessages"])
	loaded.Toggles = parseToggles(top["detectedToggles"])
	loaded.Scores = parseScores(top["scores"])
	loaded.ProMode = parseProMode(top["proMode"])

	// Shape 1: {"userInputs": {sectionId: content, ...}, ...}
	if rawInputs, ok := top["userInputs"]; ok {
		contents, ok := parseContentMap(rawInputs)
		if ok {
			loaded.Contents = contents
			return loaded, nil
		}
	}

	// Shape 2: {"sections": {sectionId: "content" | {content: ...}, ...}, ...}
	if rawSections, ok := top["sections"]; ok {
		contents, fullSections, ok := parseSectionMap(rawSections)
		if ok {
			loaded.Contents = contents
			loaded.FullSections = fullSections
			return loaded, nil
		}
	}

	// Shape 3: the document itself is a flat content map, recognized by
	// the presence of at least one well-known section id.
	for _, marker := range flatMapMarkers {
		rawValue, ok := top[marker]
		if !ok {
			continue
		}
		var content string
		if err := json.Unmarshal(rawValue, &content); err != nil {
			continue
		}
		contents := make(map[string]string)
		for key, value := range top {
			if reservedSnapshotKeys[key] {
				continue
			}
			var s string
			if err := json.Unmarshal(value, &s); err == nil {
				contents[key] = s
			}
		}
		loaded.Contents = contents
		return loaded, nil
	}

	return nil, ErrInvalidProjectFormat
}

// parseContentMap reads an object of sectionId -> content string,
// tolerating and skipping non-string values.
func parseContentMap(raw json.RawMessage) (map[string]string, bool) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return nil, false
	}
	contents := make(map[string]string, len(entries))
	for id, value := range entries {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			contents[id] = s
		}
	}
	return contents, true
}

// parseSectionMap reads an object whose values are content strings or
// full section objects. It fails the shape check when the object holds
// neither, so ambiguous payloads fall through to the next shape.
func parseSectionMap(raw json.RawMessage) (map[string]string, map[string]*SectionState, bool) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return nil, nil, false
	}
	contents := make(map[string]string, len(entries))
	fullSections := make(map[string]*SectionState)
	matched := false
	for id, value := range entries {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			contents[id] = s
			matched = true
			continue
		}
		var sec SectionState
		if err := json.Unmarshal(value, &sec); err == nil {
			sec.ID = id
			contents[id] = sec.Content
			fullSections[id] = &sec
			matched = true
		}
	}
	if !matched {
		return nil, nil, false
	}
	if len(fullSections) == 0 {
		fullSections = nil
	}
	return contents, fullSections, true
}

func parseChatMessages(raw json.RawMessage) map[string][]ChatMessage {
	if raw == nil {
		return nil
	}
	var messages map[string][]ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil
	}
	return messages
}

func parseToggles(raw json.RawMessage) *ToggleState {
	if raw == nil {
		return nil
	}
	var toggles ToggleState
	if err := json.Unmarshal(raw, &toggles); err != nil {
		return nil
	}
	return &toggles
}

func parseScores(raw json.RawMessage) map[string]int {
	if raw == nil {
		return nil
	}
	var scores map[string]int
	if err := json.Unmarshal(raw, &scores); err != nil {
		return nil
	}
	return scores
}

func parseProMode(raw json.RawMessage) *bool {
	if raw == nil {
		return nil
	}
	var proMode bool
	if err := json.Unmarshal(raw, &proMode); err != nil {
		return nil
	}
	return &proMode
}

// Reconcile merges a parsed snapshot onto the default state derived from
// the current definition table. Sections missing from the snapshot keep
// their defaults, snapshot ids unknown to the definitions are dropped,
// toggles come from the snapshot when present, and the legacy proMode
// flag is forced on regardless of what the snapshot carried. The caller
// swaps the returned state in atomically.
func Reconcile(defs []SectionDefinition, loaded *LoadedProject) *PlanState {
	state := NewPlanState(defs)

	for _, def := range defs {
		sec := state.Sections[def.ID]
		if full, ok := loaded.FullSections[def.ID]; ok {
			if full.AIInstructions != nil {
				res := *full.AIInstructions
				sec.AIInstructions = &res
			}
			if full.FeedbackRating != nil {
				rating := *full.FeedbackRating
				sec.FeedbackRating = &rating
			}
			sec.EditedSinceFeedback = full.EditedSinceFeedback
			sec.LastEditTimestamp = full.LastEditTimestamp
		}
		if content, ok := loaded.Contents[def.ID]; ok {
			sec.Content = content
		}
	}

	if loaded.Toggles != nil {
		toggles := DefaultToggles()
		if loaded.Toggles.Approach != "" {
			toggles.Approach = loaded.Toggles.Approach
		}
		if loaded.Toggles.DataMethod != "" {
			toggles.DataMethod = loaded.Toggles.DataMethod
		}
		state.ActiveToggles = toggles
	}
	if loaded.ChatMessages != nil {
		state.ChatMessages = loaded.ChatMessages
	}
	for id, score := range loaded.Scores {
		if _, ok := state.Sections[id]; ok {
			state.Scores[id] = score
		}
	}

	state.ProMode = true
	state.RecomputeVisibility(defs)
	return state
}

// ExportSnapshot serializes a plan state into the newest snapshot shape.
// Re-importing the result reproduces every section's content and the
// active toggles exactly.
func ExportSnapshot(state *PlanState) Snapshot {
	userInputs := make(map[string]string, len(state.Sections))
	for id, sec := range state.Sections {
		userInputs[id] = sec.Content
	}
	toggles := state.ActiveToggles
	snapshot := Snapshot{
		UserInputs:      userInputs,
		DetectedToggles: &toggles,
	}
	if len(state.ChatMessages) > 0 {
		snapshot.ChatMessages = state.ChatMessages
	}
	if len(state.Scores) > 0 {
		snapshot.Scores = state.Scores
	}
	return snapshot
}
