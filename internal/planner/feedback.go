package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/planlab/planner-orchestrator/internal/llm"
)

// FeedbackMode selects how the orchestrator talks to the reviewer: one
// section per call, or every eligible section in a single call. The mode
// is fixed at construction.
type FeedbackMode string

const (
	FeedbackModeSingle FeedbackMode = "single"
	FeedbackModeBatch  FeedbackMode = "batch"
)

// ParseFeedbackMode maps a config string onto a mode, defaulting to single.
func ParseFeedbackMode(s string) FeedbackMode {
	if strings.EqualFold(strings.TrimSpace(s), string(FeedbackModeBatch)) {
		return FeedbackModeBatch
	}
	return FeedbackModeSingle
}

// AnalysisOutcome is the orchestrator's structured result. On success,
// Results holds one validated reviewer verdict per analyzed section and
// Revisions records the revision each section had when the request was
// built, so the caller can refuse stale merges.
type AnalysisOutcome struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	ErrorType string           `json:"errorType,omitempty"`
	Results   []FeedbackResult `json:"results,omitempty"`
	Revisions map[string]int64 `json:"-"`
	Duration  time.Duration    `json:"-"`
}

// sectionPayload is the JSON handed to the reviewer for one section.
type sectionPayload struct {
	ID                  string                 `json:"id"`
	Title               string                 `json:"title"`
	UserContent         string                 `json:"userContent"`
	OriginalPlaceholder string                 `json:"originalPlaceholder"`
	IntroText           string                 `json:"introText,omitempty"`
	Subsections         []SubsectionDefinition `json:"subsections"`
	PreviousFeedback    *previousFeedback      `json:"previousFeedback,omitempty"`
}

// previousFeedback is the excerpt of an earlier verdict included so the
// reviewer can keep ratings consistent across runs.
type previousFeedback struct {
	OverallFeedback string               `json:"overallFeedback"`
	Rating          int                  `json:"rating"`
	Subsections     []SubsectionFeedback `json:"subsections,omitempty"`
}

// FeedbackOrchestrator drives reviewer calls: it selects what to analyze,
// builds the prompt, and parses and validates the reply. It never mutates
// plan state; merging validated results back is the caller's job.
type FeedbackOrchestrator struct {
	client llm.CompletionClient
	mode   FeedbackMode
	logger *zap.Logger
}

// NewFeedbackOrchestrator creates an orchestrator bound to one mode.
func NewFeedbackOrchestrator(client llm.CompletionClient, mode FeedbackMode, logger *zap.Logger) *FeedbackOrchestrator {
	return &FeedbackOrchestrator{client: client, mode: mode, logger: logger}
}

// Mode returns the mode the orchestrator was constructed with.
func (o *FeedbackOrchestrator) Mode() FeedbackMode {
	return o.mode
}

// Analyze runs one feedback round against the given state. In single mode
// sectionID names the section to analyze; in batch mode sectionID is
// ignored and every eligible section is analyzed. The outcome always has
// Success set; a failed round carries the error taxonomy code in
// ErrorType and never partial results.
func (o *FeedbackOrchestrator) Analyze(ctx context.Context, defs []SectionDefinition, state *PlanState, sectionID string) *AnalysisOutcome {
	start := time.Now()
	var outcome *AnalysisOutcome
	if o.mode == FeedbackModeBatch {
		outcome = o.analyzeBatch(ctx, defs, state)
	} else {
		outcome = o.analyzeSingle(ctx, defs, state, sectionID)
	}
	outcome.Duration = time.Since(start)
	return outcome
}

func (o *FeedbackOrchestrator) analyzeSingle(ctx context.Context, defs []SectionDefinition, state *PlanState, sectionID string) *AnalysisOutcome {
	sec, ok := state.Sections[sectionID]
	if !ok {
		return failure(ErrSectionNotFound, fmt.Sprintf("section %q does not exist", sectionID))
	}
	def := FindDefinition(defs, sectionID)
	if def == nil {
		return failure(ErrDefinitionNotFound, fmt.Sprintf("no definition for section %q", sectionID))
	}
	if !HasMeaningfulContent(sec, def) {
		return failure(ErrNoMeaningfulContent, "write something in the section before requesting feedback")
	}

	payload, err := json.Marshal(buildPayload(sec, def))
	if err != nil {
		return failure(err, "failed to build analysis request")
	}

	reply, err := o.client.Chat(ctx,
		[]llm.Message{
			{Role: "system", Content: reviewerSystemPrompt},
			{Role: "user", Content: singleFeedbackPrompt(sectionID, string(payload))},
		},
		llm.WithTemperature(0),
		llm.WithMaxTokens(4096),
		llm.WithJSONResponse(),
	)
	if err != nil {
		o.logger.Error("reviewer call failed",
			zap.String("section_id", sectionID),
			zap.Error(err),
		)
		return failure(ErrExternalCallFailure, "the feedback service is unavailable right now")
	}

	result, err := o.parseSingle(reply, def)
	if err != nil {
		o.logger.Warn("reviewer reply did not match any known shape",
			zap.String("section_id", sectionID),
			zap.Int("reply_length", len(reply)),
		)
		return failure(err, "the feedback service returned an unusable reply")
	}

	return &AnalysisOutcome{
		Success:   true,
		Message:   "feedback ready",
		Results:   []FeedbackResult{*result},
		Revisions: map[string]int64{sectionID: sec.Revision},
	}
}

func (o *FeedbackOrchestrator) analyzeBatch(ctx context.Context, defs []SectionDefinition, state *PlanState) *AnalysisOutcome {
	// A section is eligible when it has meaningful content and its
	// feedback is missing or stale.
	var payloads []sectionPayload
	revisions := make(map[string]int64)
	candidates := make(map[string]*SectionDefinition)
	for i := range defs {
		def := &defs[i]
		sec, ok := state.Sections[def.ID]
		if !ok || !HasMeaningfulContent(sec, def) {
			continue
		}
		if !sec.EditedSinceFeedback && sec.FeedbackRating != nil {
			continue
		}
		payloads = append(payloads, buildPayload(sec, def))
		revisions[def.ID] = sec.Revision
		candidates[def.ID] = def
	}
	if len(payloads) == 0 {
		return failure(ErrNothingToAnalyze, "every section with content already has up-to-date feedback")
	}

	payload, err := json.Marshal(payloads)
	if err != nil {
		return failure(err, "failed to build analysis request")
	}

	reply, err := o.client.Chat(ctx,
		[]llm.Message{
			{Role: "system", Content: reviewerSystemPrompt},
			{Role: "user", Content: batchFeedbackPrompt(string(payload))},
		},
		llm.WithTemperature(0),
		llm.WithMaxTokens(4096),
		llm.WithJSONResponse(),
	)
	if err != nil {
		o.logger.Error("reviewer call failed",
			zap.Int("section_count", len(payloads)),
			zap.Error(err),
		)
		return failure(ErrExternalCallFailure, "the feedback service is unavailable right now")
	}

	results, err := o.parseBatch(reply, candidates)
	if err != nil {
		o.logger.Warn("reviewer reply did not match any known shape",
			zap.Int("section_count", len(payloads)),
			zap.Int("reply_length", len(reply)),
		)
		return failure(err, "the feedback service returned an unusable reply")
	}

	return &AnalysisOutcome{
		Success:   true,
		Message:   fmt.Sprintf("feedback ready for %d section(s)", len(results)),
		Results:   results,
		Revisions: revisions,
	}
}

// buildPayload assembles the reviewer's view of one section, including an
// excerpt of the previous verdict when one exists.
func buildPayload(sec *SectionState, def *SectionDefinition) sectionPayload {
	p := sectionPayload{
		ID:                  def.ID,
		Title:               def.Title,
		UserContent:         sec.Content,
		OriginalPlaceholder: def.Placeholder,
		IntroText:           def.IntroText,
		Subsections:         def.Subsections,
	}
	if sec.AIInstructions != nil && sec.FeedbackRating != nil {
		p.PreviousFeedback = &previousFeedback{
			OverallFeedback: sec.AIInstructions.OverallFeedback,
			Rating:          *sec.FeedbackRating,
			Subsections:     sec.AIInstructions.Subsections,
		}
	}
	return p
}

// parseSingle extracts one verdict from a single-mode reply. Accepted
// shapes, in order: {"result": {...}}, a bare result object, and an array
// of result objects matched by id.
func (o *FeedbackOrchestrator) parseSingle(reply string, def *SectionDefinition) (*FeedbackResult, error) {
	raw := []byte(stripFences(reply))

	var wrapped struct {
		Result *FeedbackResult `json:"result"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Result != nil {
		if res, ok := o.acceptResult(*wrapped.Result, def); ok {
			return res, nil
		}
	}

	var bare FeedbackResult
	if err := json.Unmarshal(raw, &bare); err == nil {
		if res, ok := o.acceptResult(bare, def); ok {
			return res, nil
		}
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			var candidate FeedbackResult
			if err := json.Unmarshal(item, &candidate); err != nil {
				continue
			}
			if candidate.ID != def.ID {
				continue
			}
			if res, ok := o.acceptResult(candidate, def); ok {
				return res, nil
			}
		}
	}

	return nil, ErrInvalidResponseShape
}

// parseBatch extracts verdicts from a batch-mode reply. Accepted shapes:
// {"results": [...]} and a bare array. Malformed elements and verdicts
// for sections that were not requested are discarded; a reply yielding
// zero usable verdicts fails the whole round.
func (o *FeedbackOrchestrator) parseBatch(reply string, candidates map[string]*SectionDefinition) ([]FeedbackResult, error) {
	raw := []byte(stripFences(reply))

	var list []json.RawMessage
	var wrapped struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Results != nil {
		list = wrapped.Results
	} else if err := json.Unmarshal(raw, &list); err != nil {
		return nil, ErrInvalidResponseShape
	}

	var results []FeedbackResult
	seen := make(map[string]bool)
	for _, item := range list {
		var candidate FeedbackResult
		if err := json.Unmarshal(item, &candidate); err != nil {
			continue
		}
		def, requested := candidates[candidate.ID]
		if !requested || seen[candidate.ID] {
			continue
		}
		if res, ok := o.acceptResult(candidate, def); ok {
			results = append(results, *res)
			seen[candidate.ID] = true
		}
	}
	if len(results) == 0 {
		return nil, ErrInvalidResponseShape
	}
	return results, nil
}

// acceptResult validates one verdict against its definition. An empty id
// is filled in from the definition; a mismatched one rejects the verdict.
// Subsection entries naming unknown ids are kept but logged, since they
// indicate the reviewer drifted from the instructions.
func (o *FeedbackOrchestrator) acceptResult(res FeedbackResult, def *SectionDefinition) (*FeedbackResult, bool) {
	if res.ID == "" {
		res.ID = def.ID
	}
	if res.ID != def.ID {
		return nil, false
	}
	if res.Rating < 1 || res.Rating > 10 {
		return nil, false
	}
	if strings.TrimSpace(res.OverallFeedback) == "" {
		return nil, false
	}
	switch res.CompletionStatus {
	case CompletionIncomplete, CompletionPartiallyComplete, CompletionComplete:
	default:
		res.CompletionStatus = CompletionIncomplete
	}

	known := make(map[string]bool, len(def.Subsections))
	for _, sub := range def.Subsections {
		known[sub.ID] = true
	}
	for _, sub := range res.Subsections {
		if !known[sub.ID] {
			o.logger.Warn("reviewer referenced unknown subsection",
				zap.String("section_id", def.ID),
				zap.String("subsection_id", sub.ID),
			)
		}
	}
	return &res, true
}

// stripFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one despite the instructions.
func stripFences(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func failure(err error, message string) *AnalysisOutcome {
	return &AnalysisOutcome{
		Success:   false,
		Message:   message,
		ErrorType: ErrorCode(err),
	}
}
