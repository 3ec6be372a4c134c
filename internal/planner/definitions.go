package planner

// SectionCategory identifies the mutually-exclusive toggle group a section
// belongs to. Sections outside a toggle group carry CategoryNone and are
// always visible.
type SectionCategory string

const (
	CategoryNone       SectionCategory = ""
	CategoryApproach   SectionCategory = "approach"
	CategoryDataMethod SectionCategory = "dataMethod"
)

// SubsectionDefinition is one instruction block inside a section.
type SubsectionDefinition struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
}

// SectionDefinition describes one block of the research plan. Definitions
// are loaded once at startup and never mutated at runtime.
type SectionDefinition struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Placeholder string                 `json:"placeholder"`
	IntroText   string                 `json:"introText"`
	Category    SectionCategory        `json:"category,omitempty"`
	Subsections []SubsectionDefinition `json:"subsections"`
}

// DefaultToggles returns the toggle selection a fresh plan starts with.
func DefaultToggles() ToggleState {
	return ToggleState{Approach: "hypothesis", DataMethod: "experiment"}
}

// FindDefinition returns the definition with the given id, or nil.
func FindDefinition(defs []SectionDefinition, id string) *SectionDefinition {
	for i := range defs {
		if defs[i].ID == id {
			return &defs[i]
		}
	}
	return nil
}

// DefaultDefinitions returns the ordered section catalog of the research
// plan. The order is the display order of the document.
func DefaultDefinitions() []SectionDefinition {
	return []SectionDefinition{
		{
			ID:          "question",
			Title:       "Research Question",
			Placeholder: "Enter your research question here...",
			IntroText:   "Every project starts with a question. A good question is specific, answerable, and worth answering.",
			Subsections: []SubsectionDefinition{
				{ID: "question_scope", Title: "Scope", Instruction: "State the question in one or two sentences. Avoid compound questions; split them if needed."},
				{ID: "question_motivation", Title: "Motivation", Instruction: "Explain why this question matters and what changes if it is answered."},
			},
		},
		{
			ID:          "hypothesis",
			Title:       "Hypotheses",
			Placeholder: "Enter your hypotheses here...",
			IntroText:   "Hypothesis-driven work names the competing explanations up front.",
			Category:    CategoryApproach,
			Subsections: []SubsectionDefinition{
				{ID: "hypothesis_statements", Title: "Competing hypotheses", Instruction: "List at least two plausible hypotheses that could answer your question."},
				{ID: "hypothesis_distinguish", Title: "Distinguishability", Instruction: "Explain what observation would favor one hypothesis over the others."},
			},
		},
		{
			ID:          "needsresearch",
			Title:       "Needs-Based Research",
			Placeholder: "Enter the need your research addresses here...",
			IntroText:   "Needs-driven work starts from a concrete problem a stakeholder has.",
			Category:    CategoryApproach,
			Subsections: []SubsectionDefinition{
				{ID: "needs_stakeholder", Title: "Stakeholder", Instruction: "Identify who has the need and how they experience the problem today."},
				{ID: "needs_criteria", Title: "Success criteria", Instruction: "Define how you will know the need has been met."},
			},
		},
		{
			ID:          "exploratoryresearch",
			Title:       "Exploratory Research",
			Placeholder: "Describe what you want to explore here...",
			IntroText:   "Exploratory work maps unknown territory before committing to hypotheses.",
			Category:    CategoryApproach,
			Subsections: []SubsectionDefinition{
				{ID: "exploratory_territory", Title: "Territory", Instruction: "Describe the phenomenon or dataset you will explore and why it is underexplored."},
				{ID: "exploratory_outcomes", Title: "Possible outcomes", Instruction: "Sketch the kinds of findings the exploration could produce."},
			},
		},
		{
			ID:          "experiment",
			Title:       "Experiment",
			Placeholder: "Describe your experimental design here...",
			IntroText:   "An experiment manipulates something and measures the consequences.",
			Category:    CategoryDataMethod,
			Subsections: []SubsectionDefinition{
				{ID: "experiment_design", Title: "Design", Instruction: "Describe the manipulation, the conditions, and what is held constant."},
				{ID: "experiment_measures", Title: "Measures", Instruction: "Name the dependent variables and how they are recorded."},
				{ID: "experiment_power", Title: "Sample size", Instruction: "Justify the planned sample size or number of trials."},
			},
		},
		{
			ID:          "existingdata",
			Title:       "Existing Data",
			Placeholder: "Describe the existing dataset here...",
			IntroText:   "Reusing existing data trades control for scale and speed.",
			Category:    CategoryDataMethod,
			Subsections: []SubsectionDefinition{
				{ID: "existingdata_provenance", Title: "Provenance", Instruction: "Describe where the data comes from, who collected it, and under what conditions."},
				{ID: "existingdata_fitness", Title: "Fitness", Instruction: "Explain why this dataset can answer your question and what its limits are."},
			},
		},
		{
			ID:          "theorysimulation",
			Title:       "Theory / Simulation",
			Placeholder: "Describe your model or simulation here...",
			IntroText:   "Theory and simulation answer questions about what must follow from assumptions.",
			Category:    CategoryDataMethod,
			Subsections: []SubsectionDefinition{
				{ID: "theory_assumptions", Title: "Assumptions", Instruction: "List the assumptions the model makes and which are load-bearing."},
				{ID: "theory_validation", Title: "Validation", Instruction: "Describe how model predictions will be checked against reality."},
			},
		},
		{
			ID:          "analysis",
			Title:       "Data Analysis",
			Placeholder: "Describe your analysis plan here...",
			IntroText:   "The analysis plan connects raw measurements back to the question.",
			Subsections: []SubsectionDefinition{
				{ID: "analysis_pipeline", Title: "Pipeline", Instruction: "Describe preprocessing, the main analysis, and any statistical tests."},
				{ID: "analysis_pitfalls", Title: "Pitfalls", Instruction: "Name the confounds or biases most likely to mislead you and how you guard against them."},
			},
		},
		{
			ID:          "process",
			Title:       "Process",
			Placeholder: "Describe your timeline and skills here...",
			IntroText:   "A plan needs a path: skills, collaborators, and time.",
			Subsections: []SubsectionDefinition{
				{ID: "process_skills", Title: "Skills", Instruction: "List the skills the project needs and which ones you still have to acquire."},
				{ID: "process_timeline", Title: "Timeline", Instruction: "Give a rough milestone timeline from start to submission."},
			},
		},
		{
			ID:          "abstract",
			Title:       "Abstract",
			Placeholder: "Draft your abstract here...",
			IntroText:   "The abstract is the whole project in one paragraph.",
			Subsections: []SubsectionDefinition{
				{ID: "abstract_structure", Title: "Structure", Instruction: "Cover background, question, approach, expected result, and impact in a few sentences each."},
			},
		},
		{
			ID:          "audience",
			Title:       "Target Audience",
			Placeholder: "Describe who will care about this work here...",
			IntroText:   "Knowing the audience shapes framing, venue, and writing.",
			Subsections: []SubsectionDefinition{
				{ID: "audience_communities", Title: "Communities", Instruction: "Name the research communities that will care about the result."},
				{ID: "audience_venues", Title: "Venues", Instruction: "List journals or conferences where this work would fit."},
			},
		},
	}
}
