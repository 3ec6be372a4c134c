package planner

import (
	"fmt"
	"strings"
)

// reviewerSystemPrompt frames the model as a structured reviewer for
// feedback calls. Feedback calls run at temperature 0 and demand a
// JSON-only reply.
const reviewerSystemPrompt = `You are an experienced scientific reviewer evaluating sections of a research plan.
You judge each section's content against the instructions of its subsections, fairly but rigorously.
You respond with JSON only: no prose, no markdown fences, no commentary outside the JSON object.`

// singleFeedbackPrompt builds the user prompt for evaluating one section.
// The embedded JSON is the serialized analysis payload.
func singleFeedbackPrompt(sectionID string, payload string) string {
	var b strings.Builder
	b.WriteString("I need you to evaluate the following research section based on its content against the provided instructions for each subsection.\n")
	fmt.Fprintf(&b, "Your response must be a single JSON object (not an array) with the following structure:\n")
	fmt.Fprintf(&b, `{ "id": %q, "overallFeedback": "...", "completionStatus": "incomplete|partially_complete|complete", "rating": <1-10>, "subsections": [ { "id": "...", "isComplete": <bool>, "feedback": "..." } ] }`, sectionID)
	b.WriteString("\n\n")
	b.WriteString(ratingScaleInstruction)
	b.WriteString(consistencyInstruction)
	b.WriteString("Here is the section and its subsection instructions to evaluate:\n")
	b.WriteString(payload)
	return b.String()
}

// batchFeedbackPrompt builds the user prompt for evaluating several
// sections in one call.
func batchFeedbackPrompt(payload string) string {
	var b strings.Builder
	b.WriteString("I need you to evaluate each of the following research sections based on its content against the provided instructions for each subsection.\n")
	b.WriteString("Your response must be a single JSON object of the form:\n")
	b.WriteString(`{ "results": [ { "id": "...", "overallFeedback": "...", "completionStatus": "incomplete|partially_complete|complete", "rating": <1-10>, "subsections": [ { "id": "...", "isComplete": <bool>, "feedback": "..." } ] } ] }`)
	b.WriteString("\nReturn exactly one result object per input section, matched by id.\n\n")
	b.WriteString(ratingScaleInstruction)
	b.WriteString(consistencyInstruction)
	b.WriteString("Here are the sections to evaluate:\n")
	b.WriteString(payload)
	return b.String()
}

const ratingScaleInstruction = "RATING SCALE: Provide a numerical rating from 1-10 for each section based on the quality and completeness of the user's content against the instructions. 1=very poor, 5=average student work, 10=publication quality.\n\n"

const consistencyInstruction = "CONSISTENCY: When a section includes previousFeedback, keep your rating consistent with it. Minor edits since the previous feedback should yield a similar rating; raise the rating only for substantial improvement.\n\n"

// chatSystemPrompt frames the model as a writing companion for one
// section's open chat. Chat runs at a high temperature and returns prose.
func chatSystemPrompt(def *SectionDefinition, userContent string) string {
	var b strings.Builder
	b.WriteString("You are a thoughtful scientific writing companion helping a researcher develop the \"")
	b.WriteString(def.Title)
	b.WriteString("\" section of their research plan.\n\n")
	if def.IntroText != "" {
		b.WriteString("About this section: ")
		b.WriteString(def.IntroText)
		b.WriteString("\n\n")
	}
	if len(def.Subsections) > 0 {
		b.WriteString("The section's instructions are:\n")
		for _, sub := range def.Subsections {
			fmt.Fprintf(&b, "- %s: %s\n", sub.Title, sub.Instruction)
		}
		b.WriteString("\n")
	}
	b.WriteString("What the researcher has written so far:\n")
	if strings.TrimSpace(userContent) == "" {
		b.WriteString("They haven't written anything substantial yet.\n")
	} else {
		b.WriteString(userContent)
		b.WriteString("\n")
	}
	b.WriteString("\nHelp them think, question their assumptions, and improve the section. Be concrete and concise.")
	return b.String()
}
