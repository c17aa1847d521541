package ai

import "strings"

// BuildGeneratorPrompt assembles the user prompt for a generation call.
// reflectionsBlock and tasksBlock are pre-rendered line blocks;
// previousCandidate and feedback are empty on the first iteration.
func BuildGeneratorPrompt(
	goalText string,
	reflectionsBlock string,
	tasksBlock string,
	previousCandidate string,
	feedback string,
) string {

	var b strings.Builder

	b.WriteString("goal: ")
	b.WriteString(goalText)
	b.WriteString("\n")

	if reflectionsBlock != "" {
		b.WriteString("reflections:\n")
		b.WriteString(reflectionsBlock)
		b.WriteString("\n")
	}

	b.WriteString("tasks:\n")
	b.WriteString(tasksBlock)
	b.WriteString("\n")

	if previousCandidate != "" {
		b.WriteString("previous_candidate:\n")
		b.WriteString(previousCandidate)
		b.WriteString("\n")
	}

	if feedback != "" {
		b.WriteString("evaluator_feedback:\n")
		b.WriteString(feedback)
		b.WriteString("\n")
	}

	return b.String()
}

// BuildEvaluatorPrompt assembles the user prompt for a critique call.
func BuildEvaluatorPrompt(
	goalText string,
	reflectionsBlock string,
	candidateJSON string,
) string {

	var b strings.Builder

	b.WriteString("goal: ")
	b.WriteString(goalText)
	b.WriteString("\n")

	if reflectionsBlock != "" {
		b.WriteString("reflections:\n")
		b.WriteString(reflectionsBlock)
		b.WriteString("\n")
	}

	b.WriteString("candidate:\n")
	b.WriteString(candidateJSON)
	b.WriteString("\n")

	return b.String()
}
