package prioritize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"focusloop-backend/internal/ai"
)

// Generator proposes one full prioritization candidate. On a refinement
// call it receives the previous candidate and the evaluator's feedback and
// must treat the feedback as authoritative correction input.
type Generator interface {
	Generate(ctx context.Context, oc OutcomeContext, tasks []Task, prior *Refinement) (Candidate, error)
}

// Refinement carries the inputs of a refinement call.
type Refinement struct {
	Candidate Candidate
	Feedback  string
}

// LLMGenerator backs the Generator contract with a reasoning-service call.
// A validation failure triggers exactly one immediate retry with adjusted
// generation parameters; a second failure is fatal for the run.
type LLMGenerator struct {
	AI *ai.Client
}

func (g *LLMGenerator) Generate(ctx context.Context, oc OutcomeContext, tasks []Task, prior *Refinement) (Candidate, error) {
	var priorJSON, feedback string
	if prior != nil {
		b, err := json.Marshal(prior.Candidate)
		if err != nil {
			return Candidate{}, fmt.Errorf("marshal prior candidate: %w", err)
		}
		priorJSON = string(b)
		feedback = prior.Feedback
	}

	prompt := ai.BuildGeneratorPrompt(
		oc.GoalText,
		renderReflections(oc.Reflections),
		renderTasks(tasks),
		priorJSON,
		feedback,
	)

	raw, err := g.AI.Complete(ctx, ai.GeneratorSystemPrompt, prompt, ai.CallOptions{Temperature: 0.2})
	if err != nil {
		return Candidate{}, fmt.Errorf("generator call: %w", err)
	}

	cand, parseErr := ParseCandidate(raw, oc, tasks)
	if parseErr == nil {
		return cand, nil
	}

	log.Printf("[WARN] generator output rejected, retrying with strict parameters: %v", parseErr)

	raw, err = g.AI.Complete(ctx, ai.GeneratorSystemPrompt, prompt, ai.CallOptions{Temperature: 0, Strict: true})
	if err != nil {
		return Candidate{}, fmt.Errorf("generator retry call: %w", err)
	}

	cand, parseErr = ParseCandidate(raw, oc, tasks)
	if parseErr != nil {
		return Candidate{}, fmt.Errorf("generator output invalid after retry: %w", parseErr)
	}
	return cand, nil
}

func renderReflections(reflections []Reflection) string {
	if len(reflections) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range reflections {
		fmt.Fprintf(&b, "- [weight %.2f] %s\n", r.Weight, r.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTasks(tasks []Task) string {
	sorted := make([]Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	for _, t := range sorted {
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
