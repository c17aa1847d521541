package prioritize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"focusloop-backend/internal/ai"
)

// Evaluator critiques a candidate against the outcome context. It scores
// four fixed criteria and must not re-derive scores.
type Evaluator interface {
	Evaluate(ctx context.Context, oc OutcomeContext, candidate Candidate) (Verdict, error)
}

// LLMEvaluator backs the Evaluator contract with a cheaper reasoning call
// than the generator (temperature 0, capped output). Same retry rule as
// the generator: one strict retry on invalid output, then fatal.
type LLMEvaluator struct {
	AI *ai.Client
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, oc OutcomeContext, candidate Candidate) (Verdict, error) {
	candJSON, err := json.Marshal(candidate)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal candidate: %w", err)
	}

	prompt := ai.BuildEvaluatorPrompt(
		oc.GoalText,
		renderReflections(oc.Reflections),
		string(candJSON),
	)

	raw, err := e.AI.Complete(ctx, ai.EvaluatorSystemPrompt, prompt, ai.CallOptions{Temperature: 0, MaxTokens: 1024})
	if err != nil {
		return Verdict{}, fmt.Errorf("evaluator call: %w", err)
	}

	verdict, parseErr := ParseVerdict(raw)
	if parseErr == nil {
		return verdict, nil
	}

	log.Printf("[WARN] evaluator output rejected, retrying with strict parameters: %v", parseErr)

	raw, err = e.AI.Complete(ctx, ai.EvaluatorSystemPrompt, prompt, ai.CallOptions{Temperature: 0, MaxTokens: 1024, Strict: true})
	if err != nil {
		return Verdict{}, fmt.Errorf("evaluator retry call: %w", err)
	}

	verdict, parseErr = ParseVerdict(raw)
	if parseErr != nil {
		return Verdict{}, fmt.Errorf("evaluator output invalid after retry: %w", parseErr)
	}
	return verdict, nil
}
