package prioritize

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Thresholds are the confidence gates of the loop. The defaults are
// heuristic values carried over from production history; they are loaded
// from tuning config rather than hard-coded at call sites.
type Thresholds struct {
	SkipEvaluation  float64 // candidate confidence >= this: trust it, skip the evaluator
	ForceEvaluation float64 // candidate confidence < this: always evaluate
	MaxIterations   int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SkipEvaluation:  0.85,
		ForceEvaluation: 0.70,
		MaxIterations:   3,
	}
}

// Controller runs the hybrid evaluator-optimizer loop:
//
//	GENERATE -> (gate) -> [DONE | EVALUATE] -> (verdict) -> [DONE | REFINE -> GENERATE]
//
// Bounded to Thresholds.MaxIterations generator calls by construction. The
// controller is stateless across runs; the only mutable state is the
// per-run chain-of-thought accumulator.
type Controller struct {
	Generator  Generator
	Evaluator  Evaluator
	Thresholds Thresholds

	// SoftCallTimeout logs a performance warning when a stage call takes
	// longer; it never cancels the call.
	SoftCallTimeout time.Duration

	now func() time.Time
}

func NewController(g Generator, e Evaluator, t Thresholds) *Controller {
	if t.MaxIterations < 1 {
		t.MaxIterations = DefaultThresholds().MaxIterations
	}
	return &Controller{
		Generator:  g,
		Evaluator:  e,
		Thresholds: t,
		now:        time.Now,
	}
}

// Run executes one full prioritization. It either returns a complete,
// invariant-satisfying Result or an error; no partial results.
func (c *Controller) Run(ctx context.Context, oc OutcomeContext, tasks []Task) (Result, error) {
	if len(tasks) == 0 {
		return Result{}, ErrNoTasks
	}
	if strings.TrimSpace(oc.GoalText) == "" {
		return Result{}, ErrNoOutcome
	}

	started := c.now()

	var (
		steps         []ChainOfThoughtStep
		best          Candidate
		bestSet       bool
		final         Candidate
		prior         *Refinement
		converged     bool
		evalTriggered bool
	)

	for iteration := 1; iteration <= c.Thresholds.MaxIterations; iteration++ {
		cand, err := c.generate(ctx, oc, tasks, prior)
		if err != nil {
			return Result{}, fmt.Errorf("iteration %d: %w", iteration, err)
		}

		step := ChainOfThoughtStep{
			Iteration:  iteration,
			Confidence: cand.Confidence,
			Timestamp:  c.now().UTC(),
		}
		if prior == nil {
			step.Corrections = "initial candidate"
		} else {
			step.Corrections = describeCorrections(prior.Candidate, cand)
		}

		// never discard a completed candidate: track the best so far
		if !bestSet || cand.Confidence >= best.Confidence {
			best = cand
			bestSet = true
		}

		if !c.shouldEvaluate(cand, oc) {
			// fast path: the generator vouches for its own output
			log.Printf("[INFO] evaluation skipped iteration=%d confidence=%.2f", iteration, cand.Confidence)
			steps = append(steps, step)
			final = cand
			break
		}

		evalTriggered = true
		verdict, err := c.evaluate(ctx, oc, cand)
		if err != nil {
			return Result{}, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		step.EvaluatorFeedback = verdict.Feedback
		steps = append(steps, step)

		switch verdict.Status {
		case StatusPass:
			final = cand
			converged = true
		case StatusFail:
			// hard quality floor: stop refining, return the best we have
			log.Printf("[WARN] evaluator failed candidate iteration=%d feedback=%q", iteration, verdict.Feedback)
			final = best
		case StatusNeedsImprovement:
			if iteration < c.Thresholds.MaxIterations {
				prior = &Refinement{Candidate: cand, Feedback: verdict.Feedback}
				continue
			}
			// budget exhausted: not an error, just unconverged
			log.Printf("[INFO] iteration budget exhausted without PASS, returning best candidate confidence=%.2f", best.Confidence)
			final = best
		default:
			return Result{}, fmt.Errorf("iteration %d: unknown verdict status %q", iteration, verdict.Status)
		}
		break
	}

	meta := LoopMetadata{
		Iterations:          len(steps),
		DurationMS:          c.now().Sub(started).Milliseconds(),
		EvaluationTriggered: evalTriggered,
		ChainOfThought:      steps,
		Converged:           converged,
		FinalConfidence:     final.Confidence,
	}

	return Assemble(final, tasks, meta)
}

func (c *Controller) generate(ctx context.Context, oc OutcomeContext, tasks []Task, prior *Refinement) (Candidate, error) {
	started := c.now()
	cand, err := c.Generator.Generate(ctx, oc, tasks, prior)
	c.warnSlow("generator", started)
	return cand, err
}

func (c *Controller) evaluate(ctx context.Context, oc OutcomeContext, cand Candidate) (Verdict, error) {
	started := c.now()
	verdict, err := c.Evaluator.Evaluate(ctx, oc, cand)
	c.warnSlow("evaluator", started)
	return verdict, err
}

func (c *Controller) warnSlow(stage string, started time.Time) {
	if c.SoftCallTimeout <= 0 {
		return
	}
	if elapsed := c.now().Sub(started); elapsed > c.SoftCallTimeout {
		log.Printf("[WARN] %s stage exceeded soft timeout elapsed_ms=%d budget_ms=%d",
			stage, elapsed.Milliseconds(), c.SoftCallTimeout.Milliseconds())
	}
}

// shouldEvaluate is the evaluation gate. Above SkipEvaluation the candidate
// is trusted outright; below ForceEvaluation it is always critiqued. In the
// gray zone between them the candidate is critiqued when the run carries
// strongly weighted reflections (they are the easiest thing for a generator
// to get wrong) or when the candidate filtered nothing out.
func (c *Controller) shouldEvaluate(cand Candidate, oc OutcomeContext) bool {
	if cand.Confidence >= c.Thresholds.SkipEvaluation {
		return false
	}
	if cand.Confidence < c.Thresholds.ForceEvaluation {
		return true
	}

	for _, r := range oc.Reflections {
		if r.Weight >= 0.5 {
			return true
		}
	}
	return len(cand.ExcludedTasks) == 0
}

// describeCorrections summarizes what a refinement changed relative to the
// previous candidate, for the audit chain.
func describeCorrections(prev, next Candidate) string {
	prevIncluded := make(map[string]bool, len(prev.IncludedTaskIDs))
	for _, id := range prev.IncludedTaskIDs {
		prevIncluded[id] = true
	}
	nextIncluded := make(map[string]bool, len(next.IncludedTaskIDs))
	for _, id := range next.IncludedTaskIDs {
		nextIncluded[id] = true
	}

	var added, removed []string
	for id := range nextIncluded {
		if !prevIncluded[id] {
			added = append(added, id)
		}
	}
	for id := range prevIncluded {
		if !nextIncluded[id] {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	var parts []string
	if len(added) > 0 {
		parts = append(parts, "included "+strings.Join(added, ", "))
	}
	if len(removed) > 0 {
		parts = append(parts, "excluded "+strings.Join(removed, ", "))
	}
	if !equalOrder(prev.OrderedTaskIDs, next.OrderedTaskIDs) {
		parts = append(parts, "reordered priorities")
	}
	if len(parts) == 0 {
		return "revised scores and reasoning without changing the task partition"
	}
	return strings.Join(parts, "; ")
}

func equalOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
