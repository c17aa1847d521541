package prioritize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseCandidate is the only way raw generator output becomes a typed
// Candidate. Invalid output never escapes this boundary.
func ParseCandidate(raw json.RawMessage, oc OutcomeContext, tasks []Task) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return Candidate{}, &SchemaError{Stage: "generator", Reason: "malformed JSON: " + err.Error()}
	}
	if err := validateCandidate(c, oc, tasks); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

func validateCandidate(c Candidate, oc OutcomeContext, tasks []Task) error {
	fail := func(format string, args ...any) error {
		return &SchemaError{Stage: "generator", Reason: fmt.Sprintf(format, args...)}
	}

	if len(c.IncludedTaskIDs) == 0 {
		return fail("included_task_ids is empty")
	}

	// partition: included + excluded == input task id set, exactly once each
	input := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		input[t.ID] = true
	}

	seen := make(map[string]bool, len(tasks))
	for _, id := range c.IncludedTaskIDs {
		if !input[id] {
			return fail("included task %q is not in the input set", id)
		}
		if seen[id] {
			return fail("task %q appears twice", id)
		}
		seen[id] = true
	}
	for _, ex := range c.ExcludedTasks {
		if !input[ex.TaskID] {
			return fail("excluded task %q is not in the input set", ex.TaskID)
		}
		if seen[ex.TaskID] {
			return fail("task %q appears twice", ex.TaskID)
		}
		seen[ex.TaskID] = true
		if ex.AlignmentScore < 0 || ex.AlignmentScore > 10 {
			return fail("alignment_score for %q out of [0,10]: %v", ex.TaskID, ex.AlignmentScore)
		}
	}
	if len(seen) != len(input) {
		for id := range input {
			if !seen[id] {
				return fail("task %q is neither included nor excluded", id)
			}
		}
	}

	// score coverage: per_task_scores keys == included ids, exactly
	if len(c.PerTaskScores) != len(c.IncludedTaskIDs) {
		return fail("per_task_scores has %d entries, expected %d", len(c.PerTaskScores), len(c.IncludedTaskIDs))
	}
	for _, id := range c.IncludedTaskIDs {
		score, ok := c.PerTaskScores[id]
		if !ok {
			return fail("missing score for included task %q", id)
		}
		if score.Impact < 0 || score.Impact > 10 {
			return fail("impact for %q out of [0,10]: %v", id, score.Impact)
		}
		if score.EffortHours < 0.5 || score.EffortHours > 160 {
			return fail("effort_hours for %q out of [0.5,160]: %v", id, score.EffortHours)
		}
		if score.Confidence < 0 || score.Confidence > 1 {
			return fail("task confidence for %q out of [0,1]: %v", id, score.Confidence)
		}
	}

	// ordering: permutation of included ids
	if len(c.OrderedTaskIDs) != len(c.IncludedTaskIDs) {
		return fail("ordered_task_ids has %d entries, expected %d", len(c.OrderedTaskIDs), len(c.IncludedTaskIDs))
	}
	ordered := make(map[string]bool, len(c.OrderedTaskIDs))
	for _, id := range c.OrderedTaskIDs {
		if ordered[id] {
			return fail("ordered_task_ids repeats %q", id)
		}
		if _, ok := c.PerTaskScores[id]; !ok {
			return fail("ordered_task_ids contains non-included task %q", id)
		}
		ordered[id] = true
	}

	if c.Confidence < 0 || c.Confidence > 1 {
		return fail("confidence out of [0,1]: %v", c.Confidence)
	}

	// negation reflections must translate to exclusion, never inclusion
	if err := checkNegations(c, oc, tasks); err != nil {
		return err
	}

	return nil
}

var negationRe = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:ignore|exclude|skip|drop|avoid|don'?t work on|do not work on)\s+(.+?)\s*[.!]?\s*$`)

// fillerSuffixes are trailing words that broaden a negation phrase without
// narrowing its target ("ignore wishlist items" targets "wishlist").
var fillerSuffixes = []string{"items", "tasks", "stuff", "things", "work", "for now", "right now", "today"}

// negationTargets extracts the phrases a user asked to keep out of the plan.
func negationTargets(reflections []Reflection) []string {
	var targets []string
	for _, r := range reflections {
		m := negationRe.FindStringSubmatch(r.Text)
		if m == nil {
			continue
		}
		phrase := strings.ToLower(strings.TrimSpace(m[1]))
		for changed := true; changed; {
			changed = false
			for _, suf := range fillerSuffixes {
				if strings.HasSuffix(phrase, " "+suf) {
					phrase = strings.TrimSpace(strings.TrimSuffix(phrase, " "+suf))
					changed = true
				}
			}
		}
		phrase = strings.TrimPrefix(phrase, "the ")
		phrase = strings.TrimPrefix(phrase, "any ")
		phrase = strings.TrimPrefix(phrase, "all ")
		if phrase != "" {
			targets = append(targets, phrase)
		}
	}
	return targets
}

// checkNegations rejects candidates that include a task covered by a
// negation reflection. This was a real production failure mode (negations
// interpreted as boosts), so it is enforced at the boundary, not left to
// the prompt.
func checkNegations(c Candidate, oc OutcomeContext, tasks []Task) error {
	targets := negationTargets(oc.Reflections)
	if len(targets) == 0 {
		return nil
	}

	texts := make(map[string]string, len(tasks))
	for _, t := range tasks {
		texts[t.ID] = strings.ToLower(t.Text)
	}

	for _, id := range c.IncludedTaskIDs {
		text := texts[id]
		for _, target := range targets {
			if strings.Contains(text, target) {
				return &SchemaError{
					Stage:  "generator",
					Reason: fmt.Sprintf("task %q matches negation reflection %q but was included", id, target),
				}
			}
		}
	}
	return nil
}

// ParseVerdict is the only way raw evaluator output becomes a typed
// Verdict. The status is always derived server-side from the criteria
// scores; a status the model claims is ignored.
func ParseVerdict(raw json.RawMessage) (Verdict, error) {
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return Verdict{}, &SchemaError{Stage: "evaluator", Reason: "malformed JSON: " + err.Error()}
	}

	for name, cs := range map[string]CriterionScore{
		"outcome_alignment":      v.CriteriaScores.OutcomeAlignment,
		"strategic_coherence":    v.CriteriaScores.StrategicCoherence,
		"reflection_integration": v.CriteriaScores.ReflectionIntegration,
		"continuity":             v.CriteriaScores.Continuity,
	} {
		if cs.Score < 0 || cs.Score > 10 {
			return Verdict{}, &SchemaError{
				Stage:  "evaluator",
				Reason: fmt.Sprintf("criterion %s score out of [0,10]: %v", name, cs.Score),
			}
		}
	}

	v.Status = DeriveStatus(v.CriteriaScores)

	// Generic feedback is a contract violation but not worth failing the
	// run over: downgrade an approval so the loop gets one more chance to
	// obtain a critique that names the defect.
	if len(strings.TrimSpace(v.Feedback)) < 20 && v.Status == StatusPass {
		v.Status = StatusNeedsImprovement
		if strings.TrimSpace(v.Feedback) == "" {
			v.Feedback = "evaluator returned no actionable feedback; re-check inclusion/exclusion decisions against the goal"
		}
	}

	return v, nil
}
