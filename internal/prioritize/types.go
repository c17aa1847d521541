package prioritize

import "time"

// Task is the atomic unit of work under consideration. Immutable for the
// duration of one loop run.
type Task struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Reflection is a short, recency-weighted contextual note.
type Reflection struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"` // [0,1]
}

// OutcomeContext is supplied once per run and read-only.
type OutcomeContext struct {
	GoalText    string       `json:"goal_text"`
	Reflections []Reflection `json:"reflections"`
}

// TaskScore exists only for included tasks.
type TaskScore struct {
	TaskID         string   `json:"task_id"`
	Impact         float64  `json:"impact"`       // [0,10]
	EffortHours    float64  `json:"effort_hours"` // [0.5,160]
	Confidence     float64  `json:"confidence"`   // [0,1]
	Reasoning      string   `json:"reasoning"`
	BriefReasoning string   `json:"brief_reasoning"`
	Dependencies   []string `json:"dependencies,omitempty"`
}

// ExcludedTask exists only for excluded tasks.
type ExcludedTask struct {
	TaskID          string  `json:"task_id"`
	TaskText        string  `json:"task_text"`
	ExclusionReason string  `json:"exclusion_reason"`
	AlignmentScore  float64 `json:"alignment_score"` // [0,10]
}

// Thoughts is the generator's structured self-explanation.
type Thoughts struct {
	OutcomeAnalysis        string `json:"outcome_analysis"`
	FilteringRationale     string `json:"filtering_rationale"`
	PrioritizationStrategy string `json:"prioritization_strategy"`
	SelfCheckNotes         string `json:"self_check_notes"`
}

// Candidate is one full proposed prioritization produced by the generator
// in a single iteration.
type Candidate struct {
	IncludedTaskIDs       []string             `json:"included_task_ids"`
	ExcludedTasks         []ExcludedTask       `json:"excluded_tasks"`
	PerTaskScores         map[string]TaskScore `json:"per_task_scores"`
	OrderedTaskIDs        []string             `json:"ordered_task_ids"`
	Confidence            float64              `json:"confidence"` // [0,1]
	Thoughts              Thoughts             `json:"thoughts"`
	CriticalPathReasoning string               `json:"critical_path_reasoning"`
}

// VerdictStatus is the evaluator's overall judgement.
type VerdictStatus string

const (
	StatusPass             VerdictStatus = "PASS"
	StatusNeedsImprovement VerdictStatus = "NEEDS_IMPROVEMENT"
	StatusFail             VerdictStatus = "FAIL"
)

// CriterionScore is one of the four fixed critique axes.
type CriterionScore struct {
	Score float64 `json:"score"` // [0,10]
	Notes string  `json:"notes,omitempty"`
}

type CriteriaScores struct {
	OutcomeAlignment      CriterionScore `json:"outcome_alignment"`
	StrategicCoherence    CriterionScore `json:"strategic_coherence"`
	ReflectionIntegration CriterionScore `json:"reflection_integration"`
	Continuity            CriterionScore `json:"continuity"`
}

// Verdict is the evaluator's structured critique of a candidate.
type Verdict struct {
	Status         VerdictStatus  `json:"status"`
	Feedback       string         `json:"feedback"`
	CriteriaScores CriteriaScores `json:"criteria_scores"`
}

// ChainOfThoughtStep records one executed iteration for audit/debugging.
type ChainOfThoughtStep struct {
	Iteration         int       `json:"iteration"`  // [1,3]
	Confidence        float64   `json:"confidence"` // [0,1]
	Corrections       string    `json:"corrections"`
	EvaluatorFeedback string    `json:"evaluator_feedback,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// LoopMetadata describes how the run behaved.
type LoopMetadata struct {
	Iterations          int                  `json:"iterations"` // [1,3]
	DurationMS          int64                `json:"duration_ms"`
	EvaluationTriggered bool                 `json:"evaluation_triggered"`
	ChainOfThought      []ChainOfThoughtStep `json:"chain_of_thought"`
	Converged           bool                 `json:"converged"`
	FinalConfidence     float64              `json:"final_confidence"`
}

// IncludedTask is the persisted projection of one included task.
type IncludedTask struct {
	TaskID   string    `json:"task_id"`
	TaskText string    `json:"task_text"`
	Score    TaskScore `json:"score"`
}

// Result is the unit persisted per run. A new run always produces an
// entirely new Result; nothing is edited in place.
type Result struct {
	IncludedTasks         []IncludedTask `json:"included_tasks"`
	ExcludedTasks         []ExcludedTask `json:"excluded_tasks"`
	OrderedTaskIDs        []string       `json:"ordered_task_ids"`
	Confidence            float64        `json:"confidence"`
	Thoughts              Thoughts       `json:"thoughts"`
	CriticalPathReasoning string         `json:"critical_path_reasoning"`
	EvaluationMetadata    LoopMetadata   `json:"evaluation_metadata"`
}

// DeriveStatus maps the four criteria scores onto a verdict status.
// PASS iff every criterion is >= 7; FAIL iff any criterion is < 5
// (hard quality floor); otherwise NEEDS_IMPROVEMENT.
func DeriveStatus(cs CriteriaScores) VerdictStatus {
	scores := []float64{
		cs.OutcomeAlignment.Score,
		cs.StrategicCoherence.Score,
		cs.ReflectionIntegration.Score,
		cs.Continuity.Score,
	}

	pass := true
	for _, s := range scores {
		if s < 5 {
			return StatusFail
		}
		if s < 7 {
			pass = false
		}
	}
	if pass {
		return StatusPass
	}
	return StatusNeedsImprovement
}
