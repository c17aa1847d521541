package prioritize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator returns pre-built candidates in order and records the
// refinement input of each call.
type scriptedGenerator struct {
	candidates []Candidate
	errs       []error
	calls      int
	refinement []*Refinement
}

func (g *scriptedGenerator) Generate(_ context.Context, _ OutcomeContext, _ []Task, prior *Refinement) (Candidate, error) {
	i := g.calls
	g.calls++
	g.refinement = append(g.refinement, prior)
	if i < len(g.errs) && g.errs[i] != nil {
		return Candidate{}, g.errs[i]
	}
	if i >= len(g.candidates) {
		return Candidate{}, errors.New("generator called more times than scripted")
	}
	return g.candidates[i], nil
}

type scriptedEvaluator struct {
	verdicts []Verdict
	errs     []error
	calls    int
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, _ OutcomeContext, _ Candidate) (Verdict, error) {
	i := e.calls
	e.calls++
	if i < len(e.errs) && e.errs[i] != nil {
		return Verdict{}, e.errs[i]
	}
	if i >= len(e.verdicts) {
		return Verdict{}, errors.New("evaluator called more times than scripted")
	}
	return e.verdicts[i], nil
}

func candidateWithConfidence(conf float64) Candidate {
	c := validCandidate()
	c.Confidence = conf
	return c
}

func verdictWithStatus(status VerdictStatus, feedback string) Verdict {
	return Verdict{Status: status, Feedback: feedback}
}

func runLoop(t *testing.T, g *scriptedGenerator, e *scriptedEvaluator, oc OutcomeContext) (Result, error) {
	t.Helper()
	ctrl := NewController(g, e, DefaultThresholds())
	return ctrl.Run(context.Background(), oc, testTasks())
}

func TestRunRejectsEmptyInput(t *testing.T) {
	ctrl := NewController(&scriptedGenerator{}, &scriptedEvaluator{}, DefaultThresholds())

	_, err := ctrl.Run(context.Background(), OutcomeContext{GoalText: "launch"}, nil)
	assert.ErrorIs(t, err, ErrNoTasks)

	_, err = ctrl.Run(context.Background(), OutcomeContext{GoalText: "   "}, testTasks())
	assert.ErrorIs(t, err, ErrNoOutcome)
}

func TestHighConfidenceSkipsEvaluation(t *testing.T) {
	g := &scriptedGenerator{candidates: []Candidate{candidateWithConfidence(0.9)}}
	e := &scriptedEvaluator{}

	res, err := runLoop(t, g, e, OutcomeContext{GoalText: "launch"})
	require.NoError(t, err)

	assert.Equal(t, 1, g.calls)
	assert.Equal(t, 0, e.calls)
	assert.Equal(t, 1, res.EvaluationMetadata.Iterations)
	assert.False(t, res.EvaluationMetadata.EvaluationTriggered)
	// a skipped evaluation never counts as convergence
	assert.False(t, res.EvaluationMetadata.Converged)
	assert.Equal(t, 0.9, res.EvaluationMetadata.FinalConfidence)
	require.Len(t, res.EvaluationMetadata.ChainOfThought, 1)
	assert.Equal(t, "initial candidate", res.EvaluationMetadata.ChainOfThought[0].Corrections)
}

func TestLowConfidenceLoopsToConvergence(t *testing.T) {
	g := &scriptedGenerator{candidates: []Candidate{
		candidateWithConfidence(0.60),
		candidateWithConfidence(0.65),
		candidateWithConfidence(0.78),
	}}
	e := &scriptedEvaluator{verdicts: []Verdict{
		verdictWithStatus(StatusNeedsImprovement, "reflection about deferring marketing is not honored"),
		verdictWithStatus(StatusNeedsImprovement, "ordering ignores the dependency between t1 and t3"),
		verdictWithStatus(StatusPass, "inclusion, ordering and reflections all line up with the goal"),
	}}

	res, err := runLoop(t, g, e, OutcomeContext{GoalText: "launch"})
	require.NoError(t, err)

	assert.Equal(t, 3, g.calls)
	assert.Equal(t, 3, e.calls)
	assert.Equal(t, 3, res.EvaluationMetadata.Iterations)
	assert.True(t, res.EvaluationMetadata.EvaluationTriggered)
	assert.True(t, res.EvaluationMetadata.Converged)
	assert.Equal(t, 0.78, res.Confidence)

	steps := res.EvaluationMetadata.ChainOfThought
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i+1, step.Iteration)
		assert.NotEmpty(t, step.EvaluatorFeedback)
	}

	// refinement calls must carry the previous candidate and feedback
	require.Len(t, g.refinement, 3)
	assert.Nil(t, g.refinement[0])
	require.NotNil(t, g.refinement[1])
	assert.Equal(t, "reflection about deferring marketing is not honored", g.refinement[1].Feedback)
	assert.Equal(t, 0.60, g.refinement[1].Candidate.Confidence)
	require.NotNil(t, g.refinement[2])
	assert.Equal(t, 0.65, g.refinement[2].Candidate.Confidence)
}

func TestBudgetExhaustionReturnsBestUnconverged(t *testing.T) {
	g := &scriptedGenerator{candidates: []Candidate{
		candidateWithConfidence(0.55),
		candidateWithConfidence(0.68), // best
		candidateWithConfidence(0.62),
	}}
	e := &scriptedEvaluator{verdicts: []Verdict{
		verdictWithStatus(StatusNeedsImprovement, "first candidate misses the goal's revenue emphasis"),
		verdictWithStatus(StatusNeedsImprovement, "second candidate still under-weights the billing work"),
		verdictWithStatus(StatusNeedsImprovement, "third candidate regressed on task ordering"),
	}}

	res, err := runLoop(t, g, e, OutcomeContext{GoalText: "launch"})
	require.NoError(t, err)

	assert.Equal(t, 3, g.calls)
	assert.Equal(t, 3, res.EvaluationMetadata.Iterations)
	assert.False(t, res.EvaluationMetadata.Converged)
	// the best candidate, not the last one, survives
	assert.Equal(t, 0.68, res.Confidence)
	assert.NotEmpty(t, res.IncludedTasks)
}

func TestAdversarialEvaluatorCannotExtendLoop(t *testing.T) {
	// an evaluator that never approves gets exactly MaxIterations chances
	g := &scriptedGenerator{candidates: []Candidate{
		candidateWithConfidence(0.5),
		candidateWithConfidence(0.5),
		candidateWithConfidence(0.5),
	}}
	e := &scriptedEvaluator{verdicts: []Verdict{
		verdictWithStatus(StatusNeedsImprovement, "rejecting everything on principle, candidate one"),
		verdictWithStatus(StatusNeedsImprovement, "rejecting everything on principle, candidate two"),
		verdictWithStatus(StatusNeedsImprovement, "rejecting everything on principle, candidate three"),
	}}

	res, err := runLoop(t, g, e, OutcomeContext{GoalText: "launch"})
	require.NoError(t, err)
	assert.Equal(t, 3, g.calls)
	assert.Equal(t, 3, e.calls)
	assert.False(t, res.EvaluationMetadata.Converged)
}

func TestFailVerdictStopsRefinement(t *testing.T) {
	g := &scriptedGenerator{candidates: []Candidate{candidateWithConfidence(0.5)}}
	e := &scriptedEvaluator{verdicts: []Verdict{
		verdictWithStatus(StatusFail, "the candidate contradicts the active outcome outright"),
	}}

	res, err := runLoop(t, g, e, OutcomeContext{GoalText: "launch"})
	require.NoError(t, err)

	assert.Equal(t, 1, g.calls)
	assert.Equal(t, 1, e.calls)
	assert.False(t, res.EvaluationMetadata.Converged)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestGrayZoneEvaluationHeuristic(t *testing.T) {
	ctrl := NewController(nil, nil, DefaultThresholds())

	withExclusions := candidateWithConfidence(0.78)

	noExclusions := candidateWithConfidence(0.78)
	noExclusions.IncludedTaskIDs = []string{"t1", "t2", "t3"}
	noExclusions.ExcludedTasks = nil

	weighted := OutcomeContext{GoalText: "launch", Reflections: []Reflection{{Text: "protect focus time", Weight: 0.8}}}
	light := OutcomeContext{GoalText: "launch", Reflections: []Reflection{{Text: "slept badly", Weight: 0.2}}}

	// strongly weighted reflections always trigger a critique in the gray zone
	assert.True(t, ctrl.shouldEvaluate(withExclusions, weighted))
	// with only light reflections, a candidate that filtered something is trusted
	assert.False(t, ctrl.shouldEvaluate(withExclusions, light))
	// a candidate that excluded nothing is suspicious
	assert.True(t, ctrl.shouldEvaluate(noExclusions, light))
	// outside the gray zone the confidence gates win
	assert.False(t, ctrl.shouldEvaluate(candidateWithConfidence(0.85), weighted))
	assert.True(t, ctrl.shouldEvaluate(candidateWithConfidence(0.69), light))
}

func TestGeneratorErrorAbortsRun(t *testing.T) {
	wantErr := errors.New("generator output invalid after retry")
	g := &scriptedGenerator{errs: []error{wantErr}}

	_, err := runLoop(t, g, &scriptedEvaluator{}, OutcomeContext{GoalText: "launch"})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestEvaluatorErrorAbortsRun(t *testing.T) {
	wantErr := errors.New("evaluator retry call")
	g := &scriptedGenerator{candidates: []Candidate{candidateWithConfidence(0.5)}}
	e := &scriptedEvaluator{errs: []error{wantErr}}

	_, err := runLoop(t, g, e, OutcomeContext{GoalText: "launch"})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestDescribeCorrections(t *testing.T) {
	prev := validCandidate()

	next := validCandidate()
	next.IncludedTaskIDs = []string{"t1", "t2"}
	next.ExcludedTasks = []ExcludedTask{{TaskID: "t3", AlignmentScore: 3}}
	next.PerTaskScores = map[string]TaskScore{
		"t1": prev.PerTaskScores["t1"],
		"t2": {TaskID: "t2", Impact: 5, EffortHours: 2, Confidence: 0.6},
	}
	next.OrderedTaskIDs = []string{"t2", "t1"}

	summary := describeCorrections(prev, next)
	assert.Contains(t, summary, "included t2")
	assert.Contains(t, summary, "excluded t3")
	assert.Contains(t, summary, "reordered")

	assert.Equal(t,
		"revised scores and reasoning without changing the task partition",
		describeCorrections(prev, prev))
}
