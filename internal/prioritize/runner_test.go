package prioritize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusloop-backend/internal/config"
)

type memorySession struct {
	userID int
	status string
	result Result
	reason string
}

// memoryStore is an in-memory SessionStore for runner tests.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	oc       OutcomeContext
	tasks    []Task
	loadErr  error
	nextID   int
}

func newMemoryStore(oc OutcomeContext, tasks []Task) *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*memorySession),
		oc:       oc,
		tasks:    tasks,
	}
}

func (s *memoryStore) HasRunningSession(_ context.Context, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.userID == userID && sess.status == SessionRunning {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) CreateSession(_ context.Context, userID int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("session-%d", s.nextID)
	s.sessions[id] = &memorySession{userID: userID, status: SessionRunning}
	return id, nil
}

func (s *memoryStore) MarkCompleted(_ context.Context, sessionID string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return errors.New("unknown session")
	}
	sess.status = SessionCompleted
	sess.result = result
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, sessionID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return errors.New("unknown session")
	}
	sess.status = SessionFailed
	sess.reason = reason
	return nil
}

func (s *memoryStore) LoadRunInput(_ context.Context, _ int) (OutcomeContext, []Task, error) {
	if s.loadErr != nil {
		return OutcomeContext{}, nil, s.loadErr
	}
	return s.oc, s.tasks, nil
}

func (s *memoryStore) get(sessionID string) memorySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sessions[sessionID]
}

// blockingGenerator holds every call until released.
type blockingGenerator struct {
	release chan struct{}
	cand    Candidate
}

func (g *blockingGenerator) Generate(ctx context.Context, _ OutcomeContext, _ []Task, _ *Refinement) (Candidate, error) {
	select {
	case <-g.release:
		return g.cand, nil
	case <-ctx.Done():
		return Candidate{}, ctx.Err()
	}
}

type recordedEvent struct {
	userID int
	name   string
	props  map[string]any
}

type memoryEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *memoryEvents) Log(_ context.Context, userID int, eventName string, props map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, recordedEvent{userID: userID, name: eventName, props: props})
	l.mu.Unlock()
}

func (l *memoryEvents) named(name string) []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []recordedEvent
	for _, ev := range l.events {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}

func testHolder() *config.TuningHolder {
	return config.NewTuningHolder(config.DefaultLoopTuning())
}

func TestRunnerCompletesAndPersists(t *testing.T) {
	store := newMemoryStore(OutcomeContext{GoalText: "launch"}, testTasks())
	events := &memoryEvents{}
	g := &scriptedGenerator{candidates: []Candidate{candidateWithConfidence(0.9)}}

	runner := NewRunner(store, g, &scriptedEvaluator{}, testHolder(), events)

	sessionID, err := runner.Start(context.Background(), 42)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	require.Eventually(t, func() bool {
		return store.get(sessionID).status == SessionCompleted
	}, 2*time.Second, 10*time.Millisecond)

	sess := store.get(sessionID)
	assert.Equal(t, 42, sess.userID)
	assert.Equal(t, 0.9, sess.result.Confidence)
	assert.Equal(t, 1, sess.result.EvaluationMetadata.Iterations)

	require.Eventually(t, func() bool {
		return len(events.named("prioritization_completed")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	ev := events.named("prioritization_completed")[0]
	assert.Equal(t, 42, ev.userID)
	assert.Equal(t, sessionID, ev.props["session_id"])
	assert.Equal(t, "high", ev.props["confidence_tier"])
}

func TestRunnerRejectsConcurrentRunForSameUser(t *testing.T) {
	store := newMemoryStore(OutcomeContext{GoalText: "launch"}, testTasks())
	g := &blockingGenerator{release: make(chan struct{}), cand: candidateWithConfidence(0.9)}

	runner := NewRunner(store, g, &scriptedEvaluator{}, testHolder(), nil)

	sessionID, err := runner.Start(context.Background(), 7)
	require.NoError(t, err)

	_, err = runner.Start(context.Background(), 7)
	assert.ErrorIs(t, err, ErrRunActive)

	// a different user is unaffected
	otherID, err := runner.Start(context.Background(), 8)
	require.NoError(t, err)
	assert.NotEqual(t, sessionID, otherID)

	close(g.release)
	require.Eventually(t, func() bool {
		return store.get(sessionID).status == SessionCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// slot is free again after completion
	require.Eventually(t, func() bool {
		_, err := runner.Start(context.Background(), 7)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunnerSurfacesMissingInputSynchronously(t *testing.T) {
	store := newMemoryStore(OutcomeContext{}, nil)
	store.loadErr = ErrNoOutcome

	runner := NewRunner(store, &scriptedGenerator{}, &scriptedEvaluator{}, testHolder(), nil)

	_, err := runner.Start(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoOutcome)

	// the failed precondition must not leak a claimed slot
	store.loadErr = nil
	store.oc = OutcomeContext{GoalText: "launch"}
	store.tasks = testTasks()
	_, err = runner.Start(context.Background(), 1)
	assert.NotErrorIs(t, err, ErrRunActive)
}

func TestRunnerMarksFailureWithKind(t *testing.T) {
	store := newMemoryStore(OutcomeContext{GoalText: "launch"}, testTasks())
	events := &memoryEvents{}
	g := &scriptedGenerator{errs: []error{
		fmt.Errorf("generate: %w", &SchemaError{Stage: "generator", Reason: "bad partition"}),
	}}

	runner := NewRunner(store, g, &scriptedEvaluator{}, testHolder(), events)

	sessionID, err := runner.Start(context.Background(), 3)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.get(sessionID).status == SessionFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, store.get(sessionID).reason, "bad partition")

	require.Eventually(t, func() bool {
		return len(events.named("prioritization_failed")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	ev := events.named("prioritization_failed")[0]
	assert.Equal(t, "schema", ev.props["kind"])
}
