package prioritize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"focusloop-backend/internal/analytics"
	"focusloop-backend/internal/config"
)

// SessionStore is the persistence surface the runner needs. *Store
// satisfies it; tests substitute an in-memory fake.
type SessionStore interface {
	HasRunningSession(ctx context.Context, userID int) (bool, error)
	CreateSession(ctx context.Context, userID int) (string, error)
	MarkCompleted(ctx context.Context, sessionID string, result Result) error
	MarkFailed(ctx context.Context, sessionID string, reason string) error
	LoadRunInput(ctx context.Context, userID int) (OutcomeContext, []Task, error)
}

// EventLogger records analytics events emitted by background runs.
type EventLogger interface {
	Log(ctx context.Context, userID int, eventName string, props map[string]any)
}

// Runner starts prioritization runs in the background and enforces the
// one-run-per-user rule plus a global concurrency cap. Poll the session
// store for completion.
type Runner struct {
	Store     SessionStore
	Generator Generator
	Evaluator Evaluator
	Tuning    *config.TuningHolder
	Events    EventLogger

	mu     sync.Mutex
	active map[int]bool
	sem    *semaphore.Weighted
}

func NewRunner(store SessionStore, g Generator, e Evaluator, tuning *config.TuningHolder, events EventLogger) *Runner {
	maxRuns := tuning.Get().MaxConcurrentRuns
	if maxRuns < 1 {
		maxRuns = 1
	}
	return &Runner{
		Store:     store,
		Generator: g,
		Evaluator: e,
		Tuning:    tuning,
		Events:    events,
		active:    make(map[int]bool),
		sem:       semaphore.NewWeighted(int64(maxRuns)),
	}
}

// Start validates the run input, creates a session record, and kicks off
// the loop in the background. Returns the session ID to poll. A user with
// a run already in flight gets ErrRunActive.
func (r *Runner) Start(ctx context.Context, userID int) (string, error) {
	if !r.claim(userID) {
		return "", ErrRunActive
	}

	// the in-process slot does not survive restarts; the DB check does
	running, err := r.Store.HasRunningSession(ctx, userID)
	if err != nil {
		r.release(userID)
		return "", err
	}
	if running {
		r.release(userID)
		return "", ErrRunActive
	}

	// surface missing-input errors synchronously so the caller gets a
	// clean 404 instead of a session that fails a second later
	oc, tasks, err := r.Store.LoadRunInput(ctx, userID)
	if err != nil {
		r.release(userID)
		return "", err
	}

	sessionID, err := r.Store.CreateSession(ctx, userID)
	if err != nil {
		r.release(userID)
		return "", err
	}

	go r.execute(userID, sessionID, oc, tasks)
	return sessionID, nil
}

func (r *Runner) claim(userID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[userID] {
		return false
	}
	r.active[userID] = true
	return true
}

func (r *Runner) release(userID int) {
	r.mu.Lock()
	delete(r.active, userID)
	r.mu.Unlock()
}

func (r *Runner) execute(userID int, sessionID string, oc OutcomeContext, tasks []Task) {
	defer r.release(userID)

	tuning := r.Tuning.Get()
	timeout := time.Duration(tuning.RunTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.fail(ctx, userID, sessionID, fmt.Errorf("run queue timed out: %w", err))
		return
	}
	defer r.sem.Release(1)

	controller := NewController(r.Generator, r.Evaluator, Thresholds{
		SkipEvaluation:  tuning.SkipEvalConfidence,
		ForceEvaluation: tuning.ForceEvalConfidence,
		MaxIterations:   tuning.MaxIterations,
	})
	controller.SoftCallTimeout = time.Duration(tuning.SoftCallTimeoutMS) * time.Millisecond

	result, err := controller.Run(ctx, oc, tasks)
	if err != nil {
		r.fail(ctx, userID, sessionID, err)
		return
	}

	if err := r.Store.MarkCompleted(ctx, sessionID, result); err != nil {
		log.Printf("[WARN] persisting prioritization result failed session=%s: %v", sessionID, err)
		return
	}

	if r.Events != nil {
		r.Events.Log(ctx, userID, "prioritization_completed", map[string]any{
			"session_id":           sessionID,
			"iterations":           result.EvaluationMetadata.Iterations,
			"converged":            result.EvaluationMetadata.Converged,
			"evaluation_triggered": result.EvaluationMetadata.EvaluationTriggered,
			"confidence_tier":      analytics.ConfidenceTier(result.Confidence),
			"duration_ms":          result.EvaluationMetadata.DurationMS,
		})
	}
}

func (r *Runner) fail(ctx context.Context, userID int, sessionID string, runErr error) {
	log.Printf("[WARN] prioritization run failed session=%s: %v", sessionID, runErr)

	// persist even when the run context is already dead
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := r.Store.MarkFailed(ctx, sessionID, runErr.Error()); err != nil {
		log.Printf("[WARN] marking session failed session=%s: %v", sessionID, err)
	}

	if r.Events != nil {
		var schemaErr *SchemaError
		var integrityErr *IntegrityError
		kind := "service"
		switch {
		case errors.As(runErr, &schemaErr):
			kind = "schema"
		case errors.As(runErr, &integrityErr):
			kind = "integrity"
		}
		r.Events.Log(ctx, userID, "prioritization_failed", map[string]any{
			"session_id": sessionID,
			"kind":       kind,
		})
	}
}
