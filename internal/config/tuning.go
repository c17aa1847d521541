package config

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoopTuning holds the heuristic knobs of the prioritization loop.
// The confidence thresholds are carried over from the product's history and
// their exact decision boundary is undocumented, so everything here is
// overridable from a YAML file instead of being hard-coded.
type LoopTuning struct {
	SkipEvalConfidence  float64 `yaml:"skip_eval_confidence"`  // >= this: trust generator, skip evaluation
	ForceEvalConfidence float64 `yaml:"force_eval_confidence"` // < this: always evaluate
	MaxIterations       int     `yaml:"max_iterations"`
	SoftCallTimeoutMS   int     `yaml:"soft_call_timeout_ms"`
	ServiceRetries      int     `yaml:"service_retries"`
	ServiceBackoffMS    int     `yaml:"service_backoff_ms"`
	RunTimeoutSec       int     `yaml:"run_timeout_sec"`
	MaxConcurrentRuns   int     `yaml:"max_concurrent_runs"`
}

func DefaultLoopTuning() LoopTuning {
	return LoopTuning{
		SkipEvalConfidence:  0.85,
		ForceEvalConfidence: 0.70,
		MaxIterations:       3,
		SoftCallTimeoutMS:   10_000,
		ServiceRetries:      3,
		ServiceBackoffMS:    500,
		RunTimeoutSec:       300,
		MaxConcurrentRuns:   8,
	}
}

func LoadLoopTuning(path string) (LoopTuning, error) {
	t := DefaultLoopTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read loop tuning: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse loop tuning: %w", err)
	}
	if err := t.validate(); err != nil {
		return DefaultLoopTuning(), err
	}
	return t, nil
}

func (t LoopTuning) validate() error {
	if t.SkipEvalConfidence < 0 || t.SkipEvalConfidence > 1 {
		return fmt.Errorf("skip_eval_confidence out of [0,1]: %v", t.SkipEvalConfidence)
	}
	if t.ForceEvalConfidence < 0 || t.ForceEvalConfidence > t.SkipEvalConfidence {
		return fmt.Errorf("force_eval_confidence must be in [0, skip_eval_confidence]: %v", t.ForceEvalConfidence)
	}
	if t.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1: %d", t.MaxIterations)
	}
	return nil
}

// TuningHolder serves the current LoopTuning to concurrent readers while a
// watcher goroutine swaps it on file changes.
type TuningHolder struct {
	mu sync.RWMutex
	t  LoopTuning
}

func NewTuningHolder(t LoopTuning) *TuningHolder {
	return &TuningHolder{t: t}
}

func (h *TuningHolder) Get() LoopTuning {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.t
}

func (h *TuningHolder) set(t LoopTuning) {
	h.mu.Lock()
	h.t = t
	h.mu.Unlock()
}

// WatchLoopTuning reloads the tuning file whenever it changes on disk.
// A broken edit keeps the last good values. Returns a stop function.
func WatchLoopTuning(path string, holder *TuningHolder) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				t, err := LoadLoopTuning(path)
				if err != nil {
					log.Printf("[WARN] loop tuning reload failed, keeping previous values: %v", err)
					continue
				}
				holder.set(t)
				log.Printf("[INFO] loop tuning reloaded skip=%.2f force=%.2f max_iter=%d",
					t.SkipEvalConfidence, t.ForceEvalConfidence, t.MaxIterations)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] loop tuning watcher error: %v", err)
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
