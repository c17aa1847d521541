package prioritize

import "fmt"

// Assemble merges the terminal candidate and the loop metadata into the
// persisted result shape. It re-checks the partition property one last
// time: a violation here means inter-stage state was corrupted, which is
// fatal and never retried.
func Assemble(c Candidate, tasks []Task, meta LoopMetadata) (Result, error) {
	if err := verifyPartition(c, tasks); err != nil {
		return Result{}, err
	}

	texts := make(map[string]string, len(tasks))
	for _, t := range tasks {
		texts[t.ID] = t.Text
	}

	included := make([]IncludedTask, 0, len(c.OrderedTaskIDs))
	for _, id := range c.OrderedTaskIDs {
		included = append(included, IncludedTask{
			TaskID:   id,
			TaskText: texts[id],
			Score:    c.PerTaskScores[id],
		})
	}

	return Result{
		IncludedTasks:         included,
		ExcludedTasks:         c.ExcludedTasks,
		OrderedTaskIDs:        c.OrderedTaskIDs,
		Confidence:            c.Confidence,
		Thoughts:              c.Thoughts,
		CriticalPathReasoning: c.CriticalPathReasoning,
		EvaluationMetadata:    meta,
	}, nil
}

func verifyPartition(c Candidate, tasks []Task) error {
	input := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		input[t.ID] = true
	}

	seen := make(map[string]bool, len(tasks))
	for _, id := range c.IncludedTaskIDs {
		if !input[id] {
			return &IntegrityError{Reason: fmt.Sprintf("included task %q not in input set", id)}
		}
		if seen[id] {
			return &IntegrityError{Reason: fmt.Sprintf("task %q present twice", id)}
		}
		seen[id] = true
		if _, ok := c.PerTaskScores[id]; !ok {
			return &IntegrityError{Reason: fmt.Sprintf("included task %q has no score", id)}
		}
	}
	for _, ex := range c.ExcludedTasks {
		if !input[ex.TaskID] {
			return &IntegrityError{Reason: fmt.Sprintf("excluded task %q not in input set", ex.TaskID)}
		}
		if seen[ex.TaskID] {
			return &IntegrityError{Reason: fmt.Sprintf("task %q present twice", ex.TaskID)}
		}
		seen[ex.TaskID] = true
	}
	if len(seen) != len(input) {
		return &IntegrityError{Reason: fmt.Sprintf("partition covers %d of %d input tasks", len(seen), len(input))}
	}
	if len(c.OrderedTaskIDs) != len(c.IncludedTaskIDs) {
		return &IntegrityError{Reason: "ordered_task_ids is not a permutation of included_task_ids"}
	}
	return nil
}
