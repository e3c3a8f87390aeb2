package organizer

import (
	"fmt"
	"strings"

	"github.com/cloudchase/ollama-organizer/registry"
)

// Task identifies one model version to organize or delete.
type Task struct {
	Model   string `json:"model"`
	Version string `json:"version"`
}

// String renders the task the way Ollama names models: model:version.
func (t Task) String() string { return t.Model + ":" + t.Version }

// Validate rejects names that cannot address a manifest in the library tree.
func (t Task) Validate() error {
	if err := registry.ValidateName(t.Model); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := registry.ValidateName(t.Version); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	return nil
}

// ParseTask parses "model:version". The version is taken after the last
// colon; a bare model name means "latest".
func ParseTask(s string) (Task, error) {
	var t Task
	if i := strings.LastIndex(s, ":"); i >= 0 {
		t = Task{Model: s[:i], Version: s[i+1:]}
	} else {
		t = Task{Model: s, Version: "latest"}
	}
	if err := t.Validate(); err != nil {
		return Task{}, fmt.Errorf("invalid task %q: %w", s, err)
	}
	return t, nil
}

// TasksFromVersions converts listing results into tasks.
func TasksFromVersions(mvs []registry.ModelVersion) []Task {
	tasks := make([]Task, 0, len(mvs))
	for _, mv := range mvs {
		tasks = append(tasks, Task{Model: mv.Model, Version: mv.Version})
	}
	return tasks
}

// dedupe drops repeated tasks, keeping the first occurrence's position.
func dedupe(tasks []Task) []Task {
	seen := make(map[Task]struct{}, len(tasks))
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TaskError is a task-scoped failure. Its message has the form
// "<model>/<version> -> <cause>" and it unwraps to the registry sentinel.
type TaskError struct {
	Task Task
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s/%s -> %v", e.Task.Model, e.Task.Version, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
