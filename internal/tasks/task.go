// Package tasks is a small asynchronous task framework: tasks are registered under
// a stable name, dispatched as messages onto named queues, and executed by a
// worker that applies each task's retry policy.
//
// A task opts into retries by wrapping its handler with Retry. The worker then
// reschedules the message after the task's DefaultRetryDelay, at most MaxRetries
// times after the first attempt, and records a FAILURE once they are exhausted.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultQueue is used for tasks registered without a queue.
const DefaultQueue = "default"

// Handler runs one attempt of a task. Unknown payload keys must be ignored.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Task is a named, asynchronously dispatchable unit of work.
type Task struct {
	Name              string
	Queue             string
	DefaultRetryDelay time.Duration
	MaxRetries        int
	Handler           Handler
}

// Registry holds tasks by name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task. Names must be unique and non-empty.
func (r *Registry) Register(t Task) error {
	if t.Name == "" {
		return errors.New("task name required")
	}
	if t.Handler == nil {
		return fmt.Errorf("task %q: handler required", t.Name)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("task %q: max retries must be >= 0", t.Name)
	}
	if t.Queue == "" {
		t.Queue = DefaultQueue
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.Name]; ok {
		return fmt.Errorf("task %q already registered", t.Name)
	}
	r.tasks[t.Name] = t
	return nil
}

// Lookup returns the task registered under name.
func (r *Registry) Lookup(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Tasks returns every registered task sorted by name.
func (r *Registry) Tasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Queues returns the distinct queues of the registered tasks, sorted.
func (r *Registry) Queues() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range r.Tasks() {
		if !seen[t.Queue] {
			seen[t.Queue] = true
			out = append(out, t.Queue)
		}
	}
	sort.Strings(out)
	return out
}
