// Package agent maps each task type to the sandbox invocation profile
// that runs it: which container image, how long it may run, and what
// resources and network access it gets.
package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreclaw/coreclaw/internal/sandbox"
)

// WorkerType describes one kind of task the system knows how to run,
// and the sandbox profile used to invoke it.
type WorkerType struct {
	Name    string
	Profile sandbox.Profile
}

// Registry looks up the invocation profile for a task type. It is
// safe for concurrent use; types are typically registered once at
// startup from configuration and read frequently by the queue.
type Registry struct {
	mu    sync.RWMutex
	types map[string]WorkerType
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]WorkerType)}
}

// Register adds or replaces the profile for a task type.
func (r *Registry) Register(wt WorkerType) error {
	if wt.Name == "" {
		return fmt.Errorf("worker type name must be non-empty")
	}
	if wt.Profile.Image == "" {
		return fmt.Errorf("worker type %q: profile image must be non-empty", wt.Name)
	}
	if wt.Profile.Timeout <= 0 {
		wt.Profile.Timeout = 5 * time.Minute
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[wt.Name] = wt
	return nil
}

// Unregister removes a task type.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.types, name)
}

// Profile returns the invocation profile for a task type.
func (r *Registry) Profile(taskType string) (sandbox.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wt, ok := r.types[taskType]
	return wt.Profile, ok
}

// Names returns every registered task type name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	return out
}

// DefaultWorkerTypes returns the built-in task types coreclaw ships
// with: a general business-reply worker and a research worker with
// outbound network access.
func DefaultWorkerTypes() []WorkerType {
	return []WorkerType{
		{
			Name: "reply",
			Profile: sandbox.Profile{
				Image:       "coreclaw/worker-reply:latest",
				MemoryMB:    512,
				NetworkMode: "none",
				Timeout:     2 * time.Minute,
			},
		},
		{
			Name: "research",
			Profile: sandbox.Profile{
				Image:       "coreclaw/worker-research:latest",
				MemoryMB:    1024,
				NetworkMode: "bridge",
				Timeout:     5 * time.Minute,
			},
		},
	}
}
