package service

import (
	"context"
	"sync"
)

// PollRegistry tracks the cancel function of every worker poll in progress,
// keyed by task id.
type PollRegistry struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func NewPollRegistry() *PollRegistry {
	return &PollRegistry{m: make(map[string]context.CancelFunc)}
}

func (r *PollRegistry) Register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[taskID] = cancel
}

func (r *PollRegistry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, taskID)
}

// Cancel stops the poll for taskID and reports whether one was running.
func (r *PollRegistry) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.m[taskID]
	if !ok {
		return false
	}
	cancel()
	delete(r.m, taskID)
	return true
}

func (r *PollRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
