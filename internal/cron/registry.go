package cron

import (
	"context"
	"sync"
	"time"
)

// Job represents a scheduled task that runs inside the sync worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job   Job
	every time.Duration
	next  time.Time
}

// Registry tracks registered jobs and when each is next due. A job with no
// period runs on every cycle of the service.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
}

// NewRegistry builds a registry whose jobs run on every cycle.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job that runs on every cycle.
func (r *Registry) Register(job Job) {
	r.Schedule(job, 0)
}

// Schedule adds a job that runs at most once per period. It is due on the
// first cycle after registration.
func (r *Registry) Schedule(job Job, every time.Duration) {
	if job == nil {
		return
	}
	if every < 0 {
		every = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{job: job, every: every})
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// Due returns the jobs due at now, in registration order, and moves each
// one's next run a full period ahead.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, e := range r.entries {
		if e.every > 0 && now.Before(e.next) {
			continue
		}
		due = append(due, e.job)
		if e.every > 0 {
			e.next = now.Add(e.every)
		}
	}
	return due
}
