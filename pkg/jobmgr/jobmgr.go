// Package jobmgr runs named background jobs on a bounded number of workers,
// with cancellation, status callbacks and in-memory tracking of live jobs.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(4, func(msg string) {
//	    log.Println("JOB:", msg)
//	})
//	defer jm.Close()
//
//	err := jm.StartAsync("resolve:42", func(ctx context.Context) error {
//	    // do work until ctx is cancelled
//	    return nil
//	})
//
// Jobs beyond the worker limit wait for a free slot; StartAsync never blocks.
// No retry logic and no persistence. Jobs are removed on completion.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrClosed = errors.New("job manager is closed")

// Job represents a queued or running unit of work.
type Job struct {
	Name    string
	Cancel  context.CancelFunc
	running bool
}

// StatusReporter receives lifecycle events for jobs.
// Example messages:
//
//	queued:resolve:42
//	running:resolve:42
//	error:resolve:42:no match
//	done:resolve:42
type StatusReporter func(string)

// Manager orchestrates starting, stopping and tracking jobs.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	slots    chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	Reporter StatusReporter
}

// NewManager creates a Manager running at most workers jobs at once.
// The reporter callback may be nil.
func NewManager(workers int, reporter StatusReporter) *Manager {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:     make(map[string]*Job),
		slots:    make(chan struct{}, workers),
		ctx:      ctx,
		cancel:   cancel,
		Reporter: reporter,
	}
}

// StartAsync schedules a job and returns immediately. If a job with the same
// name is already queued or running, an error is returned.
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job '%s' is already running", name)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	job := &Job{Name: name, Cancel: cancel}
	m.jobs[name] = job
	m.wg.Add(1)
	m.mu.Unlock()

	m.report("queued:" + name)

	go func() {
		defer m.wg.Done()
		defer cancel()
		defer m.remove(name, job)

		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			m.report("error:" + name + ":" + ctx.Err().Error())
			return
		}
		defer func() { <-m.slots }()

		m.mu.Lock()
		job.running = true
		m.mu.Unlock()
		m.report("running:" + name)

		if err := runner(ctx); err != nil {
			m.report("error:" + name + ":" + err.Error())
		} else {
			m.report("done:" + name)
		}
	}()

	return nil
}

// Stop cancels a queued or running job by name.
// If the job is not known, an error is returned.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("job '%s' not running", name)
	}

	job.Cancel()
	delete(m.jobs, name)
	return nil
}

// Close cancels every job, waits for them to return and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// List returns the names of queued and running jobs, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Running returns how many jobs currently hold a worker slot.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range m.jobs {
		if j.running {
			n++
		}
	}
	return n
}

// Status returns a human-readable summary of active jobs.
// Example:
//
//	"Running jobs: resolve:1, resolve:2"
//
// If none are running: "No jobs are running."
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

func (m *Manager) remove(name string, job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Stop may have already removed it, and a new job may reuse the name.
	if m.jobs[name] == job {
		delete(m.jobs, name)
	}
}

func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
