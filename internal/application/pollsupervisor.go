package application

import (
	"context"
	"sync"
)

// PollSupervisor owns the background poll task of every in-flight run. Each
// run has at most one task; tasks are grouped by project so deleting a
// project can cancel all of them at once.
type PollSupervisor struct {
	parent context.Context
	stop   context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*pollTask // keyed by run ID
	closed bool
	wg     sync.WaitGroup
}

type pollTask struct {
	projectID string
	cancel    context.CancelFunc
}

// NewPollSupervisor creates an empty supervisor.
func NewPollSupervisor() *PollSupervisor {
	parent, stop := context.WithCancel(context.Background())
	return &PollSupervisor{
		parent: parent,
		stop:   stop,
		tasks:  make(map[string]*pollTask),
	}
}

// Schedule starts fn in its own goroutine for runID. It returns false
// without starting anything when the run already has a task or the
// supervisor has shut down. fn must return once its context is canceled.
func (s *PollSupervisor) Schedule(projectID, runID string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, exists := s.tasks[runID]; exists {
		return false
	}

	ctx, cancel := context.WithCancel(s.parent)
	task := &pollTask{projectID: projectID, cancel: cancel}
	s.tasks[runID] = task

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.remove(runID, task)
		fn(ctx)
	}()

	return true
}

// remove forgets a finished task unless it has already been replaced.
func (s *PollSupervisor) remove(runID string, task *pollTask) {
	task.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[runID] == task {
		delete(s.tasks, runID)
	}
}

// CancelRun stops the task of one run. It reports whether a task existed.
func (s *PollSupervisor) CancelRun(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[runID]
	if !ok {
		return false
	}
	task.cancel()
	delete(s.tasks, runID)
	return true
}

// CancelProject stops every task belonging to a project and returns how
// many were canceled.
func (s *PollSupervisor) CancelProject(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	canceled := 0
	for runID, task := range s.tasks {
		if task.projectID == projectID {
			task.cancel()
			delete(s.tasks, runID)
			canceled++
		}
	}
	return canceled
}

// Active reports whether runID currently has a task.
func (s *PollSupervisor) Active(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[runID]
	return ok
}

// Count returns the number of running tasks.
func (s *PollSupervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every task, refuses new ones, and waits for running
// tasks to return or ctx to expire.
func (s *PollSupervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
