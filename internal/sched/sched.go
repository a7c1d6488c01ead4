// Package sched replaces the browser interval timers of the original
// runtime with stoppable periodic tasks. Tasks enqueue work onto the event
// pipeline rather than mutating shared state from arbitrary goroutines.
package sched

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// #region task
type task struct {
	ticker *time.Ticker
	stop   chan struct{}
}
// #endregion task

// #region scheduler-struct
// Scheduler owns a set of named periodic tasks. Close stops all of them and
// waits for in-flight runs to return.
type Scheduler struct {
	mu     sync.Mutex
	log    *zap.Logger
	tasks  map[string]*task
	wg     sync.WaitGroup
	closed bool
}
// #endregion scheduler-struct

// New returns an empty scheduler.
func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log, tasks: make(map[string]*task)}
}

// #region every
// Every runs fn on the given interval until Stop or Close. Registering a
// name twice replaces the previous task.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("sched: interval must be positive, got %v", interval)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("sched: scheduler closed")
	}
	if old, ok := s.tasks[name]; ok {
		old.ticker.Stop()
		close(old.stop)
	}
	t := &task{ticker: time.NewTicker(interval), stop: make(chan struct{})}
	s.tasks[name] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-t.ticker.C:
				fn()
			case <-t.stop:
				return
			}
		}
	}()

	s.log.Debug("scheduled task started", zap.String("task", name), zap.Duration("interval", interval))
	return nil
}
// #endregion every

// #region stop
// Stop cancels a single task. Unknown names are ignored.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.ticker.Stop()
		close(t.stop)
		delete(s.tasks, name)
	}
}

// Close stops every task and waits for running callbacks to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for name, t := range s.tasks {
		t.ticker.Stop()
		close(t.stop)
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
// #endregion stop
