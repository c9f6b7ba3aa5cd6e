// Package scheduler runs tasks one at a time on a single goroutine. Every
// index mutation goes through it, so writers never interleave.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("bibli.scheduler")

var ErrStopped = errors.New("scheduler stopped")

type Task struct {
	Name    string
	Execute func() error
}

type Scheduler struct {
	taskQueue       chan Task
	lowPriorityLock sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewScheduler creates a new Scheduler with the specified queue size
func NewScheduler(queueSize int) *Scheduler {
	return &Scheduler{
		taskQueue: make(chan Task, queueSize),
		stopChan:  make(chan struct{}),
	}
}

// RunScheduler starts the scheduler loop
func (s *Scheduler) RunScheduler() {
	go func() {
		for task := range s.taskQueue {
			s.execute(task)
		}
	}()
}

func (s *Scheduler) execute(task Task) {
	defer s.wg.Done()
	log.Debugf("executing %s task", task.Name)
	if err := task.Execute(); err != nil {
		log.Errorf("task %s failed: %v", task.Name, err)
	}
}

// enqueue blocks until the queue accepts task. With wait unset it gives up
// when the queue is full.
func (s *Scheduler) enqueue(task Task, wait bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}
	s.wg.Add(1)
	if wait {
		s.taskQueue <- task
		return nil
	}
	select {
	case s.taskQueue <- task:
		return nil
	default:
		s.wg.Done()
		return errQueueFull
	}
}

var errQueueFull = errors.New("queue is full")

// SchedulePeriodicTask queues lowTask now and then every interval. A tick
// is skipped while the previous run is still queued or running, or when
// the queue is full.
func (s *Scheduler) SchedulePeriodicTask(interval time.Duration, lowTask Task) {
	ticker := time.NewTicker(interval)

	guarded := Task{
		Name: lowTask.Name,
		Execute: func() error {
			defer s.lowPriorityLock.Unlock()
			return lowTask.Execute()
		},
	}
	trigger := func() {
		if !s.lowPriorityLock.TryLock() {
			log.Debugf("skipped scheduling %s, previous run pending", lowTask.Name)
			return
		}
		if err := s.enqueue(guarded, false); err != nil {
			s.lowPriorityLock.Unlock()
			log.Debugf("skipped scheduling %s: %v", lowTask.Name, err)
		}
	}

	go func() {
		defer ticker.Stop()
		trigger()
		for {
			select {
			case <-ticker.C:
				trigger()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// ScheduleHighPriorityTask runs a high-priority task asap
func (s *Scheduler) ScheduleHighPriorityTask(task Task) error {
	return s.enqueue(task, true)
}

// Do runs fn on the scheduler goroutine and waits for its result. It must
// not be called from inside a task.
func (s *Scheduler) Do(name string, fn func() error) error {
	done := make(chan error, 1)
	err := s.enqueue(Task{
		Name: name,
		Execute: func() error {
			err := fn()
			done <- err
			return err
		},
	}, true)
	if err != nil {
		return err
	}
	return <-done
}

// StopScheduler waits for all tasks to complete and stops the scheduler
func (s *Scheduler) StopScheduler() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	log.Info("stopping scheduler")
	s.stopped = true
	close(s.stopChan)
	close(s.taskQueue)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("scheduler stopped")
}
