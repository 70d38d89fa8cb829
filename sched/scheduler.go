// Package sched is the concurrency harness: a single-worker scheduler
// draining timed and immediate tasks in FIFO order, plus the serial
// ActionQueue used for deferred stats work. Trading cycles and admin
// commands all run on the worker, which totally orders them.
package sched

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStopped is returned when work is submitted to a stopped scheduler.
var ErrStopped = errors.New("sched: scheduler stopped")

// Handle identifies a scheduled task for Remove.
type Handle int64

type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	timers map[Handle]*time.Timer
	next   Handle
	closed bool
	done   chan struct{}
}

func New() *Scheduler {
	s := &Scheduler{
		timers: make(map[Handle]*time.Timer),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *Scheduler) loop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.done)
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
	}
}

func (s *Scheduler) enqueue(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
	return true
}

func (s *Scheduler) newHandle() Handle {
	s.next++
	return s.next
}

// After schedules fn to run on the worker once, after d.
func (s *Scheduler) After(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	h := s.newHandle()
	s.timers[h] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, h)
		s.mu.Unlock()
		s.enqueue(fn)
	})
	return h
}

// Each schedules fn to run on the worker every d until removed.
func (s *Scheduler) Each(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	h := s.newHandle()
	s.armLocked(h, d, fn)
	return h
}

func (s *Scheduler) armLocked(h Handle, d time.Duration, fn func()) {
	s.timers[h] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if _, live := s.timers[h]; !live || s.closed {
			s.mu.Unlock()
			return
		}
		s.armLocked(h, d, fn)
		s.mu.Unlock()
		s.enqueue(fn)
	})
}

// Immediate enqueues fn onto the worker as soon as possible.
func (s *Scheduler) Immediate(fn func()) Handle {
	s.mu.Lock()
	h := s.newHandle()
	s.mu.Unlock()
	s.enqueue(fn)
	return h
}

// Remove cancels a pending or recurring task. Already-enqueued work
// still runs.
func (s *Scheduler) Remove(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
}

// Sync blocks until everything currently enqueued has run.
func (s *Scheduler) Sync() {
	ch := make(chan struct{})
	if !s.enqueue(func() { close(ch) }) {
		return
	}
	<-ch
}

// Stop cancels all timers, drains the queue and stops the worker.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	for h, t := range s.timers {
		t.Stop()
		delete(s.timers, h)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

// Worker is the "run this on the worker thread" facet of a scheduler.
type Worker struct {
	s *Scheduler
}

func (s *Scheduler) Worker() Worker { return Worker{s: s} }

// Run enqueues fn; false means the scheduler has stopped.
func (w Worker) Run(fn func()) bool { return w.s.enqueue(fn) }

// RunWait submits fn to the worker and blocks until it completes,
// propagating its error. A panic inside fn is captured and returned as
// an error rather than crossing the worker boundary.
func RunWait(w Worker, fn func() error) error {
	done := make(chan error, 1)
	ok := w.Run(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sched: task panic: %v", r)
			}
		}()
		done <- fn()
	})
	if !ok {
		return ErrStopped
	}
	return <-done
}
