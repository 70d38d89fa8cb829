package sched

import (
	"sync"
	"time"
)

// ActionQueue serializes deferred work onto the scheduler at a one
// second cadence. Pushes are allowed from any goroutine; callbacks run
// on the worker, in order, at most one drain per second. Expensive
// stats work accumulates here without blocking trading cycles.
type ActionQueue struct {
	sch *Scheduler

	mu    sync.Mutex
	fns   []func()
	armed bool
}

func NewActionQueue(sch *Scheduler) *ActionQueue {
	return &ActionQueue{sch: sch}
}

func (q *ActionQueue) Push(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	arm := !q.armed
	q.armed = true
	q.mu.Unlock()
	if arm {
		q.goon()
	}
}

func (q *ActionQueue) goon() {
	q.sch.After(time.Second, q.exec)
}

// exec drains the queue once, then re-arms the timer iff more work
// arrived meanwhile.
func (q *ActionQueue) exec() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}

	q.mu.Lock()
	if len(q.fns) > 0 {
		q.mu.Unlock()
		q.goon()
		return
	}
	q.armed = false
	q.mu.Unlock()
}
