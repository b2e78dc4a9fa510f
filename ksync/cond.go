package ksync

import "sync"

// Cond is a Mesa-style condition variable used with an external Lock,
// grounded on threads/synch.c's cond_wait/cond_signal (a private
// semaphore per waiter, enqueued on the condition variable).
type Cond struct {
	mu      sync.Mutex
	waiters []*condWaiter
}

type condWaiter struct {
	th   *Thread
	sema *Sema
}

// Wait atomically releases lock and blocks the calling thread until
// signaled, then reacquires lock before returning. As with all Mesa-style
// condition variables, the caller must recheck its predicate in a loop:
// a wakeup is advisory, not a guarantee the predicate now holds.
func (c *Cond) Wait(lock *Lock, th *Thread) {
	w := &condWaiter{th: th, sema: NewSema(0)}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	lock.Release(th)
	w.sema.Down(th)
	lock.Acquire(th)
}

// Signal wakes the single highest-priority waiter, if any, and reports
// whether a waiter was woken. lock must be held by th.
func (c *Cond) Signal(lock *Lock, th *Thread) bool {
	if lock.Holder() != th {
		panic("ksync: cond signal without holding lock")
	}
	c.mu.Lock()
	idx, best := -1, minInt
	for i, w := range c.waiters {
		if p := w.th.EffectivePriority(); p > best {
			best, idx = p, i
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	w := c.waiters[idx]
	c.waiters = append(c.waiters[:idx], c.waiters[idx+1:]...)
	c.mu.Unlock()

	w.sema.Up(th, false)
	return true
}

// Broadcast signals every current waiter and returns how many were woken.
func (c *Cond) Broadcast(lock *Lock, th *Thread) int {
	n := 0
	for c.Signal(lock, th) {
		n++
	}
	return n
}

// HasWaiters reports whether any thread is currently blocked in Wait.
func (c *Cond) HasWaiters() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters) > 0
}
