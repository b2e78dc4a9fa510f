package ksync

import (
	"runtime"
	"sync"
)

// Sema is a counting semaphore with priority-ordered wakeup, grounded on
// threads/synch.c's sema_down/sema_up (the waiter list there is a plain
// FIFO list of blocked threads; this keeps the same shape but wakes the
// highest effective priority waiter rather than the oldest one, matching
// the spec's explicit "up selects the highest-priority waiter").
//
// mu stands in for "interrupts disabled": every state mutation below
// happens while it is held.
type Sema struct {
	mu      sync.Mutex
	value   int
	waiters []*semaWaiter
}

type semaWaiter struct {
	th *Thread
	ch chan struct{}
}

// NewSema creates a semaphore with the given initial value.
func NewSema(value int) *Sema {
	return &Sema{value: value}
}

// Down decrements the semaphore, blocking the calling thread until the
// value is positive. It rechecks the value after every wakeup since a
// single Up may have been intercepted by a higher-priority late arrival.
func (s *Sema) Down(th *Thread) {
	s.mu.Lock()
	for s.value == 0 {
		w := &semaWaiter{th: th, ch: make(chan struct{}, 1)}
		s.waiters = append(s.waiters, w)
		s.mu.Unlock()
		<-w.ch
		s.mu.Lock()
	}
	s.value--
	s.mu.Unlock()
}

// TryDown decrements the semaphore without blocking, reporting success.
func (s *Sema) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Up increments the semaphore and wakes the highest-priority waiter, if
// any. interruptCtx suppresses the yield-on-priority-inversion behavior,
// matching the restriction that only try_down/up/signal/broadcast may run
// from interrupt context (§5) — callers simulating an ISR pass true.
func (s *Sema) Up(th *Thread, interruptCtx bool) {
	s.mu.Lock()
	s.value++
	idx, best := -1, minInt
	for i, w := range s.waiters {
		if p := w.th.EffectivePriority(); p > best {
			best, idx = p, i
		}
	}
	var woken *semaWaiter
	if idx >= 0 {
		woken = s.waiters[idx]
		s.waiters = append(s.waiters[:idx], s.waiters[idx+1:]...)
	}
	s.mu.Unlock()

	if woken == nil {
		return
	}
	woken.ch <- struct{}{}
	if !interruptCtx && th != nil && woken.th.EffectivePriority() > th.EffectivePriority() {
		runtime.Gosched()
	}
}

const minInt = -1 << 62
