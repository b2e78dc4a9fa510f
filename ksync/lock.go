package ksync

import (
	"runtime"
	"sync"
)

// Lock is a mutual-exclusion lock with priority donation, grounded on
// threads/synch.c's lock_acquire/lock_release (the donation chain there
// is walked via raw thread pointers; here it is walked via Thread
// methods, see thread.go's recomputePriority).
//
// Unlike Sema, Lock keeps its own waiter list under a single mutex
// instead of delegating to a Sema, because the holder handoff on release
// must be atomic with picking the next waiter: if it went through a
// generic Down/Up pair the new holder would not be recorded until after
// the waiter woke, leaving a window where a concurrent Acquire could
// observe "nobody holds this lock" and take it out of turn.
type Lock struct {
	mu      sync.Mutex
	holder  *Thread
	waiters []*lockWaiter
}

type lockWaiter struct {
	th *Thread
	ch chan struct{}
}

// Acquire blocks until the calling thread holds the lock. If the lock is
// held, the caller's priority is donated (transitively) to the current
// holder for the duration of the wait.
func (l *Lock) Acquire(th *Thread) {
	l.mu.Lock()
	if l.holder == nil {
		l.holder = th
		l.mu.Unlock()
		return
	}
	if l.holder == th {
		l.mu.Unlock()
		panic("ksync: lock is not recursive")
	}
	holder := l.holder
	w := &lockWaiter{th: th, ch: make(chan struct{}, 1)}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	th.setBlockedBy(l)
	holder.addDonor(th)
	recomputePriority(holder)

	<-w.ch
	// Release already recorded us as holder before signalling.
	th.clearBlockedBy()
}

// TryAcquire acquires the lock without blocking and without donating
// priority, reporting whether it succeeded.
func (l *Lock) TryAcquire(th *Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == nil {
		l.holder = th
		return true
	}
	return false
}

// Release releases a lock held by th, waking the highest-priority waiter
// if any. It panics if th does not hold the lock.
func (l *Lock) Release(th *Thread) {
	l.mu.Lock()
	if l.holder != th {
		l.mu.Unlock()
		panic("ksync: release by non-holder")
	}
	th.removeDonorsBlockedOn(l)

	idx, best := -1, minInt
	for i, w := range l.waiters {
		if p := w.th.EffectivePriority(); p > best {
			best, idx = p, i
		}
	}
	if idx < 0 {
		l.holder = nil
		l.mu.Unlock()
		recomputePriority(th)
		return
	}
	w := l.waiters[idx]
	l.waiters = append(l.waiters[:idx], l.waiters[idx+1:]...)
	l.holder = w.th
	l.mu.Unlock()

	recomputePriority(th)
	w.ch <- struct{}{}
	if w.th.EffectivePriority() > th.EffectivePriority() {
		runtime.Gosched()
	}
}

// Holder returns the thread currently holding the lock, or nil.
func (l *Lock) Holder() *Thread {
	return l.holderThread()
}

func (l *Lock) holderThread() *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}
