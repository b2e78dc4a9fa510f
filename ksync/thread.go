// Package ksync implements the core's synchronization primitives: a
// counting semaphore, a lock with priority donation, a Mesa-style
// condition variable, and a reader/writer lock, per the spec's §4.A.
//
// The original design assumes a single processor, interrupt-driven
// scheduler where "mask interrupts" is how a thread makes a short
// bookkeeping update atomic. This package runs on goroutines instead, so
// every place the original would disable interrupts, a narrow
// sync.Mutex plays the same role: it protects the handful of fields
// (holder, donor set, waiter list) that the original protected by being
// the only thing allowed to run.
package ksync

import "sync"

// Thread is a schedulable entity that can hold locks, wait on them, and
// have priority donated to it. It plays the role of Pintos's
// struct thread restricted to the fields priority donation needs.
type Thread struct {
	mu        sync.Mutex
	base      int
	effective int
	donors    map[*Thread]struct{}
	blockedBy *Lock
}

// NewThread creates a thread with the given base priority.
func NewThread(basePriority int) *Thread {
	return &Thread{
		base:      basePriority,
		effective: basePriority,
		donors:    make(map[*Thread]struct{}),
	}
}

// BasePriority returns the thread's priority absent any donation.
func (t *Thread) BasePriority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.base
}

// EffectivePriority returns max(base, every current donor's effective
// priority), as last computed by recomputePriority.
func (t *Thread) EffectivePriority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effective
}

func (t *Thread) setBlockedBy(l *Lock) {
	t.mu.Lock()
	t.blockedBy = l
	t.mu.Unlock()
}

func (t *Thread) clearBlockedBy() {
	t.mu.Lock()
	t.blockedBy = nil
	t.mu.Unlock()
}

func (t *Thread) blockedOn() *Lock {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blockedBy
}

func (t *Thread) addDonor(d *Thread) {
	t.mu.Lock()
	t.donors[d] = struct{}{}
	t.mu.Unlock()
}

// removeDonorsBlockedOn deletes every donor of t that was waiting on l
// specifically, per Lock.Release's "remove from donors every thread that
// was blocked by this lock".
func (t *Thread) removeDonorsBlockedOn(l *Lock) {
	t.mu.Lock()
	for d := range t.donors {
		if d.blockedOn() == l {
			delete(t.donors, d)
		}
	}
	t.mu.Unlock()
}

// recompute sets t.effective from t.base and its current donors.
// It reports whether the value changed.
func (t *Thread) recompute() bool {
	t.mu.Lock()
	newp := t.base
	for d := range t.donors {
		if p := d.EffectivePriority(); p > newp {
			newp = p
		}
	}
	changed := newp != t.effective
	t.effective = newp
	t.mu.Unlock()
	return changed
}

// recomputePriority walks the donation chain starting at start, following
// blocked_by_lock -> holder links, recomputing each thread's effective
// priority in turn. The recursion is bounded by the chain length, per the
// design notes' re-architecture of the pointer-walk donation scheme.
func recomputePriority(start *Thread) {
	t := start
	for t != nil {
		t.recompute()
		l := t.blockedOn()
		if l == nil {
			return
		}
		next := l.holderThread()
		if next == nil || next == t {
			return
		}
		t = next
	}
}
