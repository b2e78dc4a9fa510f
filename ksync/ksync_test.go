package ksync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// S6: donated priority. Thread L (10) holds lock K; thread H (50) blocks
// on K. While H waits, L's effective priority must read 50. Once L
// releases, L's effective priority returns to 10 and H acquires next.
func TestLockDonatesPriority(t *testing.T) {
	var k Lock
	low := NewThread(10)
	high := NewThread(50)

	k.Acquire(low)

	hBlocked := make(chan struct{})
	hDone := make(chan struct{})
	go func() {
		close(hBlocked)
		k.Acquire(high)
		close(hDone)
		k.Release(high)
	}()

	<-hBlocked
	require.Eventually(t, func() bool {
		return low.EffectivePriority() == 50
	}, time.Second, time.Millisecond, "low's priority should rise to the donor's")

	k.Release(low)

	select {
	case <-hDone:
	case <-time.After(time.Second):
		t.Fatal("high never acquired the lock")
	}
	require.Equal(t, 10, low.EffectivePriority(), "donation must be revoked on release")
}

func TestLockTransitiveDonation(t *testing.T) {
	var a, b Lock
	t1 := NewThread(1)
	t2 := NewThread(2)
	t3 := NewThread(3)

	a.Acquire(t1)
	b.Acquire(t2)

	blocked2 := make(chan struct{})
	go func() {
		close(blocked2)
		a.Acquire(t2) // t2 now waits on a, held by t1; donates to t1
	}()
	<-blocked2
	require.Eventually(t, func() bool { return t1.EffectivePriority() == 2 }, time.Second, time.Millisecond)

	blocked3 := make(chan struct{})
	go func() {
		close(blocked3)
		b.Acquire(t3) // t3 waits on b, held by t2; t2 donates onward to t1 transitively
	}()
	<-blocked3
	require.Eventually(t, func() bool { return t1.EffectivePriority() == 3 }, time.Second, time.Millisecond)
}

func TestTryAcquireNeverBlocksOrDonates(t *testing.T) {
	var l Lock
	low := NewThread(1)
	high := NewThread(99)
	l.Acquire(low)
	ok := l.TryAcquire(high)
	require.False(t, ok)
	require.Equal(t, 1, low.EffectivePriority(), "try_acquire must never donate")
}

func TestReleaseByNonHolderPanics(t *testing.T) {
	var l Lock
	a := NewThread(1)
	b := NewThread(1)
	l.Acquire(a)
	require.Panics(t, func() { l.Release(b) })
}

func TestSemaphoreWakesHighestPriorityWaiter(t *testing.T) {
	s := NewSema(0)
	order := make([]int, 0, 3)
	var mu sync.Mutex
	var grp errgroup.Group
	start := make(chan struct{})

	spawn := func(prio int) {
		grp.Go(func() error {
			th := NewThread(prio)
			<-start
			s.Down(th)
			mu.Lock()
			order = append(order, prio)
			mu.Unlock()
			return nil
		})
	}
	spawn(1)
	spawn(5)
	spawn(3)
	close(start)
	time.Sleep(50 * time.Millisecond) // let all three queue up on the semaphore

	caller := NewThread(0)
	s.Up(caller, false)
	s.Up(caller, false)
	s.Up(caller, false)
	require.NoError(t, grp.Wait())
	require.Equal(t, []int{5, 3, 1}, order)
}

func TestRWLockMutualExclusion(t *testing.T) {
	var rw RWLock
	var active int32
	var writerActive bool
	var mu sync.Mutex
	var grp errgroup.Group

	for i := 0; i < 8; i++ {
		grp.Go(func() error {
			th := NewThread(1)
			rw.ReadAcquire(th)
			mu.Lock()
			if writerActive {
				mu.Unlock()
				t.Error("reader active while writer active")
				rw.ReadRelease(th)
				return nil
			}
			active++
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			rw.ReadRelease(th)
			return nil
		})
	}
	for i := 0; i < 4; i++ {
		grp.Go(func() error {
			th := NewThread(1)
			rw.WriteAcquire(th)
			mu.Lock()
			if active != 0 || writerActive {
				mu.Unlock()
				t.Error("writer overlapped with another holder")
				rw.WriteRelease(th)
				return nil
			}
			writerActive = true
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			writerActive = false
			mu.Unlock()
			rw.WriteRelease(th)
			return nil
		})
	}
	require.NoError(t, grp.Wait())
}

func TestCondVarBroadcast(t *testing.T) {
	var l Lock
	var cv Cond
	ready := 0
	const n = 5
	var grp errgroup.Group
	owner := NewThread(1)

	for i := 0; i < n; i++ {
		grp.Go(func() error {
			th := NewThread(1)
			l.Acquire(th)
			for ready == 0 {
				cv.Wait(&l, th)
			}
			l.Release(th)
			return nil
		})
	}
	time.Sleep(50 * time.Millisecond)
	l.Acquire(owner)
	ready = 1
	woken := cv.Broadcast(&l, owner)
	l.Release(owner)
	require.Equal(t, n, woken)
	require.NoError(t, grp.Wait())
}
