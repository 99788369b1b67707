package cmn

import (
	"sync"
	"time"
)

// StopCh is a specialized channel for broadcasting a single stop signal;
// Close is idempotent, matching the work-queue worker-loop shutdown
// pattern (§4.G: shutdown signals the worker then joins).
type StopCh struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopCh() *StopCh {
	return &StopCh{ch: make(chan struct{})}
}

func (sc *StopCh) Listen() <-chan struct{} { return sc.ch }

func (sc *StopCh) Close() {
	sc.once.Do(func() { close(sc.ch) })
}

// TimeoutGroup is a sync.WaitGroup variant that can be waited on with a
// timeout.
//
// WARNING: not safe to wait from multiple goroutines concurrently.
type TimeoutGroup struct {
	mu       sync.Mutex
	jobsLeft int
	posted   bool
	fin      chan struct{}
}

func NewTimeoutGroup() *TimeoutGroup {
	return &TimeoutGroup{fin: make(chan struct{}, 1)}
}

func (tg *TimeoutGroup) Add(delta int) {
	tg.mu.Lock()
	tg.jobsLeft += delta
	tg.mu.Unlock()
}

// Done decrements the outstanding-jobs counter; at zero it posts the fin
// signal exactly once.
func (tg *TimeoutGroup) Done() {
	tg.mu.Lock()
	tg.jobsLeft--
	post := tg.jobsLeft <= 0 && !tg.posted
	if post {
		tg.posted = true
	}
	tg.mu.Unlock()
	if post {
		tg.fin <- struct{}{}
	}
}

// WaitTimeout blocks until Done has brought the counter to zero or the
// timeout elapses, reporting whether it timed out.
func (tg *TimeoutGroup) WaitTimeout(timeout time.Duration) (timedOut bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tg.fin:
		return false
	case <-t.C:
		return true
	}
}

// DynSemaphore is a semaphore whose capacity can be adjusted live, used
// by backend adapters to cap concurrent I/O against one physical medium
// (see backend/usbfs, which holds a slot per directory enumeration and
// exposes the resize through SetIOLimit).
type DynSemaphore struct {
	mu   sync.Mutex
	c    *sync.Cond
	size int
	cur  int
}

func NewDynSemaphore(n int) *DynSemaphore {
	s := &DynSemaphore{size: n}
	s.c = sync.NewCond(&s.mu)
	return s
}

func (s *DynSemaphore) SetSize(n int) {
	Assert(n >= 1)
	s.mu.Lock()
	s.size = n
	s.c.Broadcast()
	s.mu.Unlock()
}

func (s *DynSemaphore) Acquire() {
	s.mu.Lock()
	for s.cur >= s.size {
		s.c.Wait()
	}
	s.cur++
	s.mu.Unlock()
}

func (s *DynSemaphore) Release() {
	s.mu.Lock()
	Assert(s.cur > 0)
	s.cur--
	s.c.Signal()
	s.mu.Unlock()
}

// CancelCounter is the per-tree cancellation counter from §4.D/§5:
// producers Push on cancel, Pop on completion; backends poll
// IsBlockingOperationAllowed to decide whether a scoped blocking operation
// should continue.
type CancelCounter struct {
	mu    sync.Mutex
	count int
}

func (c *CancelCounter) Push() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *CancelCounter) Pop() {
	c.mu.Lock()
	Assert(c.count > 0)
	c.count--
	c.mu.Unlock()
}

// IsBlockingOperationAllowed reports whether a backend in the middle of a
// long traversal should keep going (count == 0) or abort with Interrupted.
func (c *CancelCounter) IsBlockingOperationAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count == 0
}
