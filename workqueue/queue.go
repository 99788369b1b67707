// Package workqueue implements the per-method bounded work queue from
// §4.G: SYNC or ASYNC scheduling, a waiting FIFO bounded by max-length,
// and a head-cancel-on-overflow admission policy.
package workqueue

import (
	"sync"

	"github.com/strbo/listbroker/work"
)

// Mode selects how a queue runs its work.
type Mode int

const (
	// Async runs items on a dedicated worker goroutine; add_work returns
	// immediately once the item is queued.
	Async Mode = iota
	// Sync runs the item in the caller's own goroutine once it reaches
	// the head of the queue; add_work blocks until it's done.
	Sync
)

// AcceptedFunc is invoked by add_work to report admission outcomes. For
// ASYNC it is called once with (true, false). For SYNC it is called twice:
// once before running (false, false), once after (false, true) — the
// bool results mirror §4.G's "accepted, sync_done" pair.
type AcceptedFunc func(accepted, syncDone bool)

// Queue is one per-method work queue (§4.G). Each Queue instance owns its
// own worker goroutine (for Async mode) and its own waiting FIFO; the
// broker keeps one Queue per bus method family.
type Queue struct {
	mu sync.Mutex
	cv *sync.Cond

	mode      Mode
	maxLength int

	accepting  bool
	inProgress *work.Item
	waiting    []*work.Item

	stop    chan struct{}
	stopped chan struct{}
}

// New builds a queue in the given mode with the given waiting-FIFO bound
// (not counting the in-progress item). For Async mode the worker goroutine
// is started immediately.
func New(mode Mode, maxLength int) *Queue {
	q := &Queue{
		mode:      mode,
		maxLength: maxLength,
		accepting: true,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	q.cv = sync.NewCond(&q.mu)
	if mode == Async {
		go q.workerLoop()
	} else {
		close(q.stopped)
	}
	return q
}

// AddWork implements add_work(w, on_accepted) from §4.G. Returns whether
// the caller should still expect an eventual asynchronous reply (true for
// ASYNC acceptance, false for SYNC — where the result is already ready by
// the time AddWork returns — and false for outright rejection).
func (q *Queue) AddWork(w *work.Item, onAccepted AcceptedFunc) bool {
	q.mu.Lock()
	if !q.accepting {
		q.mu.Unlock()
		return false
	}

	w.MarkScheduled()

	switch q.mode {
	case Async:
		q.enqueueLocked(w)
		q.cv.Broadcast()
		q.mu.Unlock()
		if onAccepted != nil {
			onAccepted(true, false)
		}
		return true

	default: // Sync
		// The caller is both the scheduler and the designated fast-path
		// waiter: it runs the item inline and harvests the result right
		// after, so the reply path moves to WAITING here. Without this
		// the done-notification fired from the inline Run would block in
		// try_take_fast_path waiting for a waiter that never announces
		// itself.
		w.SetWaitingForResult()
		q.enqueueLocked(w)
		if onAccepted != nil {
			onAccepted(false, false)
		}
		for q.inProgress != w && q.accepting {
			q.cv.Wait()
		}
		if q.inProgress != w {
			// Shutdown drained the queue while we waited; the item has
			// been canceled on our behalf.
			q.mu.Unlock()
			if onAccepted != nil {
				onAccepted(false, true)
			}
			return false
		}
		q.mu.Unlock()

		w.Run()

		q.mu.Lock()
		if q.inProgress == w {
			q.promoteNextLocked()
		}
		q.cv.Broadcast()
		q.mu.Unlock()

		if onAccepted != nil {
			onAccepted(false, true)
		}
		return false
	}
}

// enqueueLocked appends w to the queue, promoting it to in-progress
// directly if nothing is running; otherwise appends to the waiting FIFO,
// canceling the current in-progress item and promoting the FIFO head if
// doing so would exceed maxLength (the head-cancel-on-overflow policy).
func (q *Queue) enqueueLocked(w *work.Item) {
	if q.inProgress == nil {
		q.inProgress = w
		return
	}
	if len(q.waiting) >= q.maxLength {
		victim := q.inProgress
		if len(q.waiting) > 0 {
			q.inProgress = q.waiting[0]
			q.waiting = q.waiting[1:]
		} else {
			q.inProgress = nil
		}
		victim.Cancel()
	}
	q.waiting = append(q.waiting, w)
	if q.inProgress == nil {
		q.inProgress = w
		q.waiting = q.waiting[:len(q.waiting)-1]
	}
}

func (q *Queue) promoteNextLocked() {
	if len(q.waiting) == 0 {
		q.inProgress = nil
		return
	}
	q.inProgress = q.waiting[0]
	q.waiting = q.waiting[1:]
}

func (q *Queue) workerLoop() {
	defer close(q.stopped)
	q.mu.Lock()
	for {
		for q.inProgress == nil && q.accepting {
			select {
			case <-q.stop:
				q.drainLocked()
				q.mu.Unlock()
				return
			default:
			}
			q.cv.Wait()
		}
		select {
		case <-q.stop:
			q.drainLocked()
			q.mu.Unlock()
			return
		default:
		}
		if !q.accepting {
			q.drainLocked()
			q.mu.Unlock()
			return
		}

		w := q.inProgress
		q.mu.Unlock()
		w.Run()
		q.mu.Lock()
		if q.inProgress == w {
			q.promoteNextLocked()
		}
		q.cv.Broadcast()
	}
}

// drainLocked cancels the in-progress item and everything still waiting;
// called with the lock held, used by both Shutdown and a worker observing
// the stop signal.
func (q *Queue) drainLocked() {
	if q.inProgress != nil {
		q.inProgress.Cancel()
		q.inProgress = nil
	}
	for _, w := range q.waiting {
		w.Cancel()
	}
	q.waiting = nil
}

// Clear cancels everything queued and in-progress without disabling
// admission (§4.G clear()).
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drainLocked()
	q.cv.Broadcast()
}

// Shutdown disables admission, cancels all work, and joins the worker
// goroutine (for Async queues). Idempotent.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if !q.accepting {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.accepting = false
	if q.mode == Sync {
		q.drainLocked()
	}
	q.cv.Broadcast()
	q.mu.Unlock()

	if q.mode == Async {
		close(q.stop)
		q.cv.Broadcast()
	}
	<-q.stopped
}

// Len reports the current waiting-FIFO length, for diagnostics and tests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// InProgress reports whether a work item currently occupies the
// in-progress slot.
func (q *Queue) InProgress() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inProgress != nil
}
