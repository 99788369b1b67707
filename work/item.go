// Package work implements the work item state machine and its paired
// reply-path tracker (§3, §4.F): the unit of asynchronous work the RNF
// protocol schedules, runs, and replies to.
package work

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strbo/listbroker/cmn"
)

// State is the work item's lifecycle state (§3).
type State int

const (
	Runnable State = iota
	Running
	Done
	Canceling
	Canceled
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Canceling:
		return "CANCELING"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Marks records the timing marks taken at each transition, for telemetry.
type Marks struct {
	Created   time.Time
	Scheduled time.Time
	Started   time.Time
	Finished  time.Time
}

// Impl is implemented by concrete work: the payload that actually talks
// to the tree manager or a backend. Run executes with the item's lock
// released; implementations that want to notice a cooperative cancel
// request should periodically check item.State() (or, in practice, the
// tree's cancellation counter, §4.D).
type Impl interface {
	// Run performs the work and returns its result (opaque to the
	// state machine) or an error.
	Run(item *Item) (interface{}, error)

	// Cancel is invoked with the item's lock held when Item.Cancel is
	// called while Running. It must not block; it returns true if the
	// work can be torn down immediately (moving straight to CANCELED),
	// false if cancellation is cooperative and completion will arrive
	// later through Run's ordinary return.
	Cancel(item *Item) (immediate bool)
}

// Item is the work base class from §4.F/§3: a monotonic index, lifecycle
// state, reply-path sub-state (via ReplyTracker), a single done-callback,
// and timing marks.
type Item struct {
	mu sync.Mutex

	Index uint64
	Name  string

	state State
	marks Marks

	impl   Impl
	result interface{}
	err    error

	doneFn func(success bool)
	done   chan struct{}

	reply ReplyTracker
}

// New builds a work item bound to impl, named for diagnostics via a
// random suffix when name is empty.
func New(index uint64, name string, impl Impl) *Item {
	if name == "" {
		name = "work-" + uuid.New().String()
	}
	it := &Item{
		Index: index,
		Name:  name,
		state: Runnable,
		impl:  impl,
		marks: Marks{Created: time.Now()},
		done:  make(chan struct{}),
	}
	it.reply = newReplyTracker(&it.mu)
	return it
}

// State returns the current lifecycle state.
func (it *Item) State() State {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state
}

// ReplyTracker returns the paired reply-path tracker (§4.F). Callers
// outside this package must not invoke its methods directly (they assume
// the work lock is already held); use MarkScheduled or the RNF/cookie
// packages' lock-safe wrappers instead.
func (it *Item) ReplyTracker() *ReplyTracker { return &it.reply }

// MarkScheduled takes the work lock and marks the reply-path tracker
// SCHEDULED, for callers outside this package (the work queue, §4.G,
// calls this the moment add_work accepts an item).
func (it *Item) MarkScheduled() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reply.MarkScheduled()
}

// ReplyState returns the reply-path tracker's current state, taking the
// work lock.
func (it *Item) ReplyState() ReplyState {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reply.State()
}

// SetWaitingForResult takes the work lock and advances the reply-path
// tracker to WAITING.
func (it *Item) SetWaitingForResult() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reply.SetWaitingForResult()
}

// TryTakeFastPath takes the work lock and attempts to take the fast path,
// as described in §4.F; it may block inside the lock while the state is
// SCHEDULED, exactly as the reply tracker's own doc comment describes.
func (it *Item) TryTakeFastPath() TakeResult {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reply.TryTakeFastPath()
}

// TryTakeSlowPath takes the work lock and attempts to take the slow path.
func (it *Item) TryTakeSlowPath() TakeResult {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reply.TryTakeSlowPath()
}

// SlowPathCookieSentToClient takes the work lock and advances the
// reply-path tracker past SLOW_PATH_ENTERED.
func (it *Item) SlowPathCookieSentToClient() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reply.SlowPathCookieSentToClient()
}

// SlowPathReadyNotifiedClient takes the work lock and advances the
// reply-path tracker past SLOW_PATH_COOKIE_SENT.
func (it *Item) SlowPathReadyNotifiedClient() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reply.SlowPathReadyNotifiedClient()
}

// BeginFetch takes the work lock and advances the reply-path tracker to
// SLOW_PATH_FETCHING.
func (it *Item) BeginFetch() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.reply.BeginFetch()
}

// TakeSlowPathAndMarkCookieSent attempts to take the slow path and, on
// success, runs onTaken (typically the BUSY-with-cookie reply) and marks
// the cookie sent — all under one hold of the work lock. The compound
// matters: the worker's terminal transition also needs this lock, so it
// cannot observe the half-open window between SLOW_PATH_ENTERED and
// SLOW_PATH_COOKIE_SENT that two separate acquisitions would leave.
func (it *Item) TakeSlowPathAndMarkCookieSent(onTaken func()) TakeResult {
	it.mu.Lock()
	defer it.mu.Unlock()
	r := it.reply.TryTakeSlowPath()
	if r != Taken {
		return r
	}
	if onTaken != nil {
		onTaken()
	}
	if err := it.reply.SlowPathCookieSentToClient(); err != nil {
		cmn.L().Errorw("reply-path defect marking cookie sent", "work", it.Name, "err", err)
	}
	return Taken
}

// TryTakeFastPathLocked attempts to take the fast path WITHOUT acquiring
// the work lock itself. It exists for exactly one caller: a
// done-notification function installed via SetDoneNotificationFunction,
// which fireDoneLocked already invokes with the lock held (§4.H
// work_done_notification "invoked... with the work lock held"). Calling
// this from anywhere else is a bug: Go's mutex isn't reentrant, and a call
// without the lock held races the state it reads.
func (it *Item) TryTakeFastPathLocked() TakeResult {
	return it.reply.TryTakeFastPath()
}

// SlowPathReadyNotifiedClientLocked is the done-notification-safe
// counterpart to SlowPathReadyNotifiedClient; see TryTakeFastPathLocked.
func (it *Item) SlowPathReadyNotifiedClientLocked() error {
	return it.reply.SlowPathReadyNotifiedClient()
}

// ResultLocked is the done-notification-safe counterpart to Result; see
// TryTakeFastPathLocked.
func (it *Item) ResultLocked() (interface{}, error) {
	return it.result, it.err
}

// SetDoneNotificationFunction installs the single done-callback, invoked
// with the work lock held on the terminal transition: success=true for
// DONE, success=false for CANCELED.
func (it *Item) SetDoneNotificationFunction(f func(success bool)) {
	it.mu.Lock()
	it.doneFn = f
	it.mu.Unlock()
}

// Run may be called only when state == RUNNABLE; running from any other
// state is a defect. It transitions RUNNABLE->RUNNING, calls the
// implementation with the lock released, then lands in DONE or CANCELED
// depending on what Cancel observed meanwhile.
func (it *Item) Run() {
	it.mu.Lock()
	switch it.state {
	case Runnable:
		// proceed
	case Canceled:
		// Canceled while still queued; the queue hands canceled items to
		// the worker rather than filtering them, so this is not a defect.
		it.mu.Unlock()
		return
	default:
		it.mu.Unlock()
		cmn.AssertMsg(false, "Run() called while not RUNNABLE: "+it.state.String())
		return
	}
	it.state = Running
	it.marks.Started = time.Now()
	it.mu.Unlock()

	result, err := it.impl.Run(it)

	it.mu.Lock()
	defer it.mu.Unlock()
	it.marks.Finished = time.Now()

	if it.state == Canceling {
		it.state = Canceled
		it.err = cmn.NewError(cmn.Interrupted, "work %s canceled", it.Name)
		it.fireDoneLocked(false)
		return
	}
	if it.state == Canceled {
		// Cancel() already finalized this item immediately (impl.Cancel
		// returned true) while the implementation's Run was still in
		// flight; its late return carries no new information.
		return
	}

	it.result, it.err = result, err
	it.state = Done
	it.fireDoneLocked(true)
}

// Cancel transitions RUNNABLE->CANCELED immediately, or RUNNING->CANCELING
// and calls the implementation's cooperative Cancel with the lock held.
// Canceling an item already in a terminal state is a no-op.
func (it *Item) Cancel() {
	it.mu.Lock()
	defer it.mu.Unlock()

	switch it.state {
	case Runnable:
		it.state = Canceled
		it.err = cmn.NewError(cmn.Interrupted, "work %s canceled", it.Name)
		it.marks.Finished = time.Now()
		it.fireDoneLocked(false)
	case Running:
		it.state = Canceling
		if it.impl.Cancel(it) {
			it.state = Canceled
			it.err = cmn.NewError(cmn.Interrupted, "work %s canceled", it.Name)
			it.marks.Finished = time.Now()
			it.fireDoneLocked(false)
		}
	default:
		// DONE, CANCELING, CANCELED: nothing to do.
	}
}

func (it *Item) fireDoneLocked(success bool) {
	if it.doneFn != nil {
		it.doneFn(success)
	}
	close(it.done)
}

// WaitFor blocks until the item reaches a terminal state or timeout
// elapses, used by the cookie registry's fast-path budget (§4.H
// try_eat). It reports the result/error on success, or timedOut=true.
func (it *Item) WaitFor(timeout time.Duration) (result interface{}, err error, timedOut bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-it.done:
		it.mu.Lock()
		defer it.mu.Unlock()
		return it.result, it.err, false
	case <-t.C:
		return nil, nil, true
	}
}

// Result returns the stored result and error once the item has reached a
// terminal state; callers should only call this after WaitFor/Done
// indicates completion.
func (it *Item) Result() (interface{}, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.result, it.err
}

// Marks returns a copy of the item's timing marks.
func (it *Item) Marks() Marks {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.marks
}
