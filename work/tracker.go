package work

import (
	"sync"

	"github.com/strbo/listbroker/cmn"
)

// ReplyState is the reply-path sub-state from §3: NONE -> SCHEDULED ->
// WAITING -> {FAST_PATH | SLOW_PATH_ENTERED -> SLOW_PATH_COOKIE_SENT ->
// SLOW_PATH_READY_NOTIFIED -> SLOW_PATH_FETCHING}. Transitions are
// single-assignment and strictly forward.
type ReplyState int

const (
	ReplyNone ReplyState = iota
	ReplyScheduled
	ReplyWaiting
	ReplyFastPath
	ReplySlowPathEntered
	ReplySlowPathCookieSent
	ReplySlowPathReadyNotified
	ReplySlowPathFetching
)

func (s ReplyState) String() string {
	switch s {
	case ReplyNone:
		return "NONE"
	case ReplyScheduled:
		return "SCHEDULED"
	case ReplyWaiting:
		return "WAITING"
	case ReplyFastPath:
		return "FAST_PATH"
	case ReplySlowPathEntered:
		return "SLOW_PATH_ENTERED"
	case ReplySlowPathCookieSent:
		return "SLOW_PATH_COOKIE_SENT"
	case ReplySlowPathReadyNotified:
		return "SLOW_PATH_READY_NOTIFIED"
	case ReplySlowPathFetching:
		return "SLOW_PATH_FETCHING"
	default:
		return "UNKNOWN"
	}
}

// TakeResult is the outcome of trying to take the fast or slow path.
type TakeResult int

const (
	Taken TakeResult = iota
	AlreadyOnFastPath
	AlreadyOnSlowPathEntered
	AlreadyOnSlowPathCookieSent
	AlreadyOnSlowPathReadyNotified
	AlreadyOnSlowPathFetching
)

func (r TakeResult) String() string {
	switch r {
	case Taken:
		return "TAKEN"
	case AlreadyOnFastPath:
		return "ALREADY_ON_FAST_PATH"
	case AlreadyOnSlowPathEntered:
		return "ALREADY_ON_SLOW_PATH_ENTERED"
	case AlreadyOnSlowPathCookieSent:
		return "ALREADY_ON_SLOW_PATH_COOKIE_ANNOUNCED"
	case AlreadyOnSlowPathReadyNotified:
		return "ALREADY_ON_SLOW_PATH_READY_NOTIFIED"
	case AlreadyOnSlowPathFetching:
		return "ALREADY_ON_SLOW_PATH_FETCHING"
	default:
		return "UNKNOWN"
	}
}

// ReplyTracker enforces the reply-path state machine described in §4.F.
// Every method assumes the caller already holds the work item's lock
// (the item's "work_lock") — the tracker shares that lock's condition
// variable rather than owning a separate one, so the fast-path waiter
// and the completion notifier can hand off without ever acquiring two
// locks in the wrong order.
type ReplyTracker struct {
	cond  *sync.Cond
	state ReplyState
}

func newReplyTracker(workLock *sync.Mutex) ReplyTracker {
	return ReplyTracker{cond: sync.NewCond(workLock), state: ReplyNone}
}

// State returns the current reply-path state. Caller must hold the work
// lock.
func (t *ReplyTracker) State() ReplyState { return t.state }

// MarkScheduled is called once, by whoever enqueues the work, immediately
// after add_work accepts it (§4.G).
func (t *ReplyTracker) MarkScheduled() error {
	if t.state != ReplyNone {
		return t.violation("MarkScheduled", ReplyNone)
	}
	t.state = ReplyScheduled
	t.cond.Broadcast()
	return nil
}

// SetWaitingForResult is called by the fast-path caller once it is about
// to block on the result, only valid from SCHEDULED.
func (t *ReplyTracker) SetWaitingForResult() error {
	if t.state != ReplyScheduled {
		return t.violation("SetWaitingForResult", ReplyScheduled)
	}
	t.state = ReplyWaiting
	t.cond.Broadcast()
	return nil
}

// TryTakeFastPath is called by the work's completion notification: from
// SCHEDULED it waits until the state leaves SCHEDULED (i.e. the fast-path
// waiter put it into WAITING, see SetWaitingForResult), then atomically moves to
// FAST_PATH and returns Taken; from WAITING, the same without waiting.
// From any slow-path state or FAST_PATH it returns the matching
// ALREADY_ON_* value without blocking — the other side got there first.
func (t *ReplyTracker) TryTakeFastPath() TakeResult {
	for t.state == ReplyScheduled {
		t.cond.Wait()
	}
	switch t.state {
	case ReplyWaiting:
		t.state = ReplyFastPath
		t.cond.Broadcast()
		return Taken
	case ReplyFastPath:
		return AlreadyOnFastPath
	case ReplySlowPathEntered:
		return AlreadyOnSlowPathEntered
	case ReplySlowPathCookieSent:
		return AlreadyOnSlowPathCookieSent
	case ReplySlowPathReadyNotified:
		return AlreadyOnSlowPathReadyNotified
	case ReplySlowPathFetching:
		return AlreadyOnSlowPathFetching
	default:
		cmn.AssertMsg(false, "TryTakeFastPath observed state "+t.state.String())
		return AlreadyOnFastPath
	}
}

// TryTakeSlowPath is called by the request thread once its fast-path
// wait has timed out, racing against the completion notification: from SCHEDULED or WAITING it moves to
// SLOW_PATH_ENTERED and returns Taken; otherwise returns the matching
// ALREADY_ON_* value.
func (t *ReplyTracker) TryTakeSlowPath() TakeResult {
	switch t.state {
	case ReplyScheduled, ReplyWaiting:
		t.state = ReplySlowPathEntered
		t.cond.Broadcast()
		return Taken
	case ReplyFastPath:
		return AlreadyOnFastPath
	case ReplySlowPathEntered:
		return AlreadyOnSlowPathEntered
	case ReplySlowPathCookieSent:
		return AlreadyOnSlowPathCookieSent
	case ReplySlowPathReadyNotified:
		return AlreadyOnSlowPathReadyNotified
	case ReplySlowPathFetching:
		return AlreadyOnSlowPathFetching
	default:
		cmn.AssertMsg(false, "TryTakeSlowPath observed state "+t.state.String())
		return AlreadyOnSlowPathEntered
	}
}

// SlowPathCookieSentToClient marks that the fast-path timeout reply
// carrying the cookie has been sent; valid only from SLOW_PATH_ENTERED.
func (t *ReplyTracker) SlowPathCookieSentToClient() error {
	if t.state != ReplySlowPathEntered {
		return t.violation("SlowPathCookieSentToClient", ReplySlowPathEntered)
	}
	t.state = ReplySlowPathCookieSent
	t.cond.Broadcast()
	return nil
}

// SlowPathReadyNotifiedClient marks that a data_available/data_error
// signal has been emitted; valid only from SLOW_PATH_COOKIE_SENT.
func (t *ReplyTracker) SlowPathReadyNotifiedClient() error {
	if t.state != ReplySlowPathCookieSent {
		return t.violation("SlowPathReadyNotifiedClient", ReplySlowPathCookieSent)
	}
	t.state = ReplySlowPathReadyNotified
	t.cond.Broadcast()
	return nil
}

// BeginFetch marks that a by_cookie call has started retrieving the
// result; valid only from SLOW_PATH_READY_NOTIFIED.
func (t *ReplyTracker) BeginFetch() error {
	if t.state != ReplySlowPathReadyNotified {
		return t.violation("BeginFetch", ReplySlowPathReadyNotified)
	}
	t.state = ReplySlowPathFetching
	t.cond.Broadcast()
	return nil
}

func (t *ReplyTracker) violation(method string, want ReplyState) error {
	return cmn.AssertErr(false, "reply-path: %s requires predecessor %s, observed %s",
		method, want, t.state)
}
