// Package cookie implements the process-wide cookie registry from §4.H:
// the map from a 32-bit cookie to the work item it names, cookie minting
// by probing, and the try_eat/work_done_notification handoff between the
// fast and slow reply paths: a mutex-guarded map of live work,
// repointed at the list broker's cookie/work-item
// domain.
package cookie

import (
	"fmt"
	"sync"
	"time"

	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/work"
)

// NotificationMode controls when work_done_notification actually emits a
// data-available/data-error signal.
type NotificationMode int

const (
	// NotifyAfterTimeout only signals the client once the fast-path
	// timeout has elapsed and a cookie was actually handed out
	// (ordinary RNF methods, §4.I try_fast_path).
	NotifyAfterTimeout NotificationMode = iota
	// NotifyAlways signals unconditionally, for pure-async interfaces
	// like realize_location that reply with a cookie immediately.
	NotifyAlways
)

// EatMode records whether the caller of try_eat is itself the one who ran
// the work (WillWorkForCookies, i.e. a SYNC queue's add_work already ran
// it inline) or is merely waiting on another worker (MySlave, the normal
// ASYNC case). The Go port's WaitFor doesn't need this to change its
// blocking behavior, but the distinction is kept for documentation parity
// with §4.I's pseudocode and for notifier logic that cares which case it
// is.
type EatMode int

const (
	MySlave EatMode = iota
	WillWorkForCookies
)

// BadCookieReason enumerates why try_eat rejected a cookie outright.
type BadCookieReason string

const (
	BadCookieValue     BadCookieReason = "bad value"
	BadCookieUnknown   BadCookieReason = "unknown"
	BadCookieWrongType BadCookieReason = "wrong type"
)

// BadCookieError is returned by try_eat when the cookie itself is invalid,
// unknown, or names work of the wrong kind; RNF adapters map this to
// invalid-args (§4.I).
type BadCookieError struct {
	Reason BadCookieReason
}

func (e *BadCookieError) Error() string { return fmt.Sprintf("bad cookie: %s", e.Reason) }

// PendingError is returned by try_eat when the fast-path budget elapsed
// without the work completing; the cookie remains valid and a caller
// should reply BUSY carrying it (§4.I finish_slow_path).
type PendingError struct {
	Cookie uint32
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("work pending, cookie %d issued", e.Cookie)
}

// Notifier is implemented by the RNF adapter for a given work kind; the
// registry calls it from work_done_notification when a client needs an
// asynchronous nudge rather than harvesting the result on the fast path.
type Notifier interface {
	NotifyDataAvailable(cookie uint32)
	NotifyDataError(cookie uint32, err error)
}

type entry struct {
	item     *work.Item
	kind     string
	mode     NotificationMode
	notifier Notifier
}

// Registry is the process-wide singleton from §4.H. One Registry per
// process serves every work kind; kind strings (the method family name,
// e.g. "get_range") stand in for try_eat<WorkType>'s template parameter,
// since Go pre-generics has no equivalent.
type Registry struct {
	mu              sync.Mutex
	entries         map[uint32]*entry
	nextCookie      uint32
	fastPathTimeout time.Duration
}

// NewRegistry builds a registry whose try_eat fast-path budget is timeout
// (150ms per the default configuration, §4.F/§6).
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		entries:         make(map[uint32]*entry),
		nextCookie:      1,
		fastPathTimeout: timeout,
	}
}

// mintLocked reserves the next cookie value, probing forward past zero
// and past any still-live cookie (§6: "32-bit non-zero monotonic counter;
// collision-free at issue time by probing").
func (r *Registry) mintLocked() uint32 {
	for {
		c := r.nextCookie
		r.nextCookie++
		if r.nextCookie == 0 {
			r.nextCookie = 1
		}
		if c == 0 {
			continue
		}
		if _, exists := r.entries[c]; !exists {
			return c
		}
	}
}

// Pick implements pick_cookie_for_work: reserves a cookie, stores the
// pair, and installs a done-notification hook on w that routes into
// work_done_notification. kind identifies the work's method family, used
// by TryEat to reject a cookie presented to the wrong "by_cookie" method.
func (r *Registry) Pick(w *work.Item, kind string, mode NotificationMode, notifier Notifier) uint32 {
	r.mu.Lock()
	cookie := r.mintLocked()
	r.entries[cookie] = &entry{item: w, kind: kind, mode: mode, notifier: notifier}
	r.mu.Unlock()

	w.SetDoneNotificationFunction(func(success bool) {
		r.workDoneNotification(w, cookie, mode, notifier, success)
	})
	return cookie
}

// CookieNotWanted implements cookie_not_wanted(c): if the cookie still
// names live work, forget it and cancel the work with the registry lock
// already dropped, avoiding the work-lock-then-registry-lock inversion
// Cancel would otherwise risk. Work already in a terminal state is
// unaffected by the Cancel call (§5).
//
// This differs from the letter of §4.H ("completion will remove the
// entry") by removing the entry immediately rather than waiting for the
// done-notification to observe nobody is waiting: since cookie_not_wanted
// means the client will never call try_eat for this cookie again, leaving
// the entry alive until completion only risks an unbounded-lifetime leak
// for slow work the client already forgot about.
func (r *Registry) CookieNotWanted(cookie uint32) {
	r.mu.Lock()
	e, ok := r.entries[cookie]
	if ok {
		delete(r.entries, cookie)
	}
	r.mu.Unlock()
	if ok {
		e.item.Cancel()
	}
}

// Abort implements data_abort's per-cookie handling (§6): cancel the work
// the cookie names, optionally forgetting the cookie outright. keepAround
// mirrors the wire call's keep-around flag — false behaves exactly like
// CookieNotWanted (forget immediately, the next by_cookie gets
// BadCookieUnknown); true cancels the work but leaves the entry in place
// so a client that still calls by_cookie gets the work's INTERRUPTED
// result instead of losing the cookie outright. Either way, a NotifyAlways
// method's notifier still fires a data_error signal off the work's own
// done-notification hook (already wired by Pick), since Abort never
// touches that hook itself.
func (r *Registry) Abort(cookie uint32, keepAround bool) {
	if !keepAround {
		r.CookieNotWanted(cookie)
		return
	}
	r.mu.Lock()
	e, ok := r.entries[cookie]
	r.mu.Unlock()
	if ok {
		e.item.Cancel()
	}
}

// TryEat implements try_eat<WorkType>(cookie, eat_mode, on_timeout). kind
// must match the kind the cookie was picked with, standing in for the
// spec's WorkType template parameter.
func (r *Registry) TryEat(cookie uint32, kind string, eatMode EatMode, onTimeout func(cookie uint32)) (interface{}, error) {
	if cookie == 0 {
		return nil, &BadCookieError{Reason: BadCookieValue}
	}

	r.mu.Lock()
	e, ok := r.entries[cookie]
	if !ok {
		r.mu.Unlock()
		return nil, &BadCookieError{Reason: BadCookieUnknown}
	}
	if e.kind != kind {
		r.mu.Unlock()
		return nil, &BadCookieError{Reason: BadCookieWrongType}
	}
	item := e.item
	r.mu.Unlock()

	result, err, timedOut := item.WaitFor(r.fastPathTimeout)
	if !timedOut {
		if item.ReplyState() == work.ReplySlowPathReadyNotified {
			// A by_cookie fetch after the ready notification went out.
			if ferr := item.BeginFetch(); ferr != nil {
				cmn.L().Errorw("reply-path defect beginning fetch", "cookie", cookie, "err", ferr)
			}
		}
		r.mu.Lock()
		delete(r.entries, cookie)
		r.mu.Unlock()
		return result, err
	}

	switch item.TakeSlowPathAndMarkCookieSent(func() {
		if onTimeout != nil {
			onTimeout(cookie)
		}
	}) {
	case work.Taken:
		return nil, &PendingError{Cookie: cookie}
	case work.AlreadyOnFastPath:
		// The completion notification took the fast path while we were
		// taking the slow path; the result is already there to harvest.
		result, err := item.Result()
		r.mu.Lock()
		delete(r.entries, cookie)
		r.mu.Unlock()
		return result, err
	default:
		// Slow path already entered by an earlier timeout; the work is
		// still pending and the client already holds the cookie.
		return nil, &PendingError{Cookie: cookie}
	}
}

// Forget drops a cookie without canceling its work, for callers that
// minted a cookie and then failed to get the work scheduled at all (a
// queue that rejected add_work outright): there is nothing running to
// cancel and no client holding the cookie.
func (r *Registry) Forget(cookie uint32) {
	r.mu.Lock()
	delete(r.entries, cookie)
	r.mu.Unlock()
}

// workDoneNotification implements §4.H's work_done_notification. It is
// invoked as the work item's done-notification callback, which fires with
// the work lock already held — so every reply-tracker interaction here
// uses the Locked variants rather than re-acquiring the lock.
func (r *Registry) workDoneNotification(w *work.Item, cookie uint32, mode NotificationMode, notifier Notifier, success bool) {
	switch w.TryTakeFastPathLocked() {
	case work.Taken:
		if mode == NotifyAlways && notifier != nil {
			notifyResult(w, notifier, cookie, success)
		}
		// Otherwise the fast-path waiter in try_eat will harvest the
		// result directly; nothing more to do here.
	case work.AlreadyOnSlowPathCookieSent:
		if notifier != nil {
			notifyResult(w, notifier, cookie, success)
		}
		if err := w.SlowPathReadyNotifiedClientLocked(); err != nil {
			cmn.L().Errorw("reply-path defect in work_done_notification", "cookie", cookie, "err", err)
		}
	default:
		cmn.AssertMsg(false, "work_done_notification observed an unexpected reply-path state")
	}
}

// notifyResult runs inside workDoneNotification, i.e. with the work lock
// already held, so it must use the Locked accessor rather than Result.
func notifyResult(w *work.Item, notifier Notifier, cookie uint32, success bool) {
	if success {
		notifier.NotifyDataAvailable(cookie)
		return
	}
	_, err := w.ResultLocked()
	notifier.NotifyDataError(cookie, err)
}

// Len reports the number of outstanding cookies, for diagnostics and
// tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
