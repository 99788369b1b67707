// Package rnf implements the request/notify/fetch method adapter from
// §4.I: the glue between a per-method work queue, the process-wide cookie
// registry, and a caller that wants to try the fast path first and only
// fall back to a cookie-based slow path when the work doesn't finish
// within the fast-path budget: build, queue, await, report, built around
// the work/workqueue/cookie packages' state machines instead of an
// extended action's own bookkeeping.
package rnf

import (
	"sync/atomic"

	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/cookie"
	"github.com/strbo/listbroker/work"
	"github.com/strbo/listbroker/workqueue"
)

// Method binds one bus method family (e.g. "get_range", "get_uris") to the
// queue it runs on and the registry it mints cookies from.
type Method struct {
	Name     string
	queue    *workqueue.Queue
	registry *cookie.Registry
	mode     cookie.NotificationMode

	nextIndex uint64
}

// NewMethod builds a method adapter. mode should be
// cookie.NotifyAfterTimeout for ordinary RNF methods and cookie.NotifyAlways
// for methods (like realize_location) that always reply with a cookie
// regardless of how quickly the work finishes.
func NewMethod(name string, q *workqueue.Queue, r *cookie.Registry, mode cookie.NotificationMode) *Method {
	return &Method{Name: name, queue: q, registry: r, mode: mode}
}

// Invoke implements try_fast_path: build and schedule impl, then either
// return its result directly with cookie 0 (it finished inside the
// fast-path budget, or a SYNC queue already ran it inline) or a
// *cookie.PendingError carrying the nonzero cookie a client should poll
// with ByCookie once notified.
func (m *Method) Invoke(impl work.Impl, notifier cookie.Notifier) (interface{}, uint32, error) {
	idx := atomic.AddUint64(&m.nextIndex, 1)
	w := work.New(idx, m.Name, impl)

	ck := m.registry.Pick(w, m.Name, m.mode, notifier)

	accepted := m.queue.AddWork(w, nil)

	eatMode := cookie.WillWorkForCookies
	if accepted {
		eatMode = cookie.MySlave
		if err := w.SetWaitingForResult(); err != nil {
			cmn.L().Errorw("reply-path defect entering fast path", "method", m.Name, "err", err)
		}
	} else if w.ReplyState() == work.ReplyNone {
		// add_work rejected the item outright (queue shut down or not
		// accepting): it was never scheduled, so there is no result to
		// wait for and no client holding the cookie.
		m.registry.Forget(ck)
		return nil, 0, cmn.NewError(cmn.Busy, "%s: queue not accepting work", m.Name)
	}

	result, err := m.registry.TryEat(ck, m.Name, eatMode, nil)
	if pe, ok := err.(*cookie.PendingError); ok {
		return nil, pe.Cookie, pe
	}
	return result, 0, err
}

// InvokeAsync implements the pure-async variant from §4.I used by
// realize_location: the immediate reply is always the cookie, never a
// result, and completion reaches the client exclusively through the
// data_available/data_error signals. The reply path is moved straight
// onto the slow path with the cookie marked sent, so the terminal
// notification finds it in SLOW_PATH_COOKIE_SENT no matter how fast the
// work finished.
func (m *Method) InvokeAsync(impl work.Impl, notifier cookie.Notifier) (uint32, error) {
	idx := atomic.AddUint64(&m.nextIndex, 1)
	w := work.New(idx, m.Name, impl)

	ck := m.registry.Pick(w, m.Name, m.mode, notifier)

	if !m.queue.AddWork(w, nil) && w.ReplyState() == work.ReplyNone {
		m.registry.Forget(ck)
		return 0, cmn.NewError(cmn.Busy, "%s: queue not accepting work", m.Name)
	}

	// On a SYNC queue the item has already run inline and taken the fast
	// path through its done-notification; that is fine — NotifyAlways
	// already emitted the signal — so only a Taken result needs acting on
	// here.
	w.TakeSlowPathAndMarkCookieSent(nil)
	return ck, nil
}

// ByCookie implements the by_cookie half of finish_slow_path: harvest the
// result of work a prior Invoke call reported as pending. Callers should
// only call this after receiving a data-available/data-error notification
// for the cookie (§4.H), at which point the work is guaranteed to have
// finished.
func (m *Method) ByCookie(ck uint32) (interface{}, error) {
	return m.registry.TryEat(ck, m.Name, cookie.MySlave, nil)
}

// CookieNotWanted implements cookie_not_wanted for this method's cookies.
func (m *Method) CookieNotWanted(ck uint32) {
	m.registry.CookieNotWanted(ck)
}
