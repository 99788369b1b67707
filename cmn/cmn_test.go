package cmn

import (
	"errors"
	"testing"
	"time"
)

func TestErrorStatus(t *testing.T) {
	e := NewError(InvalidID, "no such list %d", 7)
	if StatusOf(e) != InvalidID {
		t.Fatalf("status = %v, want InvalidID", StatusOf(e))
	}
	if StatusOf(nil) != OK {
		t.Fatalf("nil error should report OK")
	}
	if StatusOf(errors.New("plain")) != Internal {
		t.Fatalf("non-cmn errors should default to Internal")
	}
}

func TestInternalErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	e := NewInternalError(cause, "building child list")
	if e.Status() != Internal {
		t.Fatalf("expected Internal status")
	}
	if !errors.Is(e, cause) {
		t.Fatalf("expected Is() to find wrapped cause")
	}
}

func TestIsRetriable(t *testing.T) {
	for _, s := range []Status{Busy, Busy500, Interrupted} {
		if !IsRetriable(s) {
			t.Fatalf("%v should be retriable", s)
		}
	}
	if IsRetriable(InvalidID) {
		t.Fatalf("InvalidID should not be retriable")
	}
}

func TestTimeoutGroup(t *testing.T) {
	tg := NewTimeoutGroup()
	tg.Add(1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		tg.Done()
	}()
	if tg.WaitTimeout(time.Second) {
		t.Fatalf("should not have timed out")
	}
}

func TestTimeoutGroupTimesOut(t *testing.T) {
	tg := NewTimeoutGroup()
	tg.Add(1)
	if !tg.WaitTimeout(10 * time.Millisecond) {
		t.Fatalf("should have timed out")
	}
	tg.Done()
}

func TestCancelCounter(t *testing.T) {
	var c CancelCounter
	if !c.IsBlockingOperationAllowed() {
		t.Fatalf("fresh counter should allow blocking ops")
	}
	c.Push()
	if c.IsBlockingOperationAllowed() {
		t.Fatalf("pushed counter should forbid blocking ops")
	}
	c.Pop()
	if !c.IsBlockingOperationAllowed() {
		t.Fatalf("popped back to zero should allow blocking ops")
	}
}
