package cmn

import "fmt"

// Assert logs and reports an INTERNAL bug instead of panicking: a failed
// invariant must not take the broker process down. Call sites that can
// propagate an error should prefer AssertErr; Assert is for deep internal
// code where there's no error channel to report through (matches
// aistore's cmn.Assert / cmn.AssertMsg shape).
func Assert(cond bool) {
	if !cond {
		logBug("assertion failed")
	}
}

// AssertMsg is Assert with a caller-supplied diagnostic message.
func AssertMsg(cond bool, msg string) {
	if !cond {
		logBug(msg)
	}
}

// AssertErr turns a failed invariant into an *Error instead of only
// logging, for call sites that have somewhere to report it (an RNF
// adapter method, for instance).
func AssertErr(cond bool, format string, a ...interface{}) error {
	if cond {
		return nil
	}
	msg := fmt.Sprintf(format, a...)
	logBug(msg)
	return NewInternalError(fmt.Errorf(msg), "invariant violated")
}

func logBug(msg string) {
	L().Errorw("internal invariant violated", "bug", msg)
}
