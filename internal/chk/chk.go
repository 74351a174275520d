// Package chk provides the error-check idiom used across this codebase:
// `if err = f(); chk.E(err) { return }` logs the error at the named level
// and reports whether one occurred, so call sites read as a single line
// instead of a four-line if-block.
package chk

import "relay.dev/internal/lol"

// E logs err at error level and returns true if err is non-nil.
func E(err error) bool { return check(lol.E, err) }

// W logs err at warn level and returns true if err is non-nil.
func W(err error) bool { return check(lol.W, err) }

// T logs err at trace level and returns true if err is non-nil.
func T(err error) bool { return check(lol.T, err) }

// D logs err at debug level and returns true if err is non-nil.
func D(err error) bool { return check(lol.D, err) }

func check(l *lol.Logger, err error) bool {
	if err == nil {
		return false
	}
	l.F("%v", err)
	return true
}
