// Package clock abstracts wall-clock access so polling loops can be driven
// deterministically in tests.
//
// Production code takes a Clock and uses Real(). Tests use Fake(), which only
// moves when Advance is called, or AutoFake(), which jumps forward whenever a
// caller waits on it.
package clock

import "time"

// Clock is the subset of the time package used by the tracker and orchestrator.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed. A
	// non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
