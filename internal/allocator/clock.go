package allocator

import "time"

// Clock abstracts wall time so engine behavior stays a pure function of "now"
// plus persisted state.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func SystemClock() Clock { return systemClock{} }
