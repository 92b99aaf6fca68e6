package app

import (
	"sync/atomic"

	kit "checkinbot/internal/transport"
)

// atomicPolicy lets the retrying messenger pick up reloaded retry settings.
type atomicPolicy struct {
	p atomic.Pointer[kit.RetryPolicy]
}

func (a *atomicPolicy) Store(p kit.RetryPolicy) { a.p.Store(&p) }

func (a *atomicPolicy) Load() kit.RetryPolicy {
	if p := a.p.Load(); p != nil {
		return *p
	}
	return kit.DefaultRetryPolicy
}
