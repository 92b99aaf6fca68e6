package transport

import (
	"context"
	"time"

	logx "checkinbot/pkg/logx"
)

// RetryPolicy bounds the sleep-then-retry loop for RateLimited results.
type RetryPolicy struct {
	Attempts int           // total calls, including the first
	MinDelay time.Duration // lower clamp for retry_after
	MaxDelay time.Duration // upper clamp for retry_after
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, MinDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.MinDelay <= 0 {
		p.MinDelay = DefaultRetryPolicy.MinDelay
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	return p
}

// Delay clamps the server-provided retry_after into [MinDelay, MaxDelay].
func (p RetryPolicy) Delay(retryAfter time.Duration) time.Duration {
	p = p.normalized()
	if retryAfter < p.MinDelay {
		return p.MinDelay
	}
	if retryAfter > p.MaxDelay {
		return p.MaxDelay
	}
	return retryAfter
}

// Retrying wraps a Messenger and retries RateLimited calls locally.
// Other outcomes are returned as-is on the first attempt.
type Retrying struct {
	next   Messenger
	policy func() RetryPolicy
	log    logx.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying takes the policy as a func so hot-reloaded config applies to the next call.
func NewRetrying(next Messenger, policy func() RetryPolicy, log logx.Logger) *Retrying {
	if log.IsZero() {
		log = logx.Nop()
	}
	if policy == nil {
		policy = func() RetryPolicy { return DefaultRetryPolicy }
	}
	return &Retrying{next: next, policy: policy, log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Retrying) do(ctx context.Context, op string, call func() Result) Result {
	p := r.policy().normalized()
	var res Result
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		res = call()
		if res.Outcome != RateLimited || attempt == p.Attempts {
			return res
		}
		d := p.Delay(res.RetryAfter)
		r.log.Warn("rate limited; backing off",
			logx.String("op", op),
			logx.Duration("delay", d),
			logx.Int("attempt", attempt),
			logx.Int("max", p.Attempts),
		)
		if err := r.sleep(ctx, d); err != nil {
			return Fail(Failed, err)
		}
	}
	return res
}

func (r *Retrying) Send(ctx context.Context, to ChatTarget, text string, opt *SendOptions) Result {
	return r.do(ctx, "send", func() Result { return r.next.Send(ctx, to, text, opt) })
}

func (r *Retrying) Edit(ctx context.Context, ref MessageRef, text string, opt *SendOptions) Result {
	return r.do(ctx, "edit", func() Result { return r.next.Edit(ctx, ref, text, opt) })
}

func (r *Retrying) RemoveMarkup(ctx context.Context, ref MessageRef) Result {
	return r.do(ctx, "remove_markup", func() Result { return r.next.RemoveMarkup(ctx, ref) })
}
