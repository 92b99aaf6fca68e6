package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "checkinbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Trigger fires a job on a fixed interval with at most one run in flight.
// A tick that arrives while a run is in progress is skipped.
type Trigger struct {
	mu    sync.Mutex
	c     *cron.Cron
	entry cron.EntryID
	every time.Duration
	ctx   context.Context
	wg    sync.WaitGroup

	job cron.Job
	run func(ctx context.Context)
	log logx.Logger
}

func NewTrigger(every time.Duration, run func(ctx context.Context), log logx.Logger) *Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Trigger{every: every, run: run, log: log.With(logx.String("comp", "sweep.trigger"))}
	cl := cronLogger{log: t.log}
	t.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(t.fire))
	return t
}

// fire registers the run under mu so Stop never waits on a run it has
// already cleared the context for.
func (t *Trigger) fire() {
	t.mu.Lock()
	ctx := t.ctx
	if ctx == nil || ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()
	t.run(ctx)
}

// Start schedules the job and fires it once right away.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return nil
	}
	t.ctx = ctx
	t.c = cron.New(cron.WithLogger(cronLogger{log: t.log}))
	if err := t.scheduleLocked(t.every); err != nil {
		t.c = nil
		return err
	}
	t.c.Start()
	go t.job.Run()
	t.log.Info("trigger started", logx.Duration("every", t.every))
	return nil
}

// Reschedule swaps the interval of a started trigger.
func (t *Trigger) Reschedule(every time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil || every == t.every {
		t.every = every
		return nil
	}
	old := t.entry
	if err := t.scheduleLocked(every); err != nil {
		return err
	}
	t.c.Remove(old)
	t.log.Info("trigger rescheduled", logx.Duration("every", every))
	return nil
}

func (t *Trigger) scheduleLocked(every time.Duration) error {
	if every < time.Second {
		return fmt.Errorf("sweep interval %s is below one second", every)
	}
	id, err := t.c.AddJob("@every "+every.String(), t.job)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	t.entry = id
	t.every = every
	return nil
}

// Every returns the current interval.
func (t *Trigger) Every() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.every
}

// Fire runs the job now unless a run is already in flight.
func (t *Trigger) Fire() { t.job.Run() }

// Stop halts scheduling and waits for the run in flight, bounded by ctx.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.ctx = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.log.Info("trigger stopped")
	case <-ctx.Done():
		t.log.Warn("trigger stop timed out; a sweep is still running")
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
