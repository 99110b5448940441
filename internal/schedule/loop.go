// Package schedule runs a playback session's callbacks on one serialized
// loop and owns its named timers.
//
// Every state mutation of a session happens inside a callback executed by
// the Loop: posted functions, fired tasks, and the results of off-loop work
// started with Go. Once Dispose is called the loop drops everything that is
// still pending, so late network replies never touch a torn-down session.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

type task struct {
	name     string
	due      time.Time
	interval time.Duration
	fn       func()
	seq      uint64
}

type Loop struct {
	clock clockwork.Clock

	mu       sync.Mutex
	queue    []func()
	tasks    map[string]*task
	seq      uint64
	disposed bool

	// stepMu keeps callbacks from running on two goroutines at once.
	stepMu sync.Mutex

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	pending  atomic.Int64
}

func New(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		clock:  clock,
		tasks:  make(map[string]*task),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Context is cancelled when the loop is disposed.
func (l *Loop) Context() context.Context {
	return l.ctx
}

func (l *Loop) Disposed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disposed
}

// Post queues fn to run on the loop. Posts after Dispose are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.notify()
}

// Go runs work on its own goroutine with the loop context. The function it
// returns, if any, is posted back to the loop.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.inflight.Add(1)
	l.pending.Add(1)
	l.mu.Unlock()

	go func() {
		defer func() {
			l.pending.Add(-1)
			l.inflight.Done()
		}()
		if apply := work(l.ctx); apply != nil {
			l.Post(apply)
		}
	}()
}

// GoDetached runs work with a context that survives Dispose, bounded by
// timeout. Teardown writes such as the final progress checkpoint use it.
func (l *Loop) GoDetached(timeout time.Duration, work func(ctx context.Context)) {
	l.inflight.Add(1)
	l.pending.Add(1)
	go func() {
		defer func() {
			l.pending.Add(-1)
			l.inflight.Done()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		work(ctx)
	}()
}

// Every registers a repeating task. Registering an existing name replaces it.
func (l *Loop) Every(name string, interval time.Duration, fn func()) {
	l.schedule(name, interval, interval, fn)
}

// After registers a one-shot task. Registering an existing name replaces it.
func (l *Loop) After(name string, delay time.Duration, fn func()) {
	l.schedule(name, delay, 0, fn)
}

func (l *Loop) schedule(name string, delay, interval time.Duration, fn func()) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.seq++
	l.tasks[name] = &task{
		name:     name,
		due:      l.clock.Now().Add(delay),
		interval: interval,
		fn:       fn,
		seq:      l.seq,
	}
	l.mu.Unlock()
	l.notify()
}

func (l *Loop) Cancel(name string) {
	l.mu.Lock()
	delete(l.tasks, name)
	l.mu.Unlock()
}

func (l *Loop) Active(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tasks[name]
	return ok
}

// Dispose cancels every task and the loop context. It does not wait for
// in-flight work; use Wait for that.
func (l *Loop) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	l.tasks = make(map[string]*task)
	l.queue = nil
	l.mu.Unlock()
	l.cancel()
	l.notify()
}

// Wait blocks until all work started with Go or GoDetached has returned.
func (l *Loop) Wait() {
	l.inflight.Wait()
}

// Run executes callbacks as they become due until ctx is done or the loop
// is disposed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.step()

		var timer clockwork.Timer
		var timerC <-chan time.Time
		if next, ok := l.nextDue(); ok {
			d := next.Sub(l.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = l.clock.NewTimer(d)
			timerC = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-l.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) nextDue() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var next time.Time
	found := false
	for _, t := range l.tasks {
		if !found || t.due.Before(next) {
			next = t.due
			found = true
		}
	}
	return next, found
}

func (l *Loop) popQueued() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// popDue removes or reschedules the earliest task due at now.
func (l *Loop) popDue(now time.Time) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return nil, false
	}
	var due *task
	for _, t := range l.tasks {
		if t.due.After(now) {
			continue
		}
		if due == nil || t.due.Before(due.due) || (t.due.Equal(due.due) && t.seq < due.seq) {
			due = t
		}
	}
	if due == nil {
		return nil, false
	}
	if due.interval > 0 {
		due.due = due.due.Add(due.interval)
		if !due.due.After(now) {
			due.due = now.Add(due.interval)
		}
	} else {
		delete(l.tasks, due.name)
	}
	return due.fn, true
}

func (l *Loop) drain() {
	for {
		fn, ok := l.popQueued()
		if !ok {
			return
		}
		fn()
	}
}

func (l *Loop) step() {
	l.stepMu.Lock()
	defer l.stepMu.Unlock()

	l.drain()
	now := l.clock.Now()
	for {
		fn, ok := l.popDue(now)
		if !ok {
			return
		}
		fn()
		l.drain()
	}
}

func (l *Loop) idle() bool {
	if l.pending.Load() != 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) == 0 || l.disposed
}

// Settle waits for in-flight work and runs everything queued or due now,
// repeating until nothing is left. It is meant for callers that drive the
// loop by hand instead of calling Run.
func (l *Loop) Settle() {
	for {
		l.inflight.Wait()
		l.step()
		if l.idle() {
			return
		}
	}
}

type advancer interface {
	Advance(d time.Duration)
}

// Advance moves a fake clock forward by d, firing each task at the instant
// it comes due. It panics when the loop runs on a real clock.
func (l *Loop) Advance(d time.Duration) {
	fc, ok := l.clock.(advancer)
	if !ok {
		panic("schedule: Advance requires a fake clock")
	}
	target := l.clock.Now().Add(d)
	for {
		l.Settle()
		next, ok := l.nextDue()
		if !ok || next.After(target) {
			break
		}
		if gap := next.Sub(l.clock.Now()); gap > 0 {
			fc.Advance(gap)
		}
		l.step()
	}
	if gap := target.Sub(l.clock.Now()); gap > 0 {
		fc.Advance(gap)
	}
	l.Settle()
}
