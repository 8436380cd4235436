package session

import (
	"context"
	"errors"
	"time"
)

// ReconcileInterval is how often a Loop re-reads the room object map.
const ReconcileInterval = time.Second

type call struct {
	fn   func(*Session) error
	done chan error
}

// Loop owns a Session's goroutine. It ticks the session whenever callbacks
// are queued, on every interval, and runs submitted calls between ticks.
// Every ReconcileInterval it also reconciles the session's handles.
type Loop struct {
	session  *Session
	interval time.Duration
	calls    chan call
	stopped  chan struct{}
}

func NewLoop(s *Session, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Loop{
		session:  s,
		interval: interval,
		calls:    make(chan call),
		stopped:  make(chan struct{}),
	}
}

// Run drives the session until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	reconcile := time.NewTicker(ReconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			l.session.Tick()
			return nil
		case <-l.session.Inbox().Ready():
			l.session.Tick()
		case <-ticker.C:
			l.session.Tick()
		case <-reconcile.C:
			if _, err := l.session.Reconcile(ctx); err != nil && !errors.Is(err, ErrLeft) {
				l.session.logger.Warn("reconciling room handles", "error", err)
			}
		case c := <-l.calls:
			l.session.Tick()
			c.done <- c.fn(l.session)
		}
	}
}

// Do runs fn on the loop goroutine and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(*Session) error) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case l.calls <- c:
	case <-l.stopped:
		return ErrLeft
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
