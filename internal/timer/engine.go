// Package timer runs the client-side countdown for a quiz session. The local
// count ticks every second for display and is overwritten by the server's
// remaining time on every sync; the server always wins.
package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/session"
)

const (
	DefaultTickInterval = time.Second
	DefaultSyncInterval = 30 * time.Second
	DefaultSyncTimeout  = 10 * time.Second
)

// Syncer fetches the authoritative timing state of a session.
type Syncer interface {
	Sync(ctx context.Context, sessionID string) (session.SyncResult, error)
}

type Options struct {
	TickInterval time.Duration
	SyncInterval time.Duration
	SyncTimeout  time.Duration
	Clock        clock.WithTicker

	OnTick   func(remaining int) // after every local tick or applied sync
	OnTimeUp func()              // at most once per Engine
	OnError  func(error)         // failed syncs; ticking continues
}

type Engine struct {
	sessionID string
	src       Syncer
	opts      Options

	mu        sync.Mutex
	remaining int
	expired   bool
	fired     bool
	running   bool
	stopped   bool
	cancel    context.CancelFunc

	wg      sync.WaitGroup
	syncing atomic.Bool
}

// New returns a stopped engine showing remaining seconds until the first
// sync says otherwise.
func New(sessionID string, remaining int, src Syncer, opts Options) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if remaining < 0 {
		remaining = 0
	}
	return &Engine{sessionID: sessionID, src: src, opts: opts, remaining: remaining}
}

func (e *Engine) SessionID() string { return e.sessionID }

func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

func (e *Engine) Expired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expired
}

// Start begins local ticking and periodic syncing, and syncs once right away.
// Starting a running or stopped engine does nothing.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running || e.stopped {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	tick := e.opts.Clock.NewTicker(e.opts.TickInterval)
	resync := e.opts.Clock.NewTicker(e.opts.SyncInterval)
	e.wg.Add(1)
	e.mu.Unlock()

	e.syncAsync(ctx)
	go e.loop(ctx, tick, resync)
}

func (e *Engine) loop(ctx context.Context, tick, resync clock.Ticker) {
	defer e.wg.Done()
	defer tick.Stop()
	defer resync.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C():
			if ctx.Err() == nil {
				e.Tick()
			}
		case <-resync.C():
			e.syncAsync(ctx)
		}
	}
}

// Stop cancels both schedules. Safe to call from a callback and more than
// once; use Wait to block until in-flight work has drained.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the loop and any in-flight sync have returned.
func (e *Engine) Wait() { e.wg.Wait() }

// Tick decrements the countdown by one second.
func (e *Engine) Tick() {
	e.mu.Lock()
	if e.expired || e.stopped {
		e.mu.Unlock()
		return
	}
	if e.remaining > 0 {
		e.remaining--
	}
	fire := false
	if e.remaining == 0 {
		fire = e.expireLocked()
	}
	left := e.remaining
	e.mu.Unlock()

	e.notify(left, fire)
}

// SyncWithServer fetches remaining time and overwrites the local count.
func (e *Engine) SyncWithServer(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.SyncTimeout)
	defer cancel()
	res, err := e.src.Sync(ctx, e.sessionID)
	if err != nil {
		if e.opts.OnError != nil && !e.isStopped() {
			e.opts.OnError(err)
		}
		return err
	}
	e.apply(res)
	return nil
}

// One sync in flight at a time; a tick of the sync schedule that finds one
// running is skipped.
func (e *Engine) syncAsync(ctx context.Context) {
	if !e.syncing.CompareAndSwap(false, true) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.syncing.Store(false)
		_ = e.SyncWithServer(ctx)
	}()
}

func (e *Engine) apply(res session.SyncResult) {
	e.mu.Lock()
	// Expiry is one-way and a stopped engine takes no more input.
	if e.expired || e.stopped {
		e.mu.Unlock()
		return
	}
	e.remaining = res.RemainingSeconds
	if e.remaining < 0 {
		e.remaining = 0
	}
	fire := false
	if res.IsExpired || res.Session.IsCompleted || e.remaining == 0 {
		fire = e.expireLocked()
	}
	left := e.remaining
	e.mu.Unlock()

	e.notify(left, fire)
}

func (e *Engine) expireLocked() bool {
	e.expired = true
	e.remaining = 0
	if e.fired {
		return false
	}
	e.fired = true
	return true
}

func (e *Engine) notify(left int, fire bool) {
	if e.opts.OnTick != nil {
		e.opts.OnTick(left)
	}
	if fire && e.opts.OnTimeUp != nil {
		e.opts.OnTimeUp()
	}
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}
