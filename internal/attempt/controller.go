// Package attempt drives one timed quiz attempt on the client: it owns the
// countdown and the progress synchronizer, takes answers, and submits exactly
// once, either on request or when time runs out.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/localstore"
	"github.com/mind-engage/mindengage-quiz/internal/progress"
	"github.com/mind-engage/mindengage-quiz/internal/session"
	"github.com/mind-engage/mindengage-quiz/internal/timer"
)

type State string

const (
	StateActive     State = "active"
	StateExpired    State = "expired"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
)

// TimeUpNotice is sent through Options.Notify when the countdown reaches zero.
const TimeUpNotice = "time's up, submitting automatically"

// Auto-submit retries back off from AutoSubmitRetry up to AutoSubmitMaxRetry.
const (
	AutoSubmitRetry    = 2 * time.Second
	AutoSubmitMaxRetry = 30 * time.Second
)

var (
	ErrNotActive      = errors.New("attempt: not active")
	ErrSubmitInFlight = errors.New("attempt: submit in flight")
	ErrOutOfRange     = errors.New("attempt: question index out of range")
)

// API is the slice of the session server an attempt talks to.
type API interface {
	timer.Syncer
	progress.Saver
	Submit(ctx context.Context, sessionID string, answers []*string) (session.Result, error)
}

type Options struct {
	Clock        clock.WithTicker
	Local        *localstore.Store
	Logger       *slog.Logger
	TickInterval time.Duration
	SyncInterval time.Duration
	SaveInterval time.Duration

	OnTick     func(remaining int)
	Notify     func(msg string)
	OnComplete func(session.Result)
}

type Controller struct {
	api  API
	sess session.QuizSession
	opts Options
	log  *slog.Logger

	engine *timer.Engine
	saves  *progress.Synchronizer

	// writeMu orders answer updates end to end, local mirror included.
	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	answers []*string
	current int
	result  session.Result
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewController prepares an attempt on sess. Answers and the current index
// are taken from sess; the countdown shows the locally known remaining time
// until the first sync replaces it.
func NewController(api API, sess session.QuizSession, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", sess.ID)

	answers := session.CloneAnswers(sess.UserAnswers)
	if len(answers) != len(sess.Questions) {
		answers = make([]*string, len(sess.Questions))
	}
	current := sess.CurrentQuestion
	if current < 0 || current >= len(answers) {
		current = 0
	}

	c := &Controller{
		api:     api,
		sess:    sess,
		opts:    opts,
		log:     log,
		state:   StateActive,
		answers: answers,
		current: current,
		done:    make(chan struct{}),
	}
	c.engine = timer.New(sess.ID, initialRemaining(sess, opts.Clock.Now()), api, timer.Options{
		TickInterval: opts.TickInterval,
		SyncInterval: opts.SyncInterval,
		Clock:        opts.Clock,
		OnTick:       opts.OnTick,
		OnTimeUp:     c.onTimeUp,
		OnError:      func(err error) { log.Warn("timer sync failed", "err", err) },
	})
	c.saves = progress.New(sess.ID, api, progress.Options{
		Interval: opts.SaveInterval,
		Clock:    opts.Clock,
		Local:    opts.Local,
		Topic:    sess.Topic,
		Title:    sess.Title,
		Logger:   log,
	})
	return c
}

func initialRemaining(s session.QuizSession, now time.Time) int {
	if !s.StartTime.IsZero() && s.DurationSec > 0 {
		return s.Remaining(now)
	}
	if s.DurationSec > 0 {
		return s.DurationSec
	}
	return int(session.DefaultDuration / time.Second)
}

// Start runs the countdown, the server sync and the periodic save together.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil || c.state == StateCompleted {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.runCtx = ctx
	c.mu.Unlock()

	c.saves.Start(ctx)
	c.engine.Start(ctx)
}

// Stop tears every schedule down without submitting. The local cache is kept
// so the attempt can be resumed.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.engine.Stop()
	c.saves.Stop()
	c.engine.Wait()
	c.wg.Wait()
}

func (c *Controller) Session() session.QuizSession { return c.sess }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Remaining() int { return c.engine.Remaining() }

func (c *Controller) Answers() ([]*string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session.CloneAnswers(c.answers), c.current
}

// Result reports the stored result once the attempt is completed.
func (c *Controller) Result() (session.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.state == StateCompleted
}

// Done is closed when the attempt completes.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Answer sets the choice for question index and makes it current.
func (c *Controller) Answer(ctx context.Context, index int, choice string) error {
	return c.update(ctx, index, func(a []*string) { a[index] = session.Choice(choice) })
}

// Navigate moves the current-question pointer.
func (c *Controller) Navigate(ctx context.Context, index int) error {
	return c.update(ctx, index, nil)
}

func (c *Controller) update(ctx context.Context, index int, mutate func([]*string)) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if index < 0 || index >= len(c.answers) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	if mutate != nil {
		mutate(c.answers)
	}
	c.current = index
	answers, current := session.CloneAnswers(c.answers), c.current
	c.mu.Unlock()

	if err := c.saves.Record(ctx, answers, current); err != nil && !errors.Is(err, progress.ErrHalted) {
		c.log.Warn("cache progress", "err", err)
	}
	return nil
}

// Submit sends the current answers and completes the attempt. Once completed
// it returns the stored result without contacting the server.
func (c *Controller) Submit(ctx context.Context) (session.Result, error) {
	c.mu.Lock()
	switch c.state {
	case StateCompleted:
		res := c.result
		c.mu.Unlock()
		return res, nil
	case StateSubmitting:
		c.mu.Unlock()
		return session.Result{}, ErrSubmitInFlight
	}
	prev := c.state
	c.state = StateSubmitting
	answers := session.CloneAnswers(c.answers)
	c.mu.Unlock()

	res, err := c.api.Submit(ctx, c.sess.ID, answers)
	if err != nil {
		c.mu.Lock()
		c.state = prev
		// time ran out while the request was in flight; onTimeUp saw
		// submitting and left the auto-submit to us
		if prev == StateActive && c.engine.Expired() {
			runCtx := c.expireLocked()
			c.mu.Unlock()
			c.startAutoSubmit(runCtx)
		} else {
			c.mu.Unlock()
		}
		return session.Result{}, fmt.Errorf("submit: %w", err)
	}

	c.mu.Lock()
	c.state = StateCompleted
	c.result = res
	c.mu.Unlock()
	c.finish(ctx, res)
	return res, nil
}

func (c *Controller) finish(ctx context.Context, res session.Result) {
	c.saves.Halt()
	c.engine.Stop()
	if c.opts.Local != nil {
		if err := c.opts.Local.Clear(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("clear cached attempt", "err", err)
		}
	}
	c.log.Info("attempt completed", "score", res.Score, "time_taken", res.TimeTaken)
	if c.opts.OnComplete != nil {
		c.opts.OnComplete(res)
	}
	close(c.done)
}

// onTimeUp runs on the timer's goroutine, from either the local tick or a
// server sync; only the first call out of active does anything.
func (c *Controller) onTimeUp() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	runCtx := c.expireLocked()
	c.mu.Unlock()
	c.startAutoSubmit(runCtx)
}

// expireLocked moves an active attempt to expired and returns the run
// context, nil before Start. c.mu must be held.
func (c *Controller) expireLocked() context.Context {
	c.state = StateExpired
	return c.runCtx
}

// startAutoSubmit stops progress saves, which the server now rejects, and
// keeps submitting until it succeeds or ctx is done. Without a running
// attempt there is nothing to retry on; Submit stays available to the user.
func (c *Controller) startAutoSubmit(ctx context.Context) {
	c.saves.Halt()
	if c.opts.Notify != nil {
		c.opts.Notify(TimeUpNotice)
	} else {
		c.log.Info(TimeUpNotice)
	}
	if ctx == nil || ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.autoSubmit(ctx)
	}()
}

func (c *Controller) autoSubmit(ctx context.Context) {
	delay := AutoSubmitRetry
	for {
		_, err := c.Submit(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		c.log.Warn("auto-submit failed", "err", err, "retry_in", delay)
		t := c.opts.Clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C():
		}
		delay = min(2*delay, AutoSubmitMaxRetry)
	}
}
