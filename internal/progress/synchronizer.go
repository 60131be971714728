// Package progress pushes a session's answer set to the server without ever
// blocking the caller, mirroring every snapshot into the local store first.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/localstore"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultSaveTimeout = 10 * time.Second
)

var ErrHalted = errors.New("progress: synchronizer halted")

// Saver stores the full answer set for a session on the server.
type Saver interface {
	SaveProgress(ctx context.Context, sessionID string, answers []*string, current int) error
}

// Snapshot is one complete, immutable view of the answers. The local mirror
// and the server save always carry the same Snapshot.
type Snapshot struct {
	Answers []*string
	Current int
	At      time.Time
}

type Options struct {
	Interval    time.Duration
	SaveTimeout time.Duration
	Clock       clock.WithTicker
	// Local, when set, receives every snapshot synchronously.
	Local  *localstore.Store
	Topic  string
	Title  string
	Logger *slog.Logger
}

type Synchronizer struct {
	sessionID string
	saver     Saver
	opts      Options
	log       *slog.Logger

	// writeMu keeps latest and the local mirror in the same order.
	writeMu sync.Mutex

	mu      sync.Mutex
	latest  *Snapshot
	pending *Snapshot
	halted  bool
	running bool
	cancel  context.CancelFunc

	kick chan struct{}
	wg   sync.WaitGroup
}

func New(sessionID string, saver Saver, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{
		sessionID: sessionID,
		saver:     saver,
		opts:      opts,
		log:       log.With("session", sessionID),
		kick:      make(chan struct{}, 1),
	}
}

// Record captures answers and current as the newest snapshot, writes it to
// the local store and queues it for the server. Only the local write can fail.
func (s *Synchronizer) Record(ctx context.Context, answers []*string, current int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := &Snapshot{
		Answers: session.CloneAnswers(answers),
		Current: current,
		At:      s.opts.Clock.Now(),
	}

	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return ErrHalted
	}
	s.latest = snap
	s.pending = snap
	s.mu.Unlock()

	var err error
	if s.opts.Local != nil {
		err = s.opts.Local.SaveProgress(ctx, localstore.ProgressSnapshot{
			SessionID:       s.sessionID,
			UserAnswers:     snap.Answers,
			CurrentQuestion: snap.Current,
			LastSaved:       snap.At,
			Topic:           s.opts.Topic,
			Title:           s.opts.Title,
		})
	}
	s.wake()
	return err
}

// Latest returns a copy of the most recent snapshot, if any.
func (s *Synchronizer) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Snapshot{}, false
	}
	return Snapshot{Answers: session.CloneAnswers(s.latest.Answers), Current: s.latest.Current, At: s.latest.At}, true
}

// Start launches the save worker and the periodic save schedule.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.halted {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	t := s.opts.Clock.NewTicker(s.opts.Interval)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, t)
}

func (s *Synchronizer) run(ctx context.Context, t clock.Ticker) {
	defer s.wg.Done()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-t.C():
			s.mu.Lock()
			if s.pending == nil {
				s.pending = s.latest
			}
			s.mu.Unlock()
		}
		s.flush(ctx)
	}
}

// flush sends whatever is pending. Snapshots recorded while a save is in
// flight collapse into the newest one.
func (s *Synchronizer) flush(ctx context.Context) {
	s.mu.Lock()
	snap := s.pending
	s.pending = nil
	halted := s.halted
	s.mu.Unlock()
	if snap == nil || halted {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.SaveTimeout)
	defer cancel()
	err := s.saver.SaveProgress(sctx, s.sessionID, snap.Answers, snap.Current)
	switch {
	case err == nil:
		s.log.Debug("progress saved", "current", snap.Current)
	case ctx.Err() != nil:
		// halted or stopped mid-save; the result no longer matters
	default:
		s.log.Warn("progress save failed", "err", err)
	}
}

func (s *Synchronizer) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Halt cancels any in-flight save and rejects further snapshots. It does not
// wait; call Stop for that.
func (s *Synchronizer) Halt() {
	s.mu.Lock()
	s.halted = true
	s.pending = nil
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop halts the synchronizer and waits for the worker to exit.
func (s *Synchronizer) Stop() {
	s.Halt()
	s.wg.Wait()
}
