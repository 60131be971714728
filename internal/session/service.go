package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const (
	DefaultDuration    = 600 * time.Second
	DefaultSubmitGrace = 30 * time.Second
)

// Recorder receives lifecycle events. Implementations must not block for long.
type Recorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

type Options struct {
	Duration time.Duration
	// SubmitGrace is how long after the deadline a submitted payload is still
	// accepted. Zero means DefaultSubmitGrace, negative means none.
	SubmitGrace time.Duration
	Clock       clock.PassiveClock
	Events      Recorder
	Logger      *slog.Logger
}

type Service struct {
	store    Store
	duration int
	grace    time.Duration
	clock    clock.PassiveClock
	events   Recorder
	log      *slog.Logger
}

func NewService(store Store, opts Options) *Service {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	switch {
	case opts.SubmitGrace == 0:
		opts.SubmitGrace = DefaultSubmitGrace
	case opts.SubmitGrace < 0:
		opts.SubmitGrace = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:    store,
		duration: int(opts.Duration / time.Second),
		grace:    opts.SubmitGrace,
		clock:    opts.Clock,
		events:   opts.Events,
		log:      opts.Logger,
	}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (QuizSession, error) {
	if err := validateCreate(in); err != nil {
		return QuizSession{}, err
	}
	now := s.clock.Now()
	rec := QuizSession{
		ID:              uuid.NewString(),
		UserID:          strings.TrimSpace(in.UserID),
		Topic:           in.Topic,
		Title:           in.Title,
		Difficulty:      in.Difficulty,
		Questions:       in.Questions,
		Options:         in.Options,
		CorrectAnswers:  in.CorrectAnswers,
		Explanations:    in.Explanations,
		StartTime:       now,
		DurationSec:     s.duration,
		UserAnswers:     make([]*string, len(in.Questions)),
		CurrentQuestion: 0,
		UpdatedAt:       now,
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return QuizSession{}, fmt.Errorf("insert session: %w", err)
	}
	s.record(ctx, "SessionCreated", rec.ID, map[string]any{
		"userId": rec.UserID, "topic": rec.Topic, "questions": len(rec.Questions), "duration": rec.DurationSec,
	})
	return rec, nil
}

func validateCreate(in CreateInput) error {
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return fmt.Errorf("%w: userId required", ErrInvalidInput)
	case len(in.Questions) == 0:
		return fmt.Errorf("%w: at least one question required", ErrInvalidInput)
	case len(in.Options) != len(in.Questions):
		return fmt.Errorf("%w: %d option lists for %d questions", ErrInvalidInput, len(in.Options), len(in.Questions))
	case len(in.CorrectAnswers) != len(in.Questions):
		return fmt.Errorf("%w: %d correct answers for %d questions", ErrInvalidInput, len(in.CorrectAnswers), len(in.Questions))
	case len(in.Explanations) != 0 && len(in.Explanations) != len(in.Questions):
		return fmt.Errorf("%w: %d explanations for %d questions", ErrInvalidInput, len(in.Explanations), len(in.Questions))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (QuizSession, error) {
	return s.store.Get(ctx, id)
}

// Sync is a pure read of the authoritative timing state.
func (s *Service) Sync(ctx context.Context, id string) (SyncResult, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	now := s.clock.Now()
	left := rec.Remaining(now)
	return SyncResult{
		ServerTime:       now.UnixMilli(),
		RemainingSeconds: left,
		IsExpired:        left == 0,
		Session: SyncProgress{
			CurrentQuestion: rec.CurrentQuestion,
			UserAnswers:     rec.UserAnswers,
			IsCompleted:     rec.Completed,
		},
	}, nil
}

// SaveProgress replaces the stored answers with the full snapshot given.
// Concurrent writers resolve by arrival order.
func (s *Service) SaveProgress(ctx context.Context, id string, answers []*string, current int) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Completed || rec.Remaining(s.clock.Now()) == 0 {
		return fmt.Errorf("save progress %s: %w", id, ErrSessionClosed)
	}
	if len(answers) != len(rec.Questions) {
		return fmt.Errorf("%w: %d answers for %d questions", ErrInvalidProgress, len(answers), len(rec.Questions))
	}
	if current < 0 || current >= len(answers) {
		return fmt.Errorf("%w: question index %d out of range", ErrInvalidProgress, current)
	}
	if err := s.store.SaveProgress(ctx, id, answers, current, s.clock.Now()); err != nil {
		return fmt.Errorf("save progress %s: %w", id, err)
	}
	return nil
}

// Submit completes the session and scores it. Repeated calls return the
// first result without touching the record.
func (s *Service) Submit(ctx context.Context, id string, answers []*string) (Result, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if rec.Completed {
		return Result{Score: rec.Score, TimeTaken: rec.TimeTaken}, nil
	}
	now := s.clock.Now()
	final := rec.UserAnswers
	switch {
	case answers == nil:
	case len(answers) != len(rec.Questions):
		return Result{}, fmt.Errorf("%w: %d answers for %d questions", ErrInvalidProgress, len(answers), len(rec.Questions))
	case now.After(rec.Deadline().Add(s.grace)):
		s.log.Warn("late submission scored on saved answers", "session", id, "late_by", now.Sub(rec.Deadline()))
	default:
		final = answers
	}

	res := Result{Score: Score(final, rec.CorrectAnswers), TimeTaken: timeTaken(rec, now)}
	done, applied, err := s.store.Complete(ctx, id, Completion{Answers: final, Reason: EndSubmitted, Result: res, At: now})
	if err != nil {
		return Result{}, fmt.Errorf("submit %s: %w", id, err)
	}
	if applied {
		s.record(ctx, "SessionSubmitted", id, res)
	}
	return Result{Score: done.Score, TimeTaken: done.TimeTaken}, nil
}

func (s *Service) ListActive(ctx context.Context, userID, topic string) ([]QuizSession, error) {
	return s.store.ListActive(ctx, userID, topic)
}

// ExpireOverdue completes every active session whose deadline has passed,
// scoring the answers last saved for it.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.store.ListOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}
	n := 0
	for _, rec := range due {
		res := Result{Score: Score(rec.UserAnswers, rec.CorrectAnswers), TimeTaken: rec.DurationSec}
		_, applied, err := s.store.Complete(ctx, rec.ID, Completion{Answers: rec.UserAnswers, Reason: EndExpired, Result: res, At: now})
		if err != nil {
			s.log.Error("expire session", "session", rec.ID, "err", err)
			continue
		}
		if applied {
			n++
			s.record(ctx, "SessionExpired", rec.ID, res)
		}
	}
	return n, nil
}

func timeTaken(rec QuizSession, now time.Time) int {
	t := int(now.Sub(rec.StartTime) / time.Second)
	if t > rec.DurationSec {
		return rec.DurationSec
	}
	if t < 0 {
		return 0
	}
	return t
}

func (s *Service) record(ctx context.Context, typ, key string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, typ, key, data); err != nil {
		s.log.Warn("event log append failed", "type", typ, "session", key, "err", err)
	}
}
