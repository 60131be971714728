package attempt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mind-engage/mindengage-quiz/internal/localstore"
	"github.com/mind-engage/mindengage-quiz/internal/resume"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

// QuestionProvider supplies the content of a new session. The returned input
// carries topic, title, difficulty and the question set; the user is filled
// in by the caller.
type QuestionProvider interface {
	Questions(ctx context.Context, topic, difficulty string) (session.CreateInput, error)
}

// Backend is the full server surface needed to open an attempt.
type Backend interface {
	API
	resume.ActiveLister
	CreateSession(ctx context.Context, in session.CreateInput) (string, error)
}

type Launcher struct {
	Backend   Backend
	Questions QuestionProvider
	Resolver  *resume.Resolver
	// Options.Local also receives the content of every opened session.
	Options Options
}

// Open returns an attempt for userID on topic that has not been started.
// Unless fresh is set, a resumable attempt is picked first; otherwise, or
// when nothing can be resumed, a new session is created.
func (l *Launcher) Open(ctx context.Context, userID, topic, difficulty string, fresh bool) (*Controller, resume.Source, error) {
	log := l.Options.Logger
	if log == nil {
		log = slog.Default()
	}

	if !fresh {
		d, err := l.Resolver.Resolve(ctx, userID, topic)
		if err != nil {
			log.Warn("resume lookup failed, starting fresh", "err", err)
		}
		switch d.Source {
		case resume.SourceLocal:
			return NewController(l.Backend, d.Session, l.Options), d.Source, nil
		case resume.SourceServer:
			if err := l.cacheContent(ctx, d.Session); err != nil {
				log.Warn("cache resumed session", "err", err)
			}
			return NewController(l.Backend, d.Session, l.Options), d.Source, nil
		}
	}

	if err := l.Resolver.StartNew(ctx); err != nil {
		log.Warn("clear cached attempt", "err", err)
	}
	in, err := l.Questions.Questions(ctx, topic, difficulty)
	if err != nil {
		return nil, resume.SourceNone, fmt.Errorf("fetch questions: %w", err)
	}
	in.UserID = userID
	id, err := l.Backend.CreateSession(ctx, in)
	if err != nil {
		return nil, resume.SourceNone, fmt.Errorf("create session: %w", err)
	}
	sess := session.QuizSession{
		ID:             id,
		UserID:         userID,
		Topic:          in.Topic,
		Title:          in.Title,
		Difficulty:     in.Difficulty,
		Questions:      in.Questions,
		Options:        in.Options,
		CorrectAnswers: in.CorrectAnswers,
		Explanations:   in.Explanations,
		UserAnswers:    make([]*string, len(in.Questions)),
	}
	if err := l.cacheContent(ctx, sess); err != nil {
		log.Warn("cache new session", "err", err)
	}
	return NewController(l.Backend, sess, l.Options), resume.SourceNone, nil
}

// cacheContent seeds both local records so a restart right away can resume
// from the cache.
func (l *Launcher) cacheContent(ctx context.Context, s session.QuizSession) error {
	local := l.Options.Local
	if local == nil {
		return nil
	}
	answers := s.UserAnswers
	if len(answers) != len(s.Questions) {
		answers = make([]*string, len(s.Questions))
	}
	if err := local.SaveProgress(ctx, localstore.ProgressSnapshot{
		SessionID:       s.ID,
		UserAnswers:     answers,
		CurrentQuestion: s.CurrentQuestion,
		Topic:           s.Topic,
		Title:           s.Title,
	}); err != nil {
		return err
	}
	return local.SaveSession(ctx, localstore.SessionSnapshot{
		SessionID:      s.ID,
		Questions:      s.Questions,
		Options:        s.Options,
		CorrectAnswers: s.CorrectAnswers,
		Explanations:   s.Explanations,
		Topic:          s.Topic,
		Title:          s.Title,
	})
}
