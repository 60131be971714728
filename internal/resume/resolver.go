// Package resume decides, when a user enters the quiz flow, whether to pick up
// a cached attempt, an attempt the server still holds open, or nothing.
package resume

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/localstore"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

// LocalWindow is how recent a cached snapshot must be to resume from it.
const LocalWindow = 10 * time.Minute

type Source string

const (
	SourceNone   Source = "none"
	SourceLocal  Source = "local"
	SourceServer Source = "server"
)

// ActiveLister returns the sessions a user has not completed.
type ActiveLister interface {
	ActiveSessions(ctx context.Context, userID string) ([]session.QuizSession, error)
}

// Decision carries everything needed to rehydrate an attempt. For SourceLocal
// only the fields held by the local snapshots are filled; time always comes
// from the server on the first sync.
type Decision struct {
	Source  Source
	Session session.QuizSession
}

type Resolver struct {
	local  *localstore.Store
	server ActiveLister
	clock  clock.PassiveClock
	log    *slog.Logger
}

func New(local *localstore.Store, server ActiveLister, clk clock.PassiveClock, log *slog.Logger) *Resolver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{local: local, server: server, clock: clk, log: log}
}

// Resolve picks the attempt to resume. Local cache wins when it is complete
// and fresh; otherwise the newest open server session for the topic (any
// topic when topic is empty). A server failure yields SourceNone with the
// error so the caller can decide to start fresh.
func (r *Resolver) Resolve(ctx context.Context, userID, topic string) (Decision, error) {
	if d, ok := r.fromLocal(ctx, topic); ok {
		return d, nil
	}

	open, err := r.server.ActiveSessions(ctx, userID)
	if err != nil {
		return Decision{Source: SourceNone}, fmt.Errorf("list active sessions: %w", err)
	}
	var best *session.QuizSession
	for i := range open {
		s := &open[i]
		if s.Completed || (topic != "" && s.Topic != topic) {
			continue
		}
		if best == nil || s.StartTime.After(best.StartTime) {
			best = s
		}
	}
	if best == nil {
		return Decision{Source: SourceNone}, nil
	}
	return Decision{Source: SourceServer, Session: *best}, nil
}

func (r *Resolver) fromLocal(ctx context.Context, topic string) (Decision, bool) {
	p, okP, err := r.local.LoadProgress(ctx)
	if err != nil {
		r.log.Warn("read cached progress", "err", err)
		return Decision{}, false
	}
	snap, okS, err := r.local.LoadSession(ctx)
	if err != nil {
		r.log.Warn("read cached session", "err", err)
		return Decision{}, false
	}
	if !okP && !okS {
		return Decision{}, false
	}

	var reason string
	switch {
	case !okP || !okS:
		reason = "incomplete"
	case p.SessionID != snap.SessionID:
		reason = "mismatched"
	case r.clock.Since(p.LastSaved) >= LocalWindow:
		reason = "stale"
	case topic != "" && snap.Topic != topic:
		// belongs to another topic; keep it for that one
		return Decision{}, false
	}
	if reason != "" {
		r.log.Info("discarding cached attempt", "reason", reason, "session", p.SessionID)
		if err := r.local.Clear(ctx); err != nil {
			r.log.Warn("clear cached attempt", "err", err)
		}
		return Decision{}, false
	}

	return Decision{
		Source: SourceLocal,
		Session: session.QuizSession{
			ID:              snap.SessionID,
			Topic:           snap.Topic,
			Title:           snap.Title,
			Questions:       snap.Questions,
			Options:         snap.Options,
			CorrectAnswers:  snap.CorrectAnswers,
			Explanations:    snap.Explanations,
			UserAnswers:     p.UserAnswers,
			CurrentQuestion: p.CurrentQuestion,
		},
	}, true
}

// StartNew clears any cached attempt ahead of creating a new session.
func (r *Resolver) StartNew(ctx context.Context) error {
	return r.local.Clear(ctx)
}
