package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is closed")
	ErrInvalidInput    = errors.New("invalid session input")
	ErrInvalidProgress = errors.New("invalid progress payload")
)

// Completion is applied to a record exactly once.
type Completion struct {
	Answers []*string
	Reason  EndReason
	Result  Result
	At      time.Time
}

type Store interface {
	Insert(ctx context.Context, s QuizSession) error
	Get(ctx context.Context, id string) (QuizSession, error)
	// SaveProgress replaces answers and pointer of an active record.
	// It returns ErrSessionClosed when the record is already completed.
	SaveProgress(ctx context.Context, id string, answers []*string, current int, at time.Time) error
	// Complete applies c if the record is still active. applied reports
	// whether this call did it; the returned record is current either way.
	Complete(ctx context.Context, id string, c Completion) (rec QuizSession, applied bool, err error)
	ListActive(ctx context.Context, userID, topic string) ([]QuizSession, error)
	ListOverdue(ctx context.Context, now time.Time) ([]QuizSession, error)
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]QuizSession
}

func NewMemoryStore() Store {
	return &memoryStore{sessions: map[string]QuizSession{}}
}

func (m *memoryStore) Insert(_ context.Context, s QuizSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (QuizSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return QuizSession{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *memoryStore) SaveProgress(_ context.Context, id string, answers []*string, current int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Completed {
		return ErrSessionClosed
	}
	s.UserAnswers = CloneAnswers(answers)
	s.CurrentQuestion = current
	s.UpdatedAt = at
	m.sessions[id] = s
	return nil
}

func (m *memoryStore) Complete(_ context.Context, id string, c Completion) (QuizSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return QuizSession{}, false, ErrNotFound
	}
	if s.Completed {
		return clone(s), false, nil
	}
	s.UserAnswers = CloneAnswers(c.Answers)
	s.Completed = true
	s.EndReason = c.Reason
	s.Score = c.Result.Score
	s.TimeTaken = c.Result.TimeTaken
	s.CompletedAt = c.At
	s.UpdatedAt = c.At
	m.sessions[id] = s
	return clone(s), true, nil
}

func (m *memoryStore) ListActive(_ context.Context, userID, topic string) ([]QuizSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []QuizSession{}
	for _, s := range m.sessions {
		if s.Completed || s.UserID != userID {
			continue
		}
		if topic != "" && s.Topic != topic {
			continue
		}
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *memoryStore) ListOverdue(_ context.Context, now time.Time) ([]QuizSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []QuizSession
	for _, s := range m.sessions {
		if !s.Completed && !now.Before(s.Deadline()) {
			out = append(out, clone(s))
		}
	}
	return out, nil
}

func clone(s QuizSession) QuizSession {
	s.Questions = append([]string(nil), s.Questions...)
	s.CorrectAnswers = append([]string(nil), s.CorrectAnswers...)
	s.Explanations = append([]string(nil), s.Explanations...)
	opts := make([][]string, len(s.Options))
	for i, o := range s.Options {
		opts[i] = append([]string(nil), o...)
	}
	s.Options = opts
	s.UserAnswers = CloneAnswers(s.UserAnswers)
	return s
}
