package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// ProgressTTL is how long a progress snapshot is trusted at all.
const ProgressTTL = 24 * time.Hour

// ProgressSnapshot mirrors the in-progress answers of one session. It is
// overwritten on every answer and every periodic save.
type ProgressSnapshot struct {
	SessionID       string    `json:"sessionId"`
	UserAnswers     []*string `json:"userAnswers"`
	CurrentQuestion int       `json:"currentQuestion"`
	LastSaved       time.Time `json:"lastSaved"`
	Topic           string    `json:"topic"`
	Title           string    `json:"title"`
}

// SessionSnapshot is the immutable content of a session, written once at start.
type SessionSnapshot struct {
	SessionID      string     `json:"sessionId"`
	Questions      []string   `json:"questions"`
	Options        [][]string `json:"options"`
	CorrectAnswers []string   `json:"correctAnswers"`
	Explanations   []string   `json:"explanations"`
	Topic          string     `json:"topic"`
	Title          string     `json:"title"`
}

// Store is the typed view over a KV for one user's cached attempt.
type Store struct {
	kv          KV
	clock       clock.PassiveClock
	progressKey string
	sessionKey  string
}

func New(kv KV, namespace string, clk clock.PassiveClock) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	prefix := "quiz"
	if namespace != "" {
		prefix = "quiz_" + namespace
	}
	return &Store{
		kv:          kv,
		clock:       clk,
		progressKey: prefix + "_progress",
		sessionKey:  prefix + "_session",
	}
}

func (s *Store) SaveProgress(ctx context.Context, p ProgressSnapshot) error {
	if p.LastSaved.IsZero() {
		p.LastSaved = s.clock.Now()
	}
	return s.put(ctx, s.progressKey, p)
}

// LoadProgress returns the cached progress. Records older than ProgressTTL
// are deleted and reported as absent.
func (s *Store) LoadProgress(ctx context.Context) (ProgressSnapshot, bool, error) {
	var p ProgressSnapshot
	ok, err := s.get(ctx, s.progressKey, &p)
	if err != nil || !ok {
		return ProgressSnapshot{}, false, err
	}
	if s.clock.Since(p.LastSaved) > ProgressTTL {
		if err := s.kv.Delete(ctx, s.progressKey); err != nil {
			return ProgressSnapshot{}, false, err
		}
		return ProgressSnapshot{}, false, nil
	}
	return p, true, nil
}

func (s *Store) SaveSession(ctx context.Context, snap SessionSnapshot) error {
	return s.put(ctx, s.sessionKey, snap)
}

func (s *Store) LoadSession(ctx context.Context) (SessionSnapshot, bool, error) {
	var snap SessionSnapshot
	ok, err := s.get(ctx, s.sessionKey, &snap)
	if err != nil || !ok {
		return SessionSnapshot{}, false, err
	}
	return snap, true, nil
}

// Clear drops both records together.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, s.progressKey, s.sessionKey)
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, b); err != nil {
		return fmt.Errorf("localstore: write %s: %w", key, err)
	}
	return nil
}

// A record that no longer decodes is treated as absent and removed.
func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	b, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("localstore: read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, s.kv.Delete(ctx, key)
	}
	return true, nil
}
