package session

import (
	"encoding/json"
	"time"
)

type EndReason string

const (
	EndSubmitted EndReason = "submitted"
	EndExpired   EndReason = "expired"
)

// QuizSession is the server-side record of one timed attempt. It is the only
// authority for time and completion.
type QuizSession struct {
	ID         string `json:"sessionId"`
	UserID     string `json:"userId"`
	Topic      string `json:"topic"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty,omitempty"`

	Questions      []string   `json:"questions"`
	Options        [][]string `json:"options"`
	CorrectAnswers []string   `json:"correctAnswers"`
	Explanations   []string   `json:"explanations,omitempty"`

	StartTime   time.Time `json:"-"`
	DurationSec int       `json:"duration"`

	UserAnswers     []*string `json:"userAnswers"` // nil slot = unanswered
	CurrentQuestion int       `json:"currentQuestion"`
	UpdatedAt       time.Time `json:"-"`

	Completed   bool      `json:"isCompleted"`
	EndReason   EndReason `json:"endReason,omitempty"`
	Score       int       `json:"score"`
	TimeTaken   int       `json:"timeTaken"` // seconds
	CompletedAt time.Time `json:"-"`
}

// Deadline is the absolute instant the session runs out of time.
func (s QuizSession) Deadline() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationSec) * time.Second)
}

// Remaining returns whole seconds left at now, never negative.
func (s QuizSession) Remaining(now time.Time) int {
	if s.Completed {
		return 0
	}
	elapsed := int(now.Sub(s.StartTime) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if left := s.DurationSec - elapsed; left > 0 {
		return left
	}
	return 0
}

// Timestamps travel as unix milliseconds.
type sessionJSON struct {
	StartTime   int64 `json:"startTime"`
	UpdatedAt   int64 `json:"updatedAt,omitempty"`
	CompletedAt int64 `json:"completedAt,omitempty"`
}

func (s QuizSession) MarshalJSON() ([]byte, error) {
	type plain QuizSession
	return json.Marshal(struct {
		plain
		sessionJSON
	}{
		plain: plain(s),
		sessionJSON: sessionJSON{
			StartTime:   unixMilli(s.StartTime),
			UpdatedAt:   unixMilli(s.UpdatedAt),
			CompletedAt: unixMilli(s.CompletedAt),
		},
	})
}

func (s *QuizSession) UnmarshalJSON(b []byte) error {
	type plain QuizSession
	var aux struct {
		plain
		sessionJSON
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*s = QuizSession(aux.plain)
	s.StartTime = fromMilli(aux.sessionJSON.StartTime)
	s.UpdatedAt = fromMilli(aux.sessionJSON.UpdatedAt)
	s.CompletedAt = fromMilli(aux.sessionJSON.CompletedAt)
	return nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SyncResult is the authoritative timing view returned by Sync.
type SyncResult struct {
	ServerTime       int64        `json:"serverTime"` // unix ms
	RemainingSeconds int          `json:"remainingSeconds"`
	IsExpired        bool         `json:"isExpired"`
	Session          SyncProgress `json:"session"`
}

type SyncProgress struct {
	CurrentQuestion int       `json:"currentQuestion"`
	UserAnswers     []*string `json:"userAnswers"`
	IsCompleted     bool      `json:"isCompleted"`
}

// Result is what a submission reports. It never changes after the first one.
type Result struct {
	Score     int `json:"score"`
	TimeTaken int `json:"timeTaken"`
}

type CreateInput struct {
	UserID         string     `json:"userId"`
	Topic          string     `json:"topic"`
	Title          string     `json:"title"`
	Difficulty     string     `json:"difficulty"`
	Questions      []string   `json:"questions"`
	Options        [][]string `json:"options"`
	CorrectAnswers []string   `json:"correctAnswers"`
	Explanations   []string   `json:"explanations"`
}

// Choice returns a pointer to v, for building answer slots.
func Choice(v string) *string { return &v }

// CloneAnswers deep-copies an answer set so callers never share slots.
func CloneAnswers(in []*string) []*string {
	if in == nil {
		return nil
	}
	out := make([]*string, len(in))
	for i, a := range in {
		if a != nil {
			v := *a
			out[i] = &v
		}
	}
	return out
}
