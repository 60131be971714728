package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	statusActive    = "active"
	statusCompleted = "completed"
)

// SQLStore keeps sessions in the quiz_sessions table. Works on both sqlite
// (modernc) and postgres (pgx stdlib); both accept $n placeholders.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

type content struct {
	Questions      []string   `json:"questions"`
	Options        [][]string `json:"options"`
	CorrectAnswers []string   `json:"correctAnswers"`
	Explanations   []string   `json:"explanations,omitempty"`
}

const selectCols = `id,user_id,topic,title,difficulty,content_json,start_time_ms,duration_sec,
	user_answers_json,current_question,status,end_reason,score,time_taken,completed_at_ms,updated_at_ms`

func (s *SQLStore) Insert(ctx context.Context, q QuizSession) error {
	cj, err := json.Marshal(content{q.Questions, q.Options, q.CorrectAnswers, q.Explanations})
	if err != nil {
		return err
	}
	aj, err := json.Marshal(q.UserAnswers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO quiz_sessions
		(id,user_id,topic,title,difficulty,content_json,start_time_ms,duration_sec,
		 user_answers_json,current_question,status,end_reason,score,time_taken,completed_at_ms,updated_at_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'',0,0,0,$12)`,
		q.ID, q.UserID, q.Topic, q.Title, q.Difficulty, string(cj), q.StartTime.UnixMilli(), q.DurationSec,
		string(aj), q.CurrentQuestion, statusActive, q.UpdatedAt.UnixMilli())
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (QuizSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM quiz_sessions WHERE id=$1`, id)
	q, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QuizSession{}, ErrNotFound
	}
	return q, err
}

func (s *SQLStore) SaveProgress(ctx context.Context, id string, answers []*string, current int, at time.Time) error {
	aj, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE quiz_sessions
		SET user_answers_json=$1, current_question=$2, updated_at_ms=$3
		WHERE id=$4 AND status=$5`,
		string(aj), current, at.UnixMilli(), id, statusActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrSessionClosed
}

func (s *SQLStore) Complete(ctx context.Context, id string, c Completion) (QuizSession, bool, error) {
	aj, err := json.Marshal(c.Answers)
	if err != nil {
		return QuizSession{}, false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE quiz_sessions
		SET status=$1, end_reason=$2, score=$3, time_taken=$4, completed_at_ms=$5, updated_at_ms=$6, user_answers_json=$7
		WHERE id=$8 AND status=$9`,
		statusCompleted, string(c.Reason), c.Result.Score, c.Result.TimeTaken, c.At.UnixMilli(), c.At.UnixMilli(), string(aj), id, statusActive)
	if err != nil {
		return QuizSession{}, false, err
	}
	n, _ := res.RowsAffected()
	q, err := s.Get(ctx, id)
	if err != nil {
		return QuizSession{}, false, err
	}
	return q, n == 1, nil
}

func (s *SQLStore) ListActive(ctx context.Context, userID, topic string) ([]QuizSession, error) {
	query := `SELECT ` + selectCols + ` FROM quiz_sessions WHERE user_id=$1 AND status=$2`
	args := []any{userID, statusActive}
	if topic != "" {
		query += ` AND topic=$3`
		args = append(args, topic)
	}
	query += ` ORDER BY start_time_ms DESC`
	return s.query(ctx, query, args...)
}

func (s *SQLStore) ListOverdue(ctx context.Context, now time.Time) ([]QuizSession, error) {
	return s.query(ctx, `SELECT `+selectCols+` FROM quiz_sessions
		WHERE status=$1 AND start_time_ms + duration_sec*1000 <= $2`, statusActive, now.UnixMilli())
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]QuizSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []QuizSession{}
	for rows.Next() {
		q, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (QuizSession, error) {
	var (
		q                          QuizSession
		cjson, ajson, status, why  string
		startMs, doneMs, updatedMs int64
	)
	if err := sc.Scan(&q.ID, &q.UserID, &q.Topic, &q.Title, &q.Difficulty, &cjson, &startMs, &q.DurationSec,
		&ajson, &q.CurrentQuestion, &status, &why, &q.Score, &q.TimeTaken, &doneMs, &updatedMs); err != nil {
		return QuizSession{}, err
	}
	var c content
	if err := json.Unmarshal([]byte(cjson), &c); err != nil {
		return QuizSession{}, fmt.Errorf("session %s content: %w", q.ID, err)
	}
	if err := json.Unmarshal([]byte(ajson), &q.UserAnswers); err != nil {
		return QuizSession{}, fmt.Errorf("session %s answers: %w", q.ID, err)
	}
	q.Questions, q.Options, q.CorrectAnswers, q.Explanations = c.Questions, c.Options, c.CorrectAnswers, c.Explanations
	q.StartTime = time.UnixMilli(startMs)
	q.UpdatedAt = fromMilli(updatedMs)
	q.CompletedAt = fromMilli(doneMs)
	q.Completed = status == statusCompleted
	q.EndReason = EndReason(why)
	return q, nil
}
