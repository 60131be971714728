package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

const maxBody = 1 << 20

// SessionService is the server-side session record as the handlers use it.
type SessionService interface {
	Create(ctx context.Context, in session.CreateInput) (session.QuizSession, error)
	Get(ctx context.Context, id string) (session.QuizSession, error)
	Sync(ctx context.Context, id string) (session.SyncResult, error)
	SaveProgress(ctx context.Context, id string, answers []*string, current int) error
	Submit(ctx context.Context, id string, answers []*string) (session.Result, error)
	ListActive(ctx context.Context, userID, topic string) ([]session.QuizSession, error)
}

// MountQuiz registers the session routes. Callers put JWTMiddleware in front.
func MountQuiz(r chi.Router, svc SessionService) {
	r.With(rbac.Require(rbac.QuizCreate)).
		Post("/quiz/create-session", CreateSessionHandler(svc))
	r.With(rbac.Require(rbac.QuizSync)).
		Get("/quiz/sync/{sessionID}", SyncHandler(svc))
	r.With(rbac.Require(rbac.QuizSave)).
		Post("/quiz/save-progress/{sessionID}", SaveProgressHandler(svc))
	r.With(rbac.Require(rbac.QuizSubmit)).
		Post("/quiz/submit/{sessionID}", SubmitHandler(svc))
	r.With(rbac.Require(rbac.QuizList)).
		Get("/quiz/active-sessions/{userID}", ActiveSessionsHandler(svc))
	r.With(rbac.Require(rbac.QuizView)).
		Get("/quiz/sessions/{sessionID}", GetSessionHandler(svc))
}

func decode(r *http.Request, w http.ResponseWriter, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

// allowedFor reports whether the caller may apply perm to userID's data:
// owners always, others only with perm's all-users scope.
func allowedFor(ctx context.Context, userID string, perm rbac.Permission) bool {
	sub := auth.SubjectFromContext(ctx)
	return (sub != "" && sub == userID) || rbac.Allowed(ctx, perm.ForOthers())
}

// loadOwned fetches the session and writes the error response itself when
// it is missing or not the caller's.
func loadOwned(w http.ResponseWriter, r *http.Request, svc SessionService, perm rbac.Permission) (session.QuizSession, bool) {
	rec, err := svc.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return session.QuizSession{}, false
	}
	if !allowedFor(r.Context(), rec.UserID, perm) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return session.QuizSession{}, false
	}
	return rec, true
}

// POST /quiz/create-session
func CreateSessionHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in session.CreateInput
		if err := decode(r, w, &in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if in.UserID == "" {
			in.UserID = auth.SubjectFromContext(r.Context())
		}
		if !allowedFor(r.Context(), in.UserID, rbac.QuizCreate) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		rec, err := svc.Create(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"sessionId": rec.ID})
	}
}

// GET /quiz/sync/{sessionID}
func SyncHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadOwned(w, r, svc, rbac.QuizSync)
		if !ok {
			return
		}
		res, err := svc.Sync(r.Context(), rec.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /quiz/save-progress/{sessionID}  {"userAnswers": [...], "currentQuestion": n}
func SaveProgressHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadOwned(w, r, svc, rbac.QuizSave)
		if !ok {
			return
		}
		var req struct {
			UserAnswers     []*string `json:"userAnswers"`
			CurrentQuestion int       `json:"currentQuestion"`
		}
		if err := decode(r, w, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := svc.SaveProgress(r.Context(), rec.ID, req.UserAnswers, req.CurrentQuestion); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /quiz/submit/{sessionID}  {"userAnswers": [...]}
// An empty body submits the answers last saved.
func SubmitHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadOwned(w, r, svc, rbac.QuizSubmit)
		if !ok {
			return
		}
		var req struct {
			UserAnswers []*string `json:"userAnswers"`
		}
		if err := decode(r, w, &req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		res, err := svc.Submit(r.Context(), rec.ID, req.UserAnswers)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /quiz/sessions/{sessionID}
// The full record, including the result once completed.
func GetSessionHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := loadOwned(w, r, svc, rbac.QuizView)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// GET /quiz/active-sessions/{userID}?topic=
func ActiveSessionsHandler(svc SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if !allowedFor(r.Context(), userID, rbac.QuizList) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		list, err := svc.ListActive(r.Context(), userID, r.URL.Query().Get("topic"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []session.QuizSession{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
