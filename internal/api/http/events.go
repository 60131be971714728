package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

type EventReader interface {
	ForKey(ctx context.Context, key string) ([]eventlog.Event, error)
}

// MountEvents exposes the lifecycle journal of a session to auditors.
func MountEvents(r chi.Router, events EventReader) {
	r.With(rbac.Require(rbac.QuizAudit)).
		Get("/quiz/sessions/{sessionID}/events", SessionEventsHandler(events))
}

type eventView struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"createdAt"`
}

// GET /quiz/sessions/{sessionID}/events
func SessionEventsHandler(events EventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := events.ForKey(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]eventView, 0, len(list))
		for _, e := range list {
			out = append(out, eventView{Seq: e.Seq, Type: e.Type, Data: json.RawMessage(e.DataJSON), CreatedAt: e.CreatedAt})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
