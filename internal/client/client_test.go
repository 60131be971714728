package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	api "github.com/mind-engage/mindengage-quiz/internal/api/http"
	"github.com/mind-engage/mindengage-quiz/internal/attempt"
	auth "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/client"
	"github.com/mind-engage/mindengage-quiz/internal/localstore"
	"github.com/mind-engage/mindengage-quiz/internal/resume"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

var _ attempt.Backend = (*client.Client)(nil)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(t *testing.T) (*httptest.Server, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := session.NewService(session.NewMemoryStore(), session.Options{Clock: clk, Logger: quiet})
	a := auth.NewAuthService("test-secret")

	r := chi.NewRouter()
	r.Post("/auth/login", auth.LoginHandler(a, auth.Credentials{}))
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(a))
		api.MountQuiz(pr, svc)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, clk
}

func loggedIn(t *testing.T, srv *httptest.Server, user string) *client.Client {
	t.Helper()
	c := client.New(srv.URL, srv.Client())
	role, err := c.Login(context.Background(), user, user)
	require.NoError(t, err)
	require.Equal(t, "student", role)
	return c
}

func input(n int) session.CreateInput {
	in := session.CreateInput{Topic: "os", Title: "Operating Systems"}
	for i := 0; i < n; i++ {
		in.Questions = append(in.Questions, "q")
		in.Options = append(in.Options, []string{"A", "B"})
		in.CorrectAnswers = append(in.CorrectAnswers, "A")
	}
	return in
}

func TestClientSessionFlow(t *testing.T) {
	srv, clk := newServer(t)
	c := loggedIn(t, srv, "alice")
	ctx := context.Background()

	id, err := c.CreateSession(ctx, input(3))
	require.NoError(t, err)

	s, err := c.Sync(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 600, s.RemainingSeconds)

	require.NoError(t, c.SaveProgress(ctx, id, []*string{session.Choice("A"), session.Choice("B"), nil}, 1))
	s, err = c.Sync(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []*string{session.Choice("A"), session.Choice("B"), nil}, s.Session.UserAnswers)
	assert.Equal(t, 1, s.Session.CurrentQuestion)

	active, err := c.ActiveSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Equal(t, clk.Now().UnixMilli(), active[0].StartTime.UnixMilli())

	res, err := c.Submit(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Score)

	err = c.SaveProgress(ctx, id, []*string{nil, nil, nil}, 0)
	require.Error(t, err)
	assert.True(t, client.IsConflict(err))

	full, err := c.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, full.Completed)

	active, err = c.ActiveSessionsForTopic(ctx, "alice", "os")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestClientErrors(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	anon := client.New(srv.URL, srv.Client())
	_, err := anon.Sync(ctx, "x")
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)

	_, err = anon.Login(ctx, "alice", "wrong")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)

	c := loggedIn(t, srv, "alice")
	_, err = c.Sync(ctx, "missing")
	assert.True(t, client.IsNotFound(err))
	assert.False(t, client.IsConflict(err))

	_, err = c.CreateSession(ctx, session.CreateInput{})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

type fixed struct{}

func (fixed) Questions(_ context.Context, topic, _ string) (session.CreateInput, error) {
	in := input(2)
	in.Topic = topic
	return in, nil
}

func TestAttemptOverHTTP(t *testing.T) {
	srv, clk := newServer(t)
	c := loggedIn(t, srv, "alice")
	ctx := context.Background()
	local := localstore.New(localstore.NewMemoryKV(), "alice", clk)

	l := &attempt.Launcher{
		Backend:   c,
		Questions: fixed{},
		Resolver:  resume.New(local, c, clk, quiet),
		Options:   attempt.Options{Clock: clk, Local: local, Logger: quiet},
	}

	ctl, src, err := l.Open(ctx, "alice", "os", "", false)
	require.NoError(t, err)
	assert.Equal(t, resume.SourceNone, src)
	ctl.Start(ctx)
	t.Cleanup(ctl.Stop)

	require.Eventually(t, func() bool { return ctl.Remaining() == 600 }, time.Second, 5*time.Millisecond)
	require.NoError(t, ctl.Answer(ctx, 0, "A"))
	require.Eventually(t, func() bool {
		s, err := c.Sync(ctx, ctl.Session().ID)
		return err == nil && s.Session.UserAnswers[0] != nil
	}, time.Second, 5*time.Millisecond)

	clk.Step(600 * time.Second)
	select {
	case <-ctl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("attempt did not auto-submit")
	}
	res, ok := ctl.Result()
	require.True(t, ok)
	assert.Equal(t, 1, res.Score)

	_, ok, err = local.LoadProgress(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
