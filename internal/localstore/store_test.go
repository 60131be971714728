package localstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mind-engage/mindengage-quiz/internal/localstore"
)

func ptr(s string) *string { return &s }

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]localstore.KV {
	fkv, err := localstore.NewFileKV(t.TempDir())
	require.NoError(t, err)
	kvs := map[string]localstore.KV{
		"memory": localstore.NewMemoryKV(),
		"file":   fkv,
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rkv := localstore.NewRedisKV(addr, "", 0, time.Minute)
		require.NoError(t, rkv.Ping(context.Background()))
		t.Cleanup(func() { _ = rkv.Close() })
		kvs["redis"] = rkv
	}
	return kvs
}

func TestProgressAndSessionRoundTrip(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			clk := clocktesting.NewFakeClock(t0)
			st := localstore.New(kv, "roundtrip-"+name, clk)
			ctx := context.Background()
			t.Cleanup(func() { _ = st.Clear(ctx) })

			_, ok, err := st.LoadProgress(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			p := localstore.ProgressSnapshot{
				SessionID:       "s1",
				UserAnswers:     []*string{ptr("A"), nil, ptr("C")},
				CurrentQuestion: 2,
				Topic:           "os",
				Title:           "Operating Systems",
			}
			require.NoError(t, st.SaveProgress(ctx, p))

			got, ok, err := st.LoadProgress(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, p.UserAnswers, got.UserAnswers)
			assert.Equal(t, 2, got.CurrentQuestion)
			assert.True(t, t0.Equal(got.LastSaved))

			snap := localstore.SessionSnapshot{
				SessionID:      "s1",
				Questions:      []string{"q1", "q2", "q3"},
				Options:        [][]string{{"A", "B"}, {"A", "B"}, {"C", "D"}},
				CorrectAnswers: []string{"A", "B", "C"},
				Explanations:   []string{"e1", "e2", "e3"},
				Topic:          "os",
				Title:          "Operating Systems",
			}
			require.NoError(t, st.SaveSession(ctx, snap))
			gotSnap, ok, err := st.LoadSession(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, snap, gotSnap)

			require.NoError(t, st.Clear(ctx))
			_, ok, err = st.LoadProgress(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = st.LoadSession(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestProgressOlderThanTTLIsDiscarded(t *testing.T) {
	clk := clocktesting.NewFakeClock(t0)
	kv := localstore.NewMemoryKV()
	st := localstore.New(kv, "u1", clk)
	ctx := context.Background()

	require.NoError(t, st.SaveProgress(ctx, localstore.ProgressSnapshot{SessionID: "s1", UserAnswers: []*string{nil}}))

	clk.Step(23 * time.Hour)
	_, ok, err := st.LoadProgress(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Step(2 * time.Hour)
	_, ok, err = st.LoadProgress(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, present, err := kv.Get(ctx, "quiz_u1_progress")
	require.NoError(t, err)
	assert.False(t, present, "stale record must be removed")
}

func TestExplicitLastSavedIsKept(t *testing.T) {
	clk := clocktesting.NewFakeClock(t0)
	st := localstore.New(localstore.NewMemoryKV(), "", clk)
	ctx := context.Background()

	at := t0.Add(-5 * time.Minute)
	require.NoError(t, st.SaveProgress(ctx, localstore.ProgressSnapshot{SessionID: "s1", LastSaved: at}))
	got, ok, err := st.LoadProgress(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(got.LastSaved))
}

func TestNamespacesDoNotCollide(t *testing.T) {
	kv := localstore.NewMemoryKV()
	ctx := context.Background()
	a := localstore.New(kv, "alice", nil)
	b := localstore.New(kv, "bob", nil)

	require.NoError(t, a.SaveProgress(ctx, localstore.ProgressSnapshot{SessionID: "sa"}))
	_, ok, err := b.LoadProgress(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptRecordIsDropped(t *testing.T) {
	dir := t.TempDir()
	kv, err := localstore.NewFileKV(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quiz_progress.json"), []byte("{not json"), 0o644))

	st := localstore.New(kv, "", nil)
	_, ok, err := st.LoadProgress(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(dir, "quiz_progress.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileKVRejectsPathKeys(t *testing.T) {
	kv, err := localstore.NewFileKV(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, kv.Set(ctx, "../escape", []byte("x")))
	_, _, err = kv.Get(ctx, "a/b")
	assert.Error(t, err)
	assert.NoError(t, kv.Delete(ctx, "never-written"))
}
