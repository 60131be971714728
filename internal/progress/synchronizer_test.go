package progress_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mind-engage/mindengage-quiz/internal/localstore"
	"github.com/mind-engage/mindengage-quiz/internal/progress"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type save struct {
	answers []*string
	current int
}

type fakeSaver struct {
	mu      sync.Mutex
	saves   []save
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSaver) SaveProgress(ctx context.Context, _ string, answers []*string, current int) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, save{answers: answers, current: current})
	return f.err
}

func (f *fakeSaver) got() []save {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]save(nil), f.saves...)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func answers(vals ...string) []*string {
	out := make([]*string, len(vals))
	for i, v := range vals {
		if v != "" {
			out[i] = session.Choice(v)
		}
	}
	return out
}

func TestRecordMirrorsLocallyBeforeSaving(t *testing.T) {
	clk := clocktesting.NewFakeClock(t0)
	local := localstore.New(localstore.NewMemoryKV(), "u1", clk)
	saver := &fakeSaver{}
	s := progress.New("s1", saver, progress.Options{Clock: clk, Local: local, Topic: "os", Title: "Operating Systems"})
	ctx := context.Background()

	in := answers("A", "B", "")
	require.NoError(t, s.Record(ctx, in, 1))
	*in[0] = "Z"

	p, ok, err := local.LoadProgress(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, answers("A", "B", ""), p.UserAnswers)
	assert.Equal(t, 1, p.CurrentQuestion)
	assert.Equal(t, "os", p.Topic)
	assert.True(t, t0.Equal(p.LastSaved))

	// nothing is sent before the worker runs
	assert.Empty(t, saver.got())

	s.Start(ctx)
	t.Cleanup(s.Stop)
	require.Eventually(t, func() bool { return len(saver.got()) == 1 }, time.Second, time.Millisecond)
	sent := saver.got()[0]
	assert.Equal(t, p.UserAnswers, sent.answers)
	assert.Equal(t, 1, sent.current)
}

func TestConcurrentRecordsLeaveMirrorOnLatest(t *testing.T) {
	clk := clocktesting.NewFakeClock(t0)
	local := localstore.New(localstore.NewMemoryKV(), "u1", clk)
	s := progress.New("s1", &fakeSaver{}, progress.Options{Clock: clk, Local: local})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Record(ctx, answers(string(rune('A'+i%26)), ""), i%2))
		}(i)
	}
	wg.Wait()

	latest, ok := s.Latest()
	require.True(t, ok)
	p, ok, err := local.LoadProgress(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, latest.Answers, p.UserAnswers)
	assert.Equal(t, latest.Current, p.CurrentQuestion)
}

func TestPendingSnapshotsCoalesceToLatest(t *testing.T) {
	clk := clocktesting.NewFakeClock(t0)
	saver := &fakeSaver{entered: make(chan struct{}, 4), release: make(chan struct{})}
	s := progress.New("s1", saver, progress.Options{Clock: clk})
	ctx := context.Background()
	s.Start(ctx)
	t.Cleanup(s.Stop)

	require.NoError(t, s.Record(ctx, answers("A", "", ""), 0))
	<-saver.entered

	require.NoError(t, s.Record(ctx, answers("A", "B", ""), 1))
	require.NoError(t, s.Record(ctx, answers("A", "B", "C"), 2))
	close(saver.release)

	require.Eventually(t, func() bool { return len(saver.got()) == 2 }, time.Second, time.Millisecond)
	got := saver.got()
	assert.Equal(t, 0, got[0].current)
	assert.Equal(t, answers("A", "B", "C"), got[1].answers)
	assert.Equal(t, 2, got[1].current)
}

func TestPeriodicSaveResendsLatest(t *testing.T) {
	clk := clocktesting.NewFakeClock(t0)
	saver := &fakeSaver{}
	s := progress.New("s1", saver, progress.Options{Clock: clk})
	ctx := context.Background()

	s.Start(ctx)
	t.Cleanup(s.Stop)

	// nothing recorded yet, nothing to send
	clk.Step(progress.DefaultInterval)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, saver.got())

	require.NoError(t, s.Record(ctx, answers("A", ""), 0))
	require.Eventually(t, func() bool { return len(saver.got()) == 1 }, time.Second, time.Millisecond)

	clk.Step(progress.DefaultInterval)
	require.Eventually(t, func() bool { return len(saver.got()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, saver.got()[0], saver.got()[1])
}

func TestSaveFailureIsLoggedNotRetried(t *testing.T) {
	clk := clocktesting.NewFakeClock(t0)
	buf := &syncBuffer{}
	saver := &fakeSaver{err: errors.New("503 service unavailable")}
	s := progress.New("s1", saver, progress.Options{
		Clock:  clk,
		Logger: slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	ctx := context.Background()
	s.Start(ctx)

	require.NoError(t, s.Record(ctx, answers("A"), 0))
	require.Eventually(t, func() bool { return len(saver.got()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	assert.Len(t, saver.got(), 1)
	assert.Contains(t, buf.String(), "progress save failed")
	assert.Contains(t, buf.String(), "session=s1")
}

func TestHaltDropsInFlightAndRejectsRecords(t *testing.T) {
	clk := clocktesting.NewFakeClock(t0)
	buf := &syncBuffer{}
	saver := &fakeSaver{entered: make(chan struct{}, 4), release: make(chan struct{})}
	s := progress.New("s1", saver, progress.Options{
		Clock:  clk,
		Logger: slog.New(slog.NewTextHandler(buf, nil)),
	})
	ctx := context.Background()
	s.Start(ctx)

	require.NoError(t, s.Record(ctx, answers("A"), 0))
	<-saver.entered
	s.Halt()
	s.Stop()

	assert.Empty(t, saver.got())
	assert.NotContains(t, buf.String(), "progress save failed")
	assert.ErrorIs(t, s.Record(ctx, answers("B"), 0), progress.ErrHalted)

	clk.Step(time.Minute)
	assert.False(t, clk.HasWaiters())

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, answers("A"), latest.Answers)
}
