package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/voicememo/internal/audio"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMax = 55 * time.Second

// fakeAudio serves a fixed duration and writes chunk files to an in-memory fs.
type fakeAudio struct {
	fs         afero.Fs
	duration   time.Duration
	probeErr   error
	failStarts map[time.Duration]bool

	mu        sync.Mutex
	extracted []time.Duration
}

func (a *fakeAudio) Probe(_ context.Context, _ string) (audio.Info, error) {
	if a.probeErr != nil {
		return audio.Info{}, a.probeErr
	}
	return audio.Info{Duration: a.duration, AudioStreams: 1}, nil
}

func (a *fakeAudio) Extract(_ context.Context, _ string, start, _ time.Duration) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extracted = append(a.extracted, start)
	if a.failStarts[start] {
		return "", errors.New("disk read error")
	}
	path := chunkPath(start)
	if err := afero.WriteFile(a.fs, path, []byte("RIFF"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func chunkPath(start time.Duration) string {
	return fmt.Sprintf("/tmp/chunk-%03d.wav", int(start/time.Second))
}

// fakeTranscriber answers by path. When gate is set, every call blocks until
// it receives from gate or its context ends.
type fakeTranscriber struct {
	texts    map[string]string
	errs     map[string]error
	readyErr error
	gate     chan struct{}
	started  chan string

	mu      sync.Mutex
	calls   []string
	locales []string
}

func (f *fakeTranscriber) Ready(context.Context) error { return f.readyErr }

func (f *fakeTranscriber) Transcribe(ctx context.Context, path, locale string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.locales = append(f.locales, locale)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- path
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.errs[path]; err != nil {
		return "", err
	}
	return f.texts[path], nil
}

func (f *fakeTranscriber) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type memStore struct {
	mu      sync.Mutex
	saved   map[string]Progress
	saves   int
	cleared []string

	// beforeSave, when set, runs ahead of every save outside the lock.
	beforeSave func(Progress)
}

func newMemStore() *memStore { return &memStore{saved: map[string]Progress{}} }

func (s *memStore) SaveProgress(_ context.Context, p Progress) error {
	if s.beforeSave != nil {
		s.beforeSave(p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[p.MemoID] = p
	s.saves++
	return nil
}

func (s *memStore) LoadProgress(_ context.Context, memoID string) (*Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.saved[memoID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) ClearProgress(_ context.Context, memoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, memoID)
	s.cleared = append(s.cleared, memoID)
	return nil
}

func (s *memStore) get(memoID string) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.saved[memoID]
	return p, ok
}

type memWriter struct {
	mu    sync.Mutex
	texts map[string]string
}

func (w *memWriter) UpdateText(_ context.Context, memoID, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.texts == nil {
		w.texts = map[string]string{}
	}
	w.texts[memoID] = text
	return nil
}

type countingLeaser struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (l *countingLeaser) Acquire(context.Context, string) (func(), error) {
	l.mu.Lock()
	l.acquired++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

type fixture struct {
	fs     afero.Fs
	audio  *fakeAudio
	tr     *fakeTranscriber
	store  *memStore
	writer *memWriter
	leaser *countingLeaser
	engine *Engine
}

func newFixture(duration time.Duration) *fixture {
	fs := afero.NewMemMapFs()
	f := &fixture{
		fs:     fs,
		audio:  &fakeAudio{fs: fs, duration: duration, failStarts: map[time.Duration]bool{}},
		tr:     &fakeTranscriber{texts: map[string]string{}, errs: map[string]error{}},
		store:  newMemStore(),
		writer: &memWriter{},
		leaser: &countingLeaser{},
	}
	return f
}

func (f *fixture) build(opts ...Option) *Engine {
	base := []Option{
		WithFs(f.fs),
		WithStore(f.store),
		WithTranscriptWriter(f.writer),
		WithLeaser(f.leaser),
		WithMaxChunkDuration(testMax),
		WithCooldown(0),
	}
	f.engine = New(f.tr, f.audio, append(base, opts...)...)
	return f.engine
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestShortAssetSingleCall(t *testing.T) {
	f := newFixture(30 * time.Second)
	f.tr.texts["memo.m4a"] = "hello world"
	e := f.build()

	p, err := e.Run(waitCtx(t), "memo.m4a", "memo-1")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "hello world", p.Text)
	assert.Equal(t, 1, p.TotalChunks)
	assert.Equal(t, 1, p.CurrentChunk)
	assert.Equal(t, 30*time.Second, p.ProcessedDuration)
	assert.Equal(t, []string{"memo.m4a"}, f.tr.Calls())
	assert.Empty(t, f.audio.extracted, "short assets are not sliced")
	assert.Equal(t, "hello world", f.writer.texts["memo-1"])
	_, saved := f.store.get("memo-1")
	assert.False(t, saved, "completed runs drop their checkpoint")
}

func TestChunkedRunJoinsInOrder(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(0)] = "one"
	f.tr.texts[chunkPath(55*time.Second)] = "two"
	f.tr.texts[chunkPath(110*time.Second)] = "three"
	e := f.build()

	updates, unsubscribe := e.Subscribe()
	defer unsubscribe()

	p, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "one two three", p.Text)
	assert.Equal(t, 3, p.TotalChunks)
	assert.Equal(t, 3, p.CurrentChunk)
	assert.Equal(t, 130*time.Second, p.ProcessedDuration)
	assert.Equal(t, []time.Duration{0, 55 * time.Second, 110 * time.Second}, f.audio.extracted)
	assert.Equal(t, "one two three", f.writer.texts["memo-1"])
	assert.Equal(t, 3, f.leaser.acquired)
	assert.Equal(t, 3, f.leaser.released)

	for _, start := range f.audio.extracted {
		exists, _ := afero.Exists(f.fs, chunkPath(start))
		assert.False(t, exists, "chunk file %s left behind", chunkPath(start))
	}

	// Every snapshot pairs a chunk index with its own processed duration.
	wantProcessed := map[int]time.Duration{0: 0, 1: 55 * time.Second, 2: 110 * time.Second, 3: 130 * time.Second}
	var last Progress
	for len(updates) > 0 {
		u := <-updates
		assert.Equal(t, wantProcessed[u.CurrentChunk], u.ProcessedDuration, "torn snapshot %+v", u)
		assert.GreaterOrEqual(t, u.CurrentChunk, last.CurrentChunk)
		assert.GreaterOrEqual(t, u.ProcessedDuration, last.ProcessedDuration)
		last = u
	}
	assert.Equal(t, StatusCompleted, last.Status)
}

func TestExtractionFailureSkipsChunk(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(0)] = "one"
	f.tr.texts[chunkPath(55*time.Second)] = "two"
	f.tr.texts[chunkPath(110*time.Second)] = "three"
	f.audio.failStarts[55*time.Second] = true
	e := f.build()

	p, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "one three", p.Text)
	assert.Equal(t, 1, p.SkippedChunks)
	assert.Equal(t, 3, p.CurrentChunk)
}

func TestRecognitionFailureSkipsChunk(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(0)] = "one"
	f.tr.errs[chunkPath(55*time.Second)] = &RecognitionError{Detail: "decoder crashed"}
	f.tr.texts[chunkPath(110*time.Second)] = "three"
	e := f.build()

	p, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	require.NoError(t, err)
	assert.Equal(t, "one three", p.Text)
	assert.Equal(t, 1, p.SkippedChunks)
	exists, _ := afero.Exists(f.fs, chunkPath(55*time.Second))
	assert.False(t, exists, "failed chunk file is still removed")
}

func TestNoSpeechContributesNothing(t *testing.T) {
	f := newFixture(220 * time.Second)
	f.tr.texts[chunkPath(0)] = "alpha"
	f.tr.errs[chunkPath(55*time.Second)] = ErrNoSpeech
	f.tr.errs[chunkPath(110*time.Second)] = ErrNoSpeech
	f.tr.texts[chunkPath(165*time.Second)] = "  omega "
	e := f.build()

	p, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	require.NoError(t, err)
	assert.Equal(t, "alpha omega", p.Text)
	assert.Equal(t, 0, p.SkippedChunks)
}

func TestProbeFailureIsFatal(t *testing.T) {
	f := newFixture(0)
	f.audio.probeErr = errors.New("moov atom not found")
	e := f.build()

	p, err := e.Run(waitCtx(t), "broken.m4a", "memo-1")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Contains(t, p.Reason, "moov atom not found")
	assert.Empty(t, f.tr.Calls())
}

func TestEngineUnavailableIsFatal(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.readyErr = ErrEngineUnavailable
	e := f.build()

	p, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Equal(t, StatusFailed, p.Status)
}

func TestSingleChunkFailureFailsRun(t *testing.T) {
	f := newFixture(20 * time.Second)
	f.tr.errs["short.m4a"] = errors.New("model crashed")
	e := f.build()

	p, err := e.Run(waitCtx(t), "short.m4a", "memo-1")
	var re *RecognitionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, StatusFailed, p.Status)

	saved, ok := f.store.get("memo-1")
	require.True(t, ok, "failed run keeps its snapshot")
	assert.Equal(t, StatusFailed, saved.Status)
}

func TestSingleChunkNoSpeechCompletes(t *testing.T) {
	f := newFixture(20 * time.Second)
	f.tr.errs["short.m4a"] = ErrNoSpeech
	e := f.build()

	p, err := e.Run(waitCtx(t), "short.m4a", "memo-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Empty(t, p.Text)
}

func TestStartRejectsSecondRun(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()
	ctx := waitCtx(t)

	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	<-f.tr.started
	assert.ErrorIs(t, e.Start(ctx, "other.m4a", "memo-2"), ErrAlreadyTranscribing)

	e.Cancel()
	_, err := e.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)

	// terminal runs still need a reset before the next asset
	assert.ErrorIs(t, e.Start(ctx, "other.m4a", "memo-2"), ErrAlreadyTranscribing)
	require.NoError(t, e.Reset())
	f.tr.gate = nil
	f.tr.started = nil
	require.NoError(t, e.Start(ctx, "other.m4a", "memo-2"))
	_, err = e.Wait(ctx)
	assert.NoError(t, err)
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(0)] = "one"
	f.tr.texts[chunkPath(55*time.Second)] = "two"
	f.tr.texts[chunkPath(110*time.Second)] = "three"
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()
	ctx := waitCtx(t)

	assert.False(t, e.Pause(), "idle engine cannot pause")

	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	assert.Equal(t, chunkPath(0), <-f.tr.started)

	require.True(t, e.Pause())
	assert.False(t, e.Pause(), "second pause is a no-op")
	assert.Equal(t, StatusPaused, e.Progress().Status)

	// the in-flight chunk finishes; the next one must not start
	f.tr.gate <- struct{}{}
	require.Eventually(t, func() bool {
		return e.Progress().CurrentChunk == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.tr.Calls(), 1)

	p := e.Progress()
	assert.Equal(t, StatusPaused, p.Status)
	assert.Equal(t, 55*time.Second, p.ProcessedDuration)
	assert.Equal(t, "one", p.Text)

	saved, ok := f.store.get("memo-1")
	require.True(t, ok)
	assert.Equal(t, StatusPaused, saved.Status)

	require.True(t, e.Resume())
	assert.False(t, e.Resume())
	assert.Equal(t, chunkPath(55*time.Second), <-f.tr.started)
	f.tr.gate <- struct{}{}
	assert.Equal(t, chunkPath(110*time.Second), <-f.tr.started)
	f.tr.gate <- struct{}{}

	p, err := e.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one two three", p.Text)
	assert.Equal(t, []time.Duration{0, 55 * time.Second, 110 * time.Second}, f.audio.extracted)
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(0)] = "one"
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()
	ctx := waitCtx(t)

	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	<-f.tr.started

	require.True(t, e.Cancel())
	assert.False(t, e.Cancel(), "cancel is idempotent")
	assert.Equal(t, StatusCancelled, e.Progress().Status)

	p, err := e.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Empty(t, p.Text, "result of the aborted call is discarded")
	assert.Len(t, f.tr.Calls(), 1)

	assert.False(t, e.Pause())
	assert.False(t, e.Resume())
	assert.Equal(t, StatusCancelled, e.Progress().Status)

	_, saved := f.store.get("memo-1")
	assert.False(t, saved, "cancelled runs drop their checkpoint")
	exists, _ := afero.Exists(f.fs, chunkPath(0))
	assert.False(t, exists)

	require.NoError(t, e.Reset())
	p = e.Progress()
	assert.Equal(t, StatusIdle, p.Status)
	assert.Zero(t, p.CurrentChunk)
	assert.Zero(t, p.TotalChunks)
	assert.Zero(t, p.ProcessedDuration)
	assert.Zero(t, p.TotalDuration)
	assert.Empty(t, p.Text)
	assert.Empty(t, p.MemoID)
}

func TestCancelWhilePaused(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()
	ctx := waitCtx(t)

	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	<-f.tr.started
	require.True(t, e.Pause())
	f.tr.gate <- struct{}{}
	require.Eventually(t, func() bool { return e.Progress().CurrentChunk == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, e.Cancel())
	p, err := e.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Len(t, f.tr.Calls(), 1)
}

func TestResetRejectsActiveRun(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()
	ctx := waitCtx(t)

	require.NoError(t, e.Reset(), "reset from idle is legal")
	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	<-f.tr.started
	assert.ErrorIs(t, e.Reset(), ErrRunActive)
	e.Cancel()
	_, _ = e.Wait(ctx)
}

func TestResumeFromCheckpoint(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(55*time.Second)] = "two"
	f.tr.texts[chunkPath(110*time.Second)] = "three"
	f.store.saved["memo-1"] = Progress{
		MemoID:            "memo-1",
		Source:            "long.m4a",
		Status:            StatusTranscribing,
		CurrentChunk:      1,
		TotalChunks:       3,
		ProcessedDuration: 55 * time.Second,
		TotalDuration:     130 * time.Second,
		Text:              "one",
	}
	e := f.build()

	p, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	require.NoError(t, err)
	assert.Equal(t, "one two three", p.Text)
	assert.Equal(t, []time.Duration{55 * time.Second, 110 * time.Second}, f.audio.extracted)
	assert.Equal(t, 3, p.CurrentChunk)
}

func TestCheckpointForOtherSourceIgnored(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(0)] = "one"
	f.store.saved["memo-1"] = Progress{
		MemoID:            "memo-1",
		Source:            "older.m4a",
		Status:            StatusPaused,
		ProcessedDuration: 110 * time.Second,
		TotalDuration:     130 * time.Second,
		Text:              "stale",
	}
	e := f.build()

	p, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	require.NoError(t, err)
	assert.Equal(t, "one", p.Text)
	assert.Len(t, f.audio.extracted, 3)
}

func TestCheckpointAfterEveryChunk(t *testing.T) {
	f := newFixture(130 * time.Second)
	e := f.build()

	_, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.store.saves, 3)
}

func TestParentContextCancellation(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	<-f.tr.started
	cancel()

	p, err := e.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Empty(t, f.store.cleared, "shutdown keeps the checkpoint")
}

func TestExplicitCancelClearsCheckpoint(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()

	require.NoError(t, e.Start(context.Background(), "long.m4a", "memo-1"))
	<-f.tr.started
	require.True(t, e.Cancel())

	_, err := e.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, []string{"memo-1"}, f.store.cleared)
}

func TestCancelThenResetStartsFresh(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(0)] = "one"
	f.tr.texts[chunkPath(55*time.Second)] = "two"
	f.tr.texts[chunkPath(110*time.Second)] = "three"
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()
	ctx := waitCtx(t)

	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	<-f.tr.started
	f.tr.gate <- struct{}{}
	assert.Equal(t, chunkPath(55*time.Second), <-f.tr.started)
	saved, ok := f.store.get("memo-1")
	require.True(t, ok)
	require.Equal(t, 55*time.Second, saved.ProcessedDuration)

	// reset right away, before the run goroutine has unwound
	require.True(t, e.Cancel())
	require.NoError(t, e.Reset())
	_, ok = f.store.get("memo-1")
	assert.False(t, ok, "cancel drops the checkpoint before returning")

	close(f.tr.gate)
	p, err := e.Run(ctx, "long.m4a", "memo-1")
	require.NoError(t, err)
	assert.Equal(t, "one two three", p.Text)

	f.audio.mu.Lock()
	extracted := append([]time.Duration(nil), f.audio.extracted...)
	f.audio.mu.Unlock()
	assert.Equal(t, []time.Duration{0, 55 * time.Second, 0, 55 * time.Second, 110 * time.Second}, extracted,
		"second run starts from the beginning")
}

func TestCancelDuringPauseCheckpoint(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	saving := make(chan struct{})
	var once sync.Once
	f.store.beforeSave = func(p Progress) {
		if p.Status == StatusPaused {
			once.Do(func() { close(saving) })
			time.Sleep(150 * time.Millisecond)
		}
	}
	e := f.build()
	ctx := waitCtx(t)

	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	<-f.tr.started

	go e.Pause()
	<-saving
	require.True(t, e.Cancel())

	_, err := e.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	saved, ok := f.store.get("memo-1")
	assert.False(t, ok, "paused checkpoint survived cancel: %+v", saved)
}

func TestPauseDuringLastChunkCompletes(t *testing.T) {
	f := newFixture(130 * time.Second)
	f.tr.texts[chunkPath(110*time.Second)] = "three"
	f.tr.gate = make(chan struct{})
	f.tr.started = make(chan string, 8)
	e := f.build()
	ctx := waitCtx(t)

	require.NoError(t, e.Start(ctx, "long.m4a", "memo-1"))
	<-f.tr.started
	f.tr.gate <- struct{}{}
	<-f.tr.started
	f.tr.gate <- struct{}{}
	assert.Equal(t, chunkPath(110*time.Second), <-f.tr.started)

	require.True(t, e.Pause())
	f.tr.gate <- struct{}{}

	p, err := e.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "three", p.Text)
	assert.False(t, e.Resume(), "nothing left to resume")
}

func TestWaitWithoutRun(t *testing.T) {
	f := newFixture(time.Second)
	e := f.build()
	_, err := e.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStatusText(t *testing.T) {
	for s := StatusIdle; s <= StatusCancelled; s++ {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("bogus")
	assert.Error(t, err)
	assert.True(t, StatusPaused.Active())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusIdle.Active())
}

func TestFraction(t *testing.T) {
	assert.Zero(t, Progress{}.Fraction())
	assert.InDelta(t, 0.5, Progress{ProcessedDuration: time.Minute, TotalDuration: 2 * time.Minute}.Fraction(), 1e-9)
}

func TestRunLocaleOverridesEngineLocale(t *testing.T) {
	f := newFixture(130 * time.Second)
	e := f.build(WithLocale("de_DE"))

	_, err := e.Run(waitCtx(t), "long.m4a", "memo-1")
	require.NoError(t, err)
	_, err = e.Run(waitCtx(t), "long.m4a", "memo-2", RunLocale("fr_FR"))
	require.ErrorIs(t, err, ErrAlreadyTranscribing)

	require.NoError(t, e.Reset())
	_, err = e.Run(waitCtx(t), "long.m4a", "memo-2", RunLocale("fr_FR"))
	require.NoError(t, err)

	f.tr.mu.Lock()
	defer f.tr.mu.Unlock()
	assert.Equal(t, []string{"de_DE", "de_DE", "de_DE", "fr_FR", "fr_FR", "fr_FR"}, f.tr.locales)
}
