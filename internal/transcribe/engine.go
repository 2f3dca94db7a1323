// Package transcribe drives long recordings through a speech engine one
// bounded chunk at a time, with pause, resume, cancel and per-chunk
// checkpoints.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jwulff/voicememo/internal/chunk"
	"github.com/jwulff/voicememo/internal/logging"
	"github.com/spf13/afero"
)

const (
	DefaultCooldown  = 500 * time.Millisecond
	DefaultLocale    = "en_US"
	subscriberBuffer = 64
)

// Engine runs at most one transcription at a time.
type Engine struct {
	transcriber Transcriber
	audio       Audio
	fs          afero.Fs
	store       ProgressStore
	writer      TranscriptWriter
	leaser      Leaser
	logger      *log.Logger
	locale      string
	maxChunk    time.Duration
	cooldown    time.Duration

	mu       sync.Mutex
	gen      int
	progress Progress
	texts    []string
	cancel   context.CancelFunc
	resumed  chan struct{} // non-nil while paused
	done     chan struct{}
	err      error
	subs     map[int]chan Progress
	nextSub  int

	// persistMu orders checkpoint writes the same way snapshots were taken.
	persistMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore enables per-chunk checkpoints.
func WithStore(s ProgressStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithTranscriptWriter receives the transcript of every completed run.
func WithTranscriptWriter(w TranscriptWriter) Option {
	return func(e *Engine) { e.writer = w }
}

func WithLeaser(l Leaser) Option {
	return func(e *Engine) { e.leaser = l }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithFs sets the filesystem temporary chunk files are removed from.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithLocale sets the locale passed to every Transcribe call.
func WithLocale(locale string) Option {
	return func(e *Engine) {
		if locale != "" {
			e.locale = locale
		}
	}
}

// WithMaxChunkDuration sets the per-call ceiling of the speech engine.
func WithMaxChunkDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxChunk = d
		}
	}
}

// WithCooldown sets the pause inserted between chunks. Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.cooldown = d
		}
	}
}

// New returns an idle engine.
func New(t Transcriber, a Audio, opts ...Option) *Engine {
	e := &Engine{
		transcriber: t,
		audio:       a,
		fs:          afero.NewOsFs(),
		leaser:      NopLeaser{},
		logger:      logging.Discard(),
		locale:      DefaultLocale,
		maxChunk:    chunk.DefaultMaxDuration,
		cooldown:    DefaultCooldown,
		subs:        make(map[int]chan Progress),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.progress.UpdatedAt = time.Now()
	return e
}

// run carries the identity of one Start call. Mutations from a run whose
// generation is no longer current are dropped.
type run struct {
	gen    int
	memoID string
	source string
	locale string
	logger *log.Logger
}

// RunOption adjusts a single run.
type RunOption func(*run)

// RunLocale overrides the engine locale for one run.
func RunLocale(locale string) RunOption {
	return func(r *run) {
		if locale != "" {
			r.locale = locale
		}
	}
}

// Start begins transcribing source for memoID in the background. ctx bounds
// the whole run.
func (e *Engine) Start(ctx context.Context, source, memoID string, opts ...RunOption) error {
	e.mu.Lock()
	if e.progress.Status != StatusIdle {
		e.mu.Unlock()
		return ErrAlreadyTranscribing
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.gen++
	r := &run{
		gen:    e.gen,
		memoID: memoID,
		source: source,
		locale: e.locale,
		logger: e.logger.With("memo", memoID),
	}
	for _, opt := range opts {
		opt(r)
	}
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.err = nil
	e.texts = nil
	e.resumed = nil
	e.progress = Progress{
		MemoID: memoID,
		Source: source,
		Status: StatusPreparing,
	}
	e.publishLocked()
	e.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		e.execute(runCtx, r)
	}()
	return nil
}

// Wait blocks until the current run ends and returns its final snapshot. The
// error is nil for a completed run, ErrCancelled for a cancelled one and the
// failure cause otherwise.
func (e *Engine) Wait(ctx context.Context) (Progress, error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return e.Progress(), ErrNotStarted
	}

	select {
	case <-done:
	case <-ctx.Done():
		return e.Progress(), ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), e.err
}

// Run is Start followed by Wait.
func (e *Engine) Run(ctx context.Context, source, memoID string, opts ...RunOption) (Progress, error) {
	if err := e.Start(ctx, source, memoID, opts...); err != nil {
		return e.Progress(), err
	}
	return e.Wait(ctx)
}

// Progress returns the current snapshot.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe returns a channel receiving every published snapshot, in order.
// A subscriber that falls behind loses its oldest pending snapshots, never
// the newest. Call the returned func to unsubscribe.
func (e *Engine) Subscribe() (<-chan Progress, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan Progress, subscriberBuffer)
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

// Pause stops the run at the next chunk boundary. It reports whether the
// call had an effect; only a transcribing run can be paused.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	if e.progress.Status != StatusTranscribing {
		e.mu.Unlock()
		return false
	}
	e.progress.Status = StatusPaused
	e.resumed = make(chan struct{})
	e.publishLocked()
	gen, memoID, processed := e.gen, e.progress.MemoID, e.progress.ProcessedDuration
	e.mu.Unlock()

	e.logger.Info("transcription paused", "memo", memoID, "resume_at", processed)
	e.checkpoint(context.Background(), gen)
	return true
}

// Resume continues a paused run from its processed duration.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	if e.progress.Status != StatusPaused {
		e.mu.Unlock()
		return false
	}
	e.progress.Status = StatusTranscribing
	close(e.resumed)
	e.resumed = nil
	e.publishLocked()
	gen := e.gen
	e.mu.Unlock()

	e.logger.Info("transcription resumed", "memo", e.Progress().MemoID)
	e.checkpoint(context.Background(), gen)
	return true
}

// Cancel ends an active run and drops its checkpoint before returning.
// In-flight engine calls are aborted through their context and whatever they
// return is discarded. Calling Cancel on an inactive engine does nothing.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	if !e.progress.Status.Active() {
		e.mu.Unlock()
		return false
	}
	e.progress.Status = StatusCancelled
	e.err = ErrCancelled
	if e.resumed != nil {
		close(e.resumed)
		e.resumed = nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.publishLocked()
	memoID := e.progress.MemoID
	e.mu.Unlock()

	e.logger.Info("transcription cancelled", "memo", memoID)
	e.clearCheckpoint(memoID)
	return true
}

// Reset returns a finished or idle engine to Idle with every progress field
// zeroed.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.progress.Status.Active() {
		return ErrRunActive
	}
	// detach any run still unwinding from an aborted engine call
	e.gen++
	e.progress = Progress{}
	e.texts = nil
	e.err = nil
	e.publishLocked()
	return nil
}

func (e *Engine) execute(ctx context.Context, r *run) {
	if rc, ok := e.transcriber.(ReadyChecker); ok {
		if err := rc.Ready(ctx); err != nil {
			e.fail(ctx, r, fmt.Errorf("speech engine not ready: %w", err))
			return
		}
	}

	info, err := e.audio.Probe(ctx, r.source)
	if err != nil {
		if e.stopped(ctx, r) {
			e.finishCancelled(r)
			return
		}
		e.fail(ctx, r, fmt.Errorf("read duration of %s: %w", r.source, err))
		return
	}
	if info.Duration <= 0 {
		e.fail(ctx, r, fmt.Errorf("%s: %w", r.source, ErrNoAudioData))
		return
	}

	total := info.Duration
	offset := e.restore(ctx, r, total)
	count := chunk.Count(total, e.maxChunk)

	if !e.update(r, func(p *Progress) {
		p.TotalDuration = total
		p.TotalChunks = count
		p.Status = StatusTranscribing
	}) {
		e.finishCancelled(r)
		return
	}
	r.logger.Info("transcription started", "duration", total, "chunks", count, "offset", offset)

	if count == 1 {
		e.transcribeWhole(ctx, r, total)
		return
	}
	e.transcribeChunks(ctx, r, total, offset)
}

// transcribeWhole handles assets that fit in one engine call. The only call
// failing means the run produced nothing, so it fails the run.
func (e *Engine) transcribeWhole(ctx context.Context, r *run, total time.Duration) {
	var (
		text string
		err  error
	)
	withLease(ctx, e.leaser, "transcribing "+r.memoID, e.leaseFailed(r), func() {
		text, err = e.transcriber.Transcribe(ctx, r.source, r.locale)
	})
	if e.stopped(ctx, r) {
		e.finishCancelled(r)
		return
	}
	if err != nil && !errors.Is(err, ErrNoSpeech) {
		e.fail(ctx, r, captureEngineError(err))
		return
	}
	if errors.Is(err, ErrNoSpeech) {
		text = ""
	}
	e.advance(ctx, r, chunk.Range{Index: 0, Start: 0, End: total}, text, false)
	e.complete(ctx, r)
}

func (e *Engine) transcribeChunks(ctx context.Context, r *run, total, offset time.Duration) {
	plan := chunk.Plan(total, e.maxChunk, offset)
	for i := 0; i < len(plan); i++ {
		if e.stopped(ctx, r) {
			e.finishCancelled(r)
			return
		}

		if resumed, paused := e.pauseGate(r); paused {
			r.logger.Debug("waiting for resume", "next", plan[i])
			select {
			case <-resumed:
			case <-ctx.Done():
			}
			if e.stopped(ctx, r) {
				e.finishCancelled(r)
				return
			}
			plan = chunk.Plan(total, e.maxChunk, e.processed())
			i = -1
			continue
		}

		e.processChunk(ctx, r, plan[i])

		if i < len(plan)-1 && e.cooldown > 0 {
			t := time.NewTimer(e.cooldown)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}

	if e.stopped(ctx, r) {
		e.finishCancelled(r)
		return
	}
	// a pause that lands during the last chunk has nothing left to hold back
	e.complete(ctx, r)
}

// processChunk extracts, transcribes and records one range. Extraction or
// recognition failures skip the chunk; the run continues.
func (e *Engine) processChunk(ctx context.Context, r *run, rng chunk.Range) {
	withLease(ctx, e.leaser, fmt.Sprintf("transcribing %s %s", r.memoID, rng), e.leaseFailed(r), func() {
		path, err := e.audio.Extract(ctx, r.source, rng.Start, rng.Duration())
		if err != nil {
			if e.stopped(ctx, r) {
				return
			}
			r.logger.Warn("chunk extraction failed, skipping", "chunk", rng.Index, "start", rng.Start, "err", err)
			e.advance(ctx, r, rng, "", true)
			return
		}
		defer e.removeChunk(r, path)

		text, err := e.transcriber.Transcribe(ctx, path, r.locale)
		if e.stopped(ctx, r) {
			return
		}
		skipped := false
		switch {
		case errors.Is(err, ErrNoSpeech):
			r.logger.Debug("no speech in chunk", "chunk", rng.Index)
			text = ""
		case err != nil:
			r.logger.Warn("chunk transcription failed, skipping", "chunk", rng.Index, "err", err)
			text = ""
			skipped = true
		}
		e.advance(ctx, r, rng, text, skipped)
	})
}

func (e *Engine) removeChunk(r *run, path string) {
	if err := e.fs.Remove(path); err != nil {
		r.logger.Warn("remove chunk file", "path", path, "err", err)
	}
}

func (e *Engine) leaseFailed(r *run) func(error) {
	return func(err error) {
		r.logger.Warn("no-suspend lease unavailable", "err", err)
	}
}

// advance records a finished range: processed duration, chunk index and text
// change together in one snapshot, then the snapshot is checkpointed.
func (e *Engine) advance(ctx context.Context, r *run, rng chunk.Range, text string, skipped bool) {
	ok := e.update(r, func(p *Progress) {
		if t := strings.TrimSpace(text); t != "" {
			e.texts = append(e.texts, t)
		}
		if rng.End > p.ProcessedDuration {
			p.ProcessedDuration = rng.End
		}
		if rng.Index+1 > p.CurrentChunk {
			p.CurrentChunk = rng.Index + 1
		}
		if skipped {
			p.SkippedChunks++
		}
		p.Text = strings.Join(e.texts, " ")
	})
	if ok {
		e.checkpoint(ctx, r.gen)
	}
}

func (e *Engine) complete(ctx context.Context, r *run) {
	var text string
	if !e.update(r, func(p *Progress) {
		p.Status = StatusCompleted
		text = p.Text
	}) {
		e.finishCancelled(r)
		return
	}
	p := e.Progress()
	r.logger.Info("transcription completed", "chunks", p.CurrentChunk, "skipped", p.SkippedChunks, "chars", len(text))

	if e.writer != nil {
		if err := e.writer.UpdateText(context.WithoutCancel(ctx), r.memoID, text); err != nil {
			r.logger.Error("store transcript", "err", err)
		}
	}
	e.clearCheckpoint(r.memoID)
}

func (e *Engine) fail(ctx context.Context, r *run, cause error) {
	if !e.update(r, func(p *Progress) {
		p.Status = StatusFailed
		p.Reason = cause.Error()
		e.err = cause
	}) {
		e.finishCancelled(r)
		return
	}
	r.logger.Error("transcription failed", "err", cause)
	e.checkpoint(context.WithoutCancel(ctx), r.gen)
}

// finishCancelled settles a run that observed cancellation. An explicit
// Cancel has already dropped the checkpoint; a cancelled parent context
// (process shutdown) keeps it so the next process can resume.
func (e *Engine) finishCancelled(r *run) {
	e.mu.Lock()
	if e.gen != r.gen {
		e.mu.Unlock()
		return
	}
	shutdown := e.progress.Status.Active()
	if shutdown {
		e.progress.Status = StatusCancelled
		e.publishLocked()
	}
	if e.progress.Status == StatusCancelled {
		e.err = ErrCancelled
	}
	e.mu.Unlock()

	if shutdown {
		r.logger.Info("transcription interrupted, checkpoint kept")
	}
}

// restore picks up a checkpoint left by an earlier process for the same
// memo and source. It returns the offset to resume from.
func (e *Engine) restore(ctx context.Context, r *run, total time.Duration) time.Duration {
	if e.store == nil {
		return 0
	}
	saved, err := e.store.LoadProgress(ctx, r.memoID)
	if err != nil {
		r.logger.Warn("load checkpoint", "err", err)
		return 0
	}
	if saved == nil || !saved.Status.Active() || saved.Source != r.source || saved.TotalDuration != total {
		return 0
	}

	e.update(r, func(p *Progress) {
		e.texts = nil
		if saved.Text != "" {
			e.texts = []string{saved.Text}
		}
		p.Text = saved.Text
		p.ProcessedDuration = saved.ProcessedDuration
		p.CurrentChunk = saved.CurrentChunk
		p.SkippedChunks = saved.SkippedChunks
	})
	r.logger.Info("resuming from checkpoint", "processed", saved.ProcessedDuration, "chunk", saved.CurrentChunk)
	return saved.ProcessedDuration
}

func (e *Engine) checkpoint(ctx context.Context, gen int) {
	if e.store == nil {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	if e.gen != gen || !(e.progress.Status.Active() || e.progress.Status == StatusFailed) {
		e.mu.Unlock()
		return
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if err := e.store.SaveProgress(ctx, snap); err != nil {
		e.logger.Warn("save checkpoint", "memo", snap.MemoID, "err", err)
	}
}

// clearCheckpoint waits out any save in flight, so nothing written for the
// run can land after the clear.
func (e *Engine) clearCheckpoint(memoID string) {
	if e.store == nil {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if err := e.store.ClearProgress(context.Background(), memoID); err != nil {
		e.logger.Warn("clear checkpoint", "memo", memoID, "err", err)
	}
}

// update applies fn to the current progress and publishes one snapshot. It
// reports false, without applying fn, once the run is stale or cancelled.
func (e *Engine) update(r *run, fn func(p *Progress)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != r.gen || e.progress.Status == StatusCancelled {
		return false
	}
	fn(&e.progress)
	e.publishLocked()
	return true
}

func (e *Engine) stopped(ctx context.Context, r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ctx.Err() != nil || e.gen != r.gen || e.progress.Status == StatusCancelled
}

func (e *Engine) pauseGate(r *run) (<-chan struct{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != r.gen || e.resumed == nil {
		return nil, false
	}
	return e.resumed, true
}

func (e *Engine) processed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress.ProcessedDuration
}

func (e *Engine) snapshotLocked() Progress {
	return e.progress
}

func (e *Engine) publishLocked() {
	e.progress.UpdatedAt = time.Now()
	snap := e.progress
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// captureEngineError folds any engine failure into the typed taxonomy.
func captureEngineError(err error) error {
	var re *RecognitionError
	if errors.Is(err, ErrEngineUnavailable) || errors.Is(err, ErrNoAudioData) || errors.As(err, &re) {
		return err
	}
	return &RecognitionError{Detail: "speech engine error", Err: err}
}
