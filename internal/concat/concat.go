// Package concat merges the segments of a memo into one audio file.
package concat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jwulff/voicememo/internal/audio"
	"github.com/jwulff/voicememo/internal/logging"
	"github.com/jwulff/voicememo/internal/segment"
	"github.com/spf13/afero"
)

// Progress checkpoints of a concatenation.
const (
	progressValidated = 0.05
	progressTimeline  = 0.10
	progressAppended  = 0.60
	progressSession   = 0.70
	progressEncoded   = 0.90
	progressDone      = 1.0
)

// driftTolerance is how far a declared duration may differ from the probed
// one before it is worth a log line.
const driftTolerance = 250 * time.Millisecond

// Concatenator merges segments through an Encoder. One logical operation is
// expected in flight per instance; IsProcessing reports it.
type Concatenator struct {
	fs         afero.Fs
	prober     audio.Prober
	encoder    audio.Encoder
	format     audio.Format
	tempDir    string
	logger     *log.Logger
	onProgress func(float64)

	mu         sync.Mutex
	processing bool
	progress   float64
}

// Option configures a Concatenator.
type Option func(*Concatenator)

// WithTempDir sets the process-scoped directory merged files are written to.
func WithTempDir(dir string) Option {
	return func(c *Concatenator) { c.tempDir = dir }
}

// WithFormat overrides the output profile.
func WithFormat(f audio.Format) Option {
	return func(c *Concatenator) { c.format = f }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Concatenator) { c.logger = l }
}

// WithProgress registers a callback receiving every progress increase.
func WithProgress(fn func(float64)) Option {
	return func(c *Concatenator) { c.onProgress = fn }
}

// New returns a Concatenator writing VoiceFormat files to the OS temp dir.
func New(fs afero.Fs, prober audio.Prober, encoder audio.Encoder, opts ...Option) *Concatenator {
	c := &Concatenator{
		fs:      fs,
		prober:  prober,
		encoder: encoder,
		format:  audio.VoiceFormat,
		tempDir: filepath.Join(os.TempDir(), "voicememo"),
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsProcessing reports whether a concatenation is running.
func (c *Concatenator) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Progress returns the fraction completed by the current or last run.
func (c *Concatenator) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Concatenate merges segments into one file in the temp dir and returns its
// path. Files are checked in the given order and the first missing one is
// reported; the merged timeline is laid out by ascending start time using
// each file's probed duration. On failure no output file is left behind.
// A cancelled ctx surfaces as KindUnknown wrapping ctx.Err(), so
// errors.Is(err, context.Canceled) holds.
func (c *Concatenator) Concatenate(ctx context.Context, segments []segment.Segment, outputName string) (string, error) {
	c.begin()
	defer c.end()

	if len(segments) == 0 {
		return "", &Error{Kind: KindNoSegments}
	}
	for _, s := range segments {
		ok, err := afero.Exists(c.fs, s.Path)
		if err != nil {
			return "", unknown("stat segment "+s.Path, err)
		}
		if !ok {
			return "", segmentNotFound(s.Path)
		}
	}
	c.report(progressValidated)

	ordered := segment.OrderedByStart(segments)
	var tl audio.Timeline
	c.report(progressTimeline)

	for i, s := range ordered {
		if err := ctx.Err(); err != nil {
			return "", unknown("cancelled", err)
		}
		d, err := c.load(ctx, s)
		if err != nil {
			return "", err
		}
		clip := tl.Append(s.Path, d)
		c.logger.Debug("appended segment", "segment", s.ID, "at", clip.At, "duration", d)
		c.report(progressTimeline + (progressAppended-progressTimeline)*float64(i+1)/float64(len(ordered)))
	}

	out, err := c.prepareOutput(outputName)
	if err != nil {
		return "", err
	}
	c.report(progressSession)

	if err := c.encoder.Export(ctx, tl, out, c.format); err != nil {
		c.discard(out)
		return "", exportFailed("encode "+filepath.Base(out), err)
	}
	c.report(progressEncoded)

	fi, err := c.fs.Stat(out)
	if err != nil || fi.Size() == 0 {
		c.discard(out)
		if err == nil {
			return "", exportFailed("output is empty", nil)
		}
		return "", exportFailed("output missing", err)
	}
	c.report(progressDone)

	c.logger.Info("segments merged", "segments", len(segments), "duration", tl.Duration(), "out", out)
	return out, nil
}

// load sniffs and probes one segment and returns its real duration.
func (c *Concatenator) load(ctx context.Context, s segment.Segment) (time.Duration, error) {
	f, err := c.fs.Open(s.Path)
	if err != nil {
		return 0, unknown("open segment "+s.Path, err)
	}
	mt, err := mimetype.DetectReader(f)
	f.Close()
	if err != nil {
		return 0, unknown("read segment "+s.Path, err)
	}
	if !isMedia(mt) {
		return 0, compositionFailed(s.Path, "not an audio file ("+mt.String()+")", nil)
	}

	info, err := c.prober.Probe(ctx, s.Path)
	if err != nil {
		return 0, compositionFailed(s.Path, "read audio track", err)
	}
	if info.AudioStreams == 0 {
		return 0, compositionFailed(s.Path, "no audio track", nil)
	}
	if info.Duration <= 0 {
		return 0, compositionFailed(s.Path, "empty audio track", nil)
	}

	if drift := info.Duration - s.Duration; drift > driftTolerance || drift < -driftTolerance {
		c.logger.Debug("declared duration differs from file", "segment", s.ID, "declared", s.Duration, "actual", info.Duration)
	}
	return info.Duration, nil
}

func (c *Concatenator) prepareOutput(name string) (string, error) {
	if name == "" {
		name = "merged-" + uuid.NewString()
	}
	name = filepath.Base(name)
	if !strings.HasSuffix(name, c.format.Ext) {
		name += c.format.Ext
	}
	if err := c.fs.MkdirAll(c.tempDir, 0o755); err != nil {
		return "", unknown("create temp dir", err)
	}
	out := filepath.Join(c.tempDir, name)
	if err := c.fs.Remove(out); err != nil && !os.IsNotExist(err) {
		return "", unknown("remove stale output", err)
	}
	return out, nil
}

func (c *Concatenator) discard(path string) {
	if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("remove partial output", "path", path, "err", err)
	}
}

func (c *Concatenator) begin() {
	c.mu.Lock()
	c.processing = true
	c.progress = 0
	fn := c.onProgress
	c.mu.Unlock()
	if fn != nil {
		fn(0)
	}
}

func (c *Concatenator) end() {
	c.mu.Lock()
	c.processing = false
	c.mu.Unlock()
}

// report raises progress; lower values are ignored.
func (c *Concatenator) report(p float64) {
	c.mu.Lock()
	if p <= c.progress {
		c.mu.Unlock()
		return
	}
	c.progress = p
	fn := c.onProgress
	c.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func isMedia(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		s := m.String()
		if strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/") || s == "application/ogg" {
			return true
		}
	}
	return false
}
