package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jwulff/voicememo/internal/logging"
)

var (
	_ Prober  = (*FFmpeg)(nil)
	_ Slicer  = (*FFmpeg)(nil)
	_ Encoder = (*FFmpeg)(nil)
)

// ErrEmptyTimeline is returned when Export is asked to render nothing.
var ErrEmptyTimeline = errors.New("audio: empty timeline")

// runFunc executes a command and returns its captured output.
type runFunc func(ctx context.Context, name string, args []string) (execute.ExecResult, error)

// FFmpeg shells out to ffmpeg/ffprobe.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	logger      *log.Logger
	run         runFunc
}

// Option configures FFmpeg.
type Option func(*FFmpeg)

// WithBinaries overrides the ffmpeg and ffprobe executables.
func WithBinaries(ffmpegPath, ffprobePath string) Option {
	return func(f *FFmpeg) {
		if ffmpegPath != "" {
			f.ffmpegPath = ffmpegPath
		}
		if ffprobePath != "" {
			f.ffprobePath = ffprobePath
		}
	}
}

// WithTempDir sets where extracted chunks are written.
func WithTempDir(dir string) Option {
	return func(f *FFmpeg) { f.tempDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(f *FFmpeg) { f.logger = l }
}

func withRunner(r runFunc) Option {
	return func(f *FFmpeg) { f.run = r }
}

// NewFFmpeg returns an FFmpeg using binaries from PATH unless overridden.
func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		tempDir:     os.TempDir(),
		logger:      logging.Discard(),
		run:         execRun,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func execRun(ctx context.Context, name string, args []string) (execute.ExecResult, error) {
	task := execute.ExecTask{
		Command: name,
		Args:    args,
	}
	return task.Execute(ctx)
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe and reports the container duration and audio stream count.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "json",
		path,
	}
	res, err := f.run(ctx, f.ffprobePath, args)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		return Info{}, fmt.Errorf("ffprobe %s: exit %d: %s", path, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseProbe(res.Stdout)
}

func parseProbe(out string) (Info, error) {
	var po probeOutput
	if err := json.Unmarshal([]byte(out), &po); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	var info Info
	for _, s := range po.Streams {
		if s.CodecType == "audio" {
			info.AudioStreams++
		}
	}
	if po.Format.Duration == "" || po.Format.Duration == "N/A" {
		return info, fmt.Errorf("parse ffprobe output: no duration")
	}
	secs, err := strconv.ParseFloat(po.Format.Duration, 64)
	if err != nil {
		return info, fmt.Errorf("parse duration %q: %w", po.Format.Duration, err)
	}
	info.Duration = time.Duration(secs * float64(time.Second))
	return info, nil
}

// Extract writes a 16 kHz mono WAV of the requested range.
func (f *FFmpeg) Extract(ctx context.Context, src string, start, duration time.Duration) (string, error) {
	out := filepath.Join(f.tempDir, "chunk-"+uuid.NewString()+".wav")
	args := []string{
		"-y", "-v", "error",
		"-ss", seconds(start),
		"-t", seconds(duration),
		"-i", src,
		"-vn", "-ac", "1", "-ar", "16000",
		"-f", "wav",
		out,
	}
	f.logger.Debug("extracting chunk", "src", src, "start", start, "duration", duration)
	res, err := f.run(ctx, f.ffmpegPath, args)
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("ffmpeg extract %s: %w", src, err)
	}
	return out, nil
}

// Export concatenates the timeline's clips with ffmpeg's concat filter and
// encodes the result in the requested format.
func (f *FFmpeg) Export(ctx context.Context, tl Timeline, out string, format Format) error {
	args, err := exportArgs(tl, out, format)
	if err != nil {
		return err
	}
	f.logger.Debug("exporting timeline", "clips", len(tl.Clips), "out", out)
	res, err := f.run(ctx, f.ffmpegPath, args)
	if err != nil {
		return fmt.Errorf("ffmpeg export: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ffmpeg export: exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func exportArgs(tl Timeline, out string, format Format) ([]string, error) {
	if len(tl.Clips) == 0 {
		return nil, ErrEmptyTimeline
	}
	args := []string{"-y", "-v", "error"}
	var filter strings.Builder
	for i, c := range tl.Clips {
		args = append(args, "-t", seconds(c.Duration), "-i", c.Path)
		fmt.Fprintf(&filter, "[%d:a]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[out]", len(tl.Clips))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[out]",
		"-c:a", format.Codec,
	)
	if format.Bitrate != "" {
		args = append(args, "-b:a", format.Bitrate)
	}
	if format.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(format.Channels))
	}
	if format.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(format.SampleRate))
	}
	if format.Muxer != "" {
		args = append(args, "-f", format.Muxer)
	}
	return append(args, out), nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
