package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/charmbracelet/log"
	"github.com/jwulff/voicememo/internal/logging"
	"github.com/jwulff/voicememo/internal/transcribe"
)

var (
	_ transcribe.Transcriber  = (*Whisper)(nil)
	_ transcribe.ReadyChecker = (*Whisper)(nil)
)

// blankMarkers are what whisper.cpp prints for segments without speech.
var blankMarkers = []string{"[BLANK_AUDIO]", "[ Silence ]", "[silence]", "(silence)", "[NO_SPEECH]"}

type runFunc func(ctx context.Context, name string, args []string) (execute.ExecResult, error)

// Whisper runs a local whisper.cpp model through its CLI.
type Whisper struct {
	Binary  string
	Model   string
	Threads int
	logger  *log.Logger
	run     runFunc
}

// NewWhisper returns a Whisper using binary (default "whisper-cli") and the
// ggml model at modelPath.
func NewWhisper(binary, modelPath string, logger *log.Logger) *Whisper {
	if binary == "" {
		binary = "whisper-cli"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Whisper{
		Binary: binary,
		Model:  modelPath,
		logger: logger,
		run: func(ctx context.Context, name string, args []string) (execute.ExecResult, error) {
			task := execute.ExecTask{Command: name, Args: args}
			return task.Execute(ctx)
		},
	}
}

// Ready checks that the binary and model are present.
func (w *Whisper) Ready(context.Context) error {
	if _, err := exec.LookPath(w.Binary); err != nil {
		return fmt.Errorf("%w: %s: %v", transcribe.ErrEngineUnavailable, w.Binary, err)
	}
	if _, err := os.Stat(w.Model); err != nil {
		return fmt.Errorf("%w: model %s: %v", transcribe.ErrEngineUnavailable, w.Model, err)
	}
	return nil
}

// Transcribe runs one file through the model.
func (w *Whisper) Transcribe(ctx context.Context, path, locale string) (string, error) {
	if err := checkAudioFile(path); err != nil {
		return "", err
	}
	lang, err := Language(locale)
	if err != nil {
		return "", &transcribe.RecognitionError{Detail: "unsupported locale", Err: err}
	}

	args := []string{"-m", w.Model, "-f", path, "-l", lang, "-nt", "-np"}
	if w.Threads > 0 {
		args = append(args, "-t", fmt.Sprint(w.Threads))
	}
	w.logger.Debug("whisper", "file", path, "lang", lang)

	res, err := w.run(ctx, w.Binary, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", transcribe.ErrEngineUnavailable, err)
		}
		return "", &transcribe.RecognitionError{Detail: "run whisper", Err: err}
	}
	if res.ExitCode != 0 {
		return "", &transcribe.RecognitionError{Detail: fmt.Sprintf("whisper exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))}
	}
	return cleanTranscript(res.Stdout)
}

// cleanTranscript joins output lines and maps blank output to ErrNoSpeech.
func cleanTranscript(out string) (string, error) {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		for _, m := range blankMarkers {
			line = strings.TrimSpace(strings.ReplaceAll(line, m, ""))
		}
		if line != "" {
			parts = append(parts, line)
		}
	}
	if len(parts) == 0 {
		return "", transcribe.ErrNoSpeech
	}
	return strings.Join(parts, " "), nil
}

func checkAudioFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", transcribe.ErrNoAudioData, err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", transcribe.ErrNoAudioData, path)
	}
	return nil
}
