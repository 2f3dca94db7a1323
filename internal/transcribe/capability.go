package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwulff/voicememo/internal/audio"
)

var (
	// ErrNoSpeech is the sentinel a Transcriber returns when the audio holds
	// no recognizable speech. It is not a failure.
	ErrNoSpeech          = errors.New("transcribe: no speech detected")
	ErrEngineUnavailable = errors.New("transcribe: speech engine unavailable")
	ErrNoAudioData       = errors.New("transcribe: no audio data")

	ErrAlreadyTranscribing = errors.New("transcribe: already transcribing")
	ErrCancelled           = errors.New("transcribe: cancelled")
	ErrRunActive           = errors.New("transcribe: run still active")
	ErrNotStarted          = errors.New("transcribe: no run started")
)

// RecognitionError is a failure reported by the speech engine for one call.
type RecognitionError struct {
	Detail string
	Err    error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognition failed: %s: %v", e.Detail, e.Err)
	}
	return "recognition failed: " + e.Detail
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Transcriber turns one engine-consumable audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path, locale string) (string, error)
}

// ReadyChecker is implemented by transcribers that can report up front that
// they cannot run at all (missing model, unreachable server).
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Audio is the introspection and slicing the engine needs from the source.
type Audio interface {
	audio.Prober
	audio.Slicer
}

// ProgressStore persists run checkpoints so another process can resume.
type ProgressStore interface {
	SaveProgress(ctx context.Context, p Progress) error
	LoadProgress(ctx context.Context, memoID string) (*Progress, error)
	ClearProgress(ctx context.Context, memoID string) error
}

// TranscriptWriter receives the final transcript of a completed run.
type TranscriptWriter interface {
	UpdateText(ctx context.Context, memoID, text string) error
}
