package transcribe

import (
	"fmt"
	"time"
)

// Status is the state of a transcription run.
type Status int

const (
	StatusIdle Status = iota
	StatusPreparing
	StatusTranscribing
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = [...]string{
	StatusIdle:         "idle",
	StatusPreparing:    "preparing",
	StatusTranscribing: "transcribing",
	StatusPaused:       "paused",
	StatusCompleted:    "completed",
	StatusFailed:       "failed",
	StatusCancelled:    "cancelled",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus is the inverse of String.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusIdle, fmt.Errorf("unknown status %q", name)
}

// Active reports whether a run in this state can still make progress.
func (s Status) Active() bool {
	return s == StatusPreparing || s == StatusTranscribing || s == StatusPaused
}

// Terminal reports whether the run has ended.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Progress is a consistent snapshot of a run. Snapshots are only ever
// published whole.
type Progress struct {
	MemoID            string        `json:"memoId"`
	Source            string        `json:"source"`
	Status            Status        `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	CurrentChunk      int           `json:"currentChunk"`
	TotalChunks       int           `json:"totalChunks"`
	SkippedChunks     int           `json:"skippedChunks"`
	ProcessedDuration time.Duration `json:"processedDuration"`
	TotalDuration     time.Duration `json:"totalDuration"`
	Text              string        `json:"text"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// Fraction is processed/total in [0, 1].
func (p Progress) Fraction() float64 {
	if p.TotalDuration <= 0 {
		return 0
	}
	f := float64(p.ProcessedDuration) / float64(p.TotalDuration)
	if f > 1 {
		return 1
	}
	return f
}
