// Package daemon provides the server, client and protocol types for the
// voicememo daemon, which speaks NDJSON over a Unix socket.
package daemon

import (
	"time"

	"github.com/jwulff/voicememo/internal/segment"
	"github.com/jwulff/voicememo/internal/transcribe"
)

// Command names.
const (
	CmdTranscribe = "transcribe"
	CmdPause      = "pause"
	CmdResume     = "resume"
	CmdCancel     = "cancel"
	CmdReset      = "reset"
	CmdStatus     = "status"
	CmdConcat     = "concat"
	CmdSegments   = "segments"
	CmdSubscribe  = "subscribe"
)

// Event names.
const (
	EventProgress = "progress"
	EventConcat   = "concat"
	EventError    = "error"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd    string   `json:"cmd"`
	MemoID string   `json:"memoId,omitempty"`
	Path   string   `json:"path,omitempty"`
	Locale string   `json:"locale,omitempty"`
	Output string   `json:"output,omitempty"`
	Events []string `json:"events,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK             bool                 `json:"ok"`
	Error          string               `json:"error,omitempty"`
	Status         string               `json:"status,omitempty"`
	Changed        *bool                `json:"changed,omitempty"`
	Progress       *transcribe.Progress `json:"progress,omitempty"`
	Concatenating  *bool                `json:"concatenating,omitempty"`
	ConcatProgress *float64             `json:"concatProgress,omitempty"`
	Path           string               `json:"path,omitempty"`
	Segments       []SegmentInfo        `json:"segments,omitempty"`
}

// SegmentInfo is the wire form of a segment.
type SegmentInfo struct {
	ID       string        `json:"id"`
	Path     string        `json:"path"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Event is streamed from the daemon to subscribed clients.
type Event struct {
	Event    string               `json:"event"`
	MemoID   string               `json:"memoId,omitempty"`
	Progress *transcribe.Progress `json:"progress,omitempty"`
	Fraction *float64             `json:"fraction,omitempty"`
	Message  string               `json:"message,omitempty"`
}

// BoolPtr returns a pointer to a bool value.
func BoolPtr(b bool) *bool { return &b }

// FloatPtr returns a pointer to a float64 value.
func FloatPtr(f float64) *float64 { return &f }

func segmentInfos(segs []segment.Segment) []SegmentInfo {
	out := make([]SegmentInfo, 0, len(segs))
	for _, s := range segs {
		out = append(out, SegmentInfo{ID: s.ID, Path: s.Path, Start: s.Start, Duration: s.Duration})
	}
	return out
}
