// Package audio describes the external audio capabilities the core depends on
// (introspection, slicing, encoding) and provides an ffmpeg-backed
// implementation of all three.
package audio

import (
	"context"
	"time"
)

// Info is what introspection reports about an asset.
type Info struct {
	Duration     time.Duration
	AudioStreams int
}

// Prober reads an asset's authoritative duration and track layout.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// Slicer extracts [start, start+duration) of src into an independent
// temporary file. The caller owns the returned file.
type Slicer interface {
	Extract(ctx context.Context, src string, start, duration time.Duration) (string, error)
}

// Encoder renders a timeline into a single output file.
type Encoder interface {
	Export(ctx context.Context, tl Timeline, out string, f Format) error
}

// Format is an output container/codec profile.
type Format struct {
	Name       string
	Ext        string
	Muxer      string
	Codec      string
	Bitrate    string
	SampleRate int
	Channels   int
}

// VoiceFormat is the single lossy profile used for recordings and merged
// output: mono AAC in an M4A container.
var VoiceFormat = Format{
	Name:       "voice",
	Ext:        ".m4a",
	Muxer:      "ipod",
	Codec:      "aac",
	Bitrate:    "64k",
	SampleRate: 44100,
	Channels:   1,
}

// Clip is one source file placed on a timeline.
type Clip struct {
	Path     string
	At       time.Duration
	Duration time.Duration
}

// Timeline is an ordered composition of clips laid end to end.
type Timeline struct {
	Clips []Clip
}

// Append places the full range of path at the current insertion point.
func (t *Timeline) Append(path string, d time.Duration) Clip {
	c := Clip{Path: path, At: t.Duration(), Duration: d}
	t.Clips = append(t.Clips, c)
	return c
}

// Duration is the insertion point after the last clip.
func (t Timeline) Duration() time.Duration {
	if len(t.Clips) == 0 {
		return 0
	}
	last := t.Clips[len(t.Clips)-1]
	return last.At + last.Duration
}
