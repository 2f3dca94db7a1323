// Package segment models the independently recorded spans of audio that make up a memo.
package segment

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyPath       = errors.New("segment: empty file path")
	ErrInvalidStart    = errors.New("segment: start must not be negative")
	ErrInvalidDuration = errors.New("segment: duration must be positive")
)

// Segment is one contiguous span of recorded audio owned by a memo.
type Segment struct {
	ID        string
	MemoID    string
	Path      string
	Start     time.Duration
	Duration  time.Duration
	CreatedAt time.Time
}

// New validates the span and returns a segment with a fresh identifier.
func New(memoID, path string, start, duration time.Duration) (Segment, error) {
	if path == "" {
		return Segment{}, ErrEmptyPath
	}
	if start < 0 {
		return Segment{}, fmt.Errorf("%w: %v", ErrInvalidStart, start)
	}
	if duration <= 0 {
		return Segment{}, fmt.Errorf("%w: %v", ErrInvalidDuration, duration)
	}
	return Segment{
		ID:        uuid.NewString(),
		MemoID:    memoID,
		Path:      path,
		Start:     start,
		Duration:  duration,
		CreatedAt: time.Now(),
	}, nil
}

// End returns Start + Duration.
func (s Segment) End() time.Duration {
	return s.Start + s.Duration
}

// Relocate returns a copy pointing at a new file. The file reference is the
// only field that may change after creation.
func (s Segment) Relocate(path string) Segment {
	s.Path = path
	return s
}

// TotalDuration sums the declared durations.
func TotalDuration(segments []Segment) time.Duration {
	var total time.Duration
	for _, s := range segments {
		total += s.Duration
	}
	return total
}

// OrderedByStart returns a copy sorted ascending by start time. Ties keep
// creation order.
func OrderedByStart(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	copy(out, segments)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// NextStart is where an appended recording begins: the latest end time in the
// collection, or zero for an empty memo.
func NextStart(segments []Segment) time.Duration {
	var next time.Duration
	for _, s := range segments {
		if e := s.End(); e > next {
			next = e
		}
	}
	return next
}

// FileName derives a filename from a segment's position. The index is only
// used for naming.
func FileName(index int, ext string) string {
	return fmt.Sprintf("segment_%03d%s", index, ext)
}
