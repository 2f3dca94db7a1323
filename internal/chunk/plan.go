// Package chunk splits a long recording into ranges short enough for a single
// transcription call.
package chunk

import (
	"fmt"
	"time"
)

// DefaultMaxDuration is the per-call ceiling of the on-device speech engine.
const DefaultMaxDuration = 55 * time.Second

// Range is the half-open interval [Start, End) of the source audio.
type Range struct {
	Index int
	Start time.Duration
	End   time.Duration
}

// Duration returns End - Start.
func (r Range) Duration() time.Duration {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("chunk %d [%s, %s)", r.Index, r.Start, r.End)
}

// Plan returns the ranges still to be transcribed. Assets no longer than max
// are never split. Otherwise resumption restarts at the chunk boundary at or
// before resumeOffset, so no unprocessed audio is skipped.
func Plan(total, max, resumeOffset time.Duration) []Range {
	if total <= 0 || max <= 0 {
		return nil
	}
	if total <= max {
		return []Range{{Index: 0, Start: 0, End: total}}
	}

	count := Count(total, max)
	first := 0
	if resumeOffset > 0 {
		first = int(resumeOffset / max)
	}

	ranges := make([]Range, 0, max0(count-first))
	for i := first; i < count; i++ {
		start := time.Duration(i) * max
		ranges = append(ranges, Range{
			Index: i,
			Start: start,
			End:   min(start+max, total),
		})
	}
	return ranges
}

// Count is ceil(total / max), or 1 for assets that fit in a single call.
func Count(total, max time.Duration) int {
	if total <= 0 || max <= 0 {
		return 0
	}
	if total <= max {
		return 1
	}
	return int((total + max - 1) / max)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
