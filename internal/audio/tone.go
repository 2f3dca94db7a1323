package audio

import (
	"context"
	"fmt"
	"strings"
	"time"

	execute "github.com/alexellis/go-execute/v2"
)

// GenerateTone writes a sine tone of the given length in VoiceFormat. Used to
// produce synthetic recordings for smoke tests and the `memo demo` command.
func GenerateTone(ctx context.Context, ffmpegPath, out string, d time.Duration) error {
	task := execute.ExecTask{
		Command: ffmpegPath,
		Args: []string{
			"-y", "-v", "error",
			"-f", "lavfi",
			"-i", fmt.Sprintf("sine=frequency=440:duration=%s", seconds(d)),
			"-c:a", VoiceFormat.Codec,
			"-b:a", VoiceFormat.Bitrate,
			"-ac", "1",
			"-f", VoiceFormat.Muxer,
			out,
		},
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return fmt.Errorf("generate tone: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("generate tone: exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
