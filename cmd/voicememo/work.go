package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jwulff/voicememo/internal/chunk"
	"github.com/jwulff/voicememo/internal/daemon"
	"github.com/jwulff/voicememo/internal/transcribe"
)

func newConcatCommand(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "concat <memo-id>",
		Short: "Merge a memo's segments into one audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			memoID := args[0]
			if _, err := store.Memo(c.ctx, memoID); err != nil {
				return err
			}
			segs, err := store.Segments(c.ctx, memoID)
			if err != nil {
				return err
			}
			if output == "" {
				output = memoID
			}
			if output == daemon.SourceName(memoID) {
				return fmt.Errorf("%w: %q", daemon.ErrReservedOutput, output)
			}

			merger := c.concatenator(c.ffmpeg(), func(f float64) {
				fmt.Fprintf(os.Stderr, "\rmerging %3.0f%%", f*100)
			})
			path, err := merger.Concatenate(c.ctx, segs, output)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			size := "?"
			if n, err := fileSize(path); err == nil {
				size = humanize.Bytes(uint64(n))
			}
			fmt.Fprintf(c.out, "%s (%d segments, %s)\n", path, len(segs), size)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file name without extension (default: memo id)")
	return cmd
}

func newTranscribeCommand(c *cli) *cobra.Command {
	var (
		path   string
		locale string
		local  bool
		detach bool
	)
	cmd := &cobra.Command{
		Use:   "transcribe <memo-id>",
		Short: "Transcribe a memo chunk by chunk",
		Long: `Transcribe a memo chunk by chunk. By default the daemon runs the job and this
command follows its progress; Ctrl-C stops following without cancelling the run.
Without --path the memo's segments are merged first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if path != "" {
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}
				path = abs
			}
			if local {
				return c.transcribeLocal(args[0], path, locale)
			}
			return c.transcribeRemote(args[0], path, locale, detach)
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "transcribe this file instead of the memo's segments")
	cmd.Flags().StringVar(&locale, "locale", "", "override the memo's locale")
	cmd.Flags().BoolVar(&local, "local", false, "run in this process instead of the daemon")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "start the run and return immediately")
	return cmd
}

func (c *cli) transcribeRemote(memoID, path, locale string, detach bool) error {
	sock := c.cfg.SocketPath
	cmdClient, err := daemon.ConnectContext(c.ctx, sock)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s (start it with 'voicememo serve'): %w", sock, err)
	}
	defer cmdClient.Close()

	var evClient *daemon.Client
	if !detach {
		evClient, err = daemon.Connect(sock)
		if err != nil {
			return err
		}
		defer evClient.Close()
		if err := evClient.Subscribe(daemon.EventProgress, daemon.EventConcat, daemon.EventError); err != nil {
			return err
		}
		stop := context.AfterFunc(c.ctx, func() { evClient.Close() })
		defer stop()
	}

	resp, err := cmdClient.Do(daemon.Command{Cmd: daemon.CmdTranscribe, MemoID: memoID, Path: path, Locale: locale})
	if err != nil {
		return err
	}
	if detach {
		fmt.Fprintf(c.out, "started (%s)\n", resp.Status)
		return nil
	}

	for {
		ev, err := evClient.ReadEvent()
		if err != nil {
			if c.ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "\nstopped following; the daemon keeps running")
				return nil
			}
			return err
		}
		switch ev.Event {
		case daemon.EventConcat:
			if ev.MemoID == memoID && ev.Fraction != nil {
				fmt.Fprintf(os.Stderr, "\rmerging %3.0f%%", *ev.Fraction*100)
			}
		case daemon.EventError:
			if ev.MemoID == "" || ev.MemoID == memoID {
				return errors.New(ev.Message)
			}
		case daemon.EventProgress:
			if ev.Progress == nil || ev.Progress.MemoID != memoID {
				continue
			}
			fmt.Fprintf(os.Stderr, "\r%s", formatProgress(*ev.Progress))
			if ev.Progress.Status.Terminal() {
				fmt.Fprintln(os.Stderr)
				return c.finish(*ev.Progress)
			}
		}
	}
}

func (c *cli) transcribeLocal(memoID, path, locale string) error {
	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := store.Memo(c.ctx, memoID)
	if err != nil {
		return err
	}
	if locale == "" {
		locale = m.Locale
	}

	ff := c.ffmpeg()
	if path == "" {
		segs, err := store.Segments(c.ctx, memoID)
		if err != nil {
			return err
		}
		merged, err := c.concatenator(ff, nil).Concatenate(c.ctx, segs, daemon.SourceName(memoID))
		if err != nil {
			return err
		}
		defer c.fs.Remove(merged)
		path = merged
	}

	engine := c.engine(store, ff)
	updates, unsubscribe := engine.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range updates {
			fmt.Fprintf(os.Stderr, "\r%s", formatProgress(p))
		}
	}()

	var opts []transcribe.RunOption
	if locale != "" {
		opts = append(opts, transcribe.RunLocale(locale))
	}
	p, err := engine.Run(c.ctx, path, memoID, opts...)
	unsubscribe()
	<-done
	fmt.Fprintln(os.Stderr)
	if err != nil && !p.Status.Terminal() {
		return err
	}
	return c.finish(p)
}

func (c *cli) finish(p transcribe.Progress) error {
	if p.SkippedChunks > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d chunks could not be transcribed\n", p.SkippedChunks, p.TotalChunks)
	}
	switch p.Status {
	case transcribe.StatusCompleted:
		fmt.Fprintln(c.out, p.Text)
		return nil
	case transcribe.StatusCancelled:
		return errors.New("transcription cancelled")
	default:
		return fmt.Errorf("transcription %s: %s", p.Status, p.Reason)
	}
}

func formatProgress(p transcribe.Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s", p.Status)
	if p.TotalChunks > 0 {
		fmt.Fprintf(&b, " chunk %d/%d", p.CurrentChunk, p.TotalChunks)
	}
	fmt.Fprintf(&b, " %s / %s %3.0f%%",
		p.ProcessedDuration.Round(time.Second), p.TotalDuration.Round(time.Second), p.Fraction()*100)
	if p.SkippedChunks > 0 {
		fmt.Fprintf(&b, " (%d skipped)", p.SkippedChunks)
	}
	return b.String()
}

func newPlanCommand(c *cli) *cobra.Command {
	var (
		max    time.Duration
		resume time.Duration
	)
	cmd := &cobra.Command{
		Use:   "plan <duration|audio-file>",
		Short: "Show how an asset would be split into chunks",
		Example: `$ voicememo plan 4m35s
$ voicememo plan recording.m4a --resume 2m`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			total, err := time.ParseDuration(args[0])
			if err != nil {
				info, perr := c.ffmpeg().Probe(c.ctx, args[0])
				if perr != nil {
					return perr
				}
				total = info.Duration
			}
			if max == 0 {
				max = c.cfg.Chunk.MaxDuration
			}
			return printPlan(c.out, total, max, resume)
		},
	}
	cmd.Flags().DurationVar(&max, "max", 0, "chunk ceiling (default from config)")
	cmd.Flags().DurationVar(&resume, "resume", 0, "resume offset from a checkpoint")
	return cmd
}

func printPlan(w io.Writer, total, max, resume time.Duration) error {
	ranges := chunk.Plan(total, max, resume)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tSTART\tEND\tLENGTH")
	for _, r := range ranges {
		fmt.Fprintf(tw, "%d/%d\t%s\t%s\t%s\n", r.Index+1, chunk.Count(total, max),
			r.Start.Round(time.Millisecond), r.End.Round(time.Millisecond), r.Duration().Round(time.Millisecond))
	}
	if len(ranges) > 0 {
		remaining := total - ranges[0].Start
		fmt.Fprintf(tw, "%s remaining in %s\n", remaining.Round(time.Millisecond), pluralChunks(len(ranges)))
	}
	return tw.Flush()
}

func pluralChunks(n int) string {
	if n == 1 {
		return "one call"
	}
	return humanize.Comma(int64(n)) + " calls"
}
