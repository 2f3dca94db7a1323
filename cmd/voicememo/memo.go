package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jwulff/voicememo/internal/db"
	"github.com/jwulff/voicememo/internal/segment"
)

func newMemoCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "memo",
		Aliases: []string{"m"},
		Short:   "Create, inspect and delete memos",
	}
	cmd.AddCommand(
		newMemoNewCommand(c),
		newMemoAddSegmentCommand(c),
		newMemoListCommand(c),
		newMemoShowCommand(c),
		newMemoSegmentsCommand(c),
		newMemoDeleteCommand(c),
	)
	return cmd
}

func newMemoNewCommand(c *cli) *cobra.Command {
	var locale string
	cmd := &cobra.Command{
		Use:     "new [title]",
		Short:   "Create an empty memo",
		Example: `$ voicememo memo new "Standup notes" --locale de_DE`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			title := "New Recording"
			if len(args) == 1 {
				title = args[0]
			}
			if locale == "" {
				locale = c.cfg.Locale
			}
			m, err := store.CreateMemo(c.ctx, title, locale)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, m.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "transcription locale for this memo")
	return cmd
}

func newMemoAddSegmentCommand(c *cli) *cobra.Command {
	var start time.Duration
	cmd := &cobra.Command{
		Use:   "add-segment <memo-id> <audio-file>",
		Short: "Attach a recorded file to a memo",
		Long: `Attach a recorded file to a memo. The duration is read from the file.
Without --start the segment is placed after the memo's last segment.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			memoID, path := args[0], args[1]
			existing, err := store.Segments(c.ctx, memoID)
			if err != nil {
				return err
			}
			info, err := c.ffmpeg().Probe(c.ctx, path)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("start") {
				start = segment.NextStart(existing)
			}

			seg, err := segment.New(memoID, path, start, info.Duration)
			if err != nil {
				return err
			}
			if err := store.AppendSegment(c.ctx, seg); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s %s +%s\n", seg.ID, seg.Start, seg.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&start, "start", 0, "position of the segment on the memo timeline")
	return cmd
}

func newMemoListCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List memos, newest first",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			memos, err := store.Memos(c.ctx)
			if err != nil {
				return err
			}
			return printMemos(c.out, memos, time.Now())
		},
	}
}

func newMemoShowCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <memo-id>",
		Short: "Print a memo's transcript and checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := store.Memo(c.ctx, args[0])
			if err != nil {
				return err
			}
			p, err := store.LoadProgress(c.ctx, m.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "%s (%s, %s)\n", m.Title, m.Locale, humanize.Time(m.CreatedAt))
			if p != nil {
				fmt.Fprintf(c.out, "checkpoint: %s, chunk %d/%d, %s of %s\n",
					p.Status, p.CurrentChunk, p.TotalChunks,
					p.ProcessedDuration.Round(time.Second), p.TotalDuration.Round(time.Second))
			}
			if m.Text != "" {
				fmt.Fprintln(c.out)
				fmt.Fprintln(c.out, m.Text)
			}
			return nil
		},
	}
}

func newMemoSegmentsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "segments <memo-id>",
		Short: "List a memo's segments in timeline order",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			segs, err := store.Segments(c.ctx, args[0])
			if err != nil {
				return err
			}
			return printSegments(c.out, segs, fileSize)
		},
	}
}

func newMemoDeleteCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <memo-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a memo, its segment records and its checkpoint",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.DeleteMemo(c.ctx, args[0])
		},
	}
}

func printMemos(w io.Writer, memos []db.Memo, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tLOCALE\tCREATED\tWORDS")
	for _, m := range memos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.Title, m.Locale,
			humanize.RelTime(m.CreatedAt, now, "ago", "from now"),
			humanize.Comma(int64(wordCount(m.Text))))
	}
	return tw.Flush()
}

func printSegments(w io.Writer, segs []segment.Segment, size func(string) (int64, error)) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTART\tDURATION\tSIZE\tPATH")
	for i, s := range segs {
		sz := "missing"
		if n, err := size(s.Path); err == nil {
			sz = humanize.Bytes(uint64(n))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			i+1, s.Start.Round(time.Millisecond), s.Duration.Round(time.Millisecond), sz, s.Path)
	}
	fmt.Fprintf(tw, "\ttotal\t%s\t\t\n", segment.TotalDuration(segs).Round(time.Millisecond))
	return tw.Flush()
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
