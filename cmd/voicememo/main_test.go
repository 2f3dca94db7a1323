package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwulff/voicememo/internal/daemon"
	"github.com/jwulff/voicememo/internal/db"
	"github.com/jwulff/voicememo/internal/segment"
	"github.com/jwulff/voicememo/internal/transcribe"
)

// isolate points the database and socket into a temp dir and returns an
// empty config file to run against.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VOICEMEMO_DB", filepath.Join(dir, "vm.sqlite"))
	t.Setenv("VOICEMEMO_SOCKET", filepath.Join(dir, "vm.sock"))
	t.Setenv("VOICEMEMO_TEMP_DIR", dir)
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("log_level: error\n"), 0o644))
	return cfg
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(context.Background(), &out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCommand(context.Background(), &bytes.Buffer{})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "tui", "mcp", "memo", "concat", "transcribe", "plan"} {
		assert.Contains(t, names, want)
	}
}

func TestExplicitConfigMustExist(t *testing.T) {
	isolate(t)
	_, err := run(t, filepath.Join(t.TempDir(), "missing.yaml"), "plan", "10s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestPlanCommand(t *testing.T) {
	cfg := isolate(t)
	out, err := run(t, cfg, "plan", "4m35s")
	require.NoError(t, err)
	assert.Contains(t, out, "5/5")
}

func TestMemoLifecycle(t *testing.T) {
	cfg := isolate(t)

	out, err := run(t, cfg, "memo", "new", "Standup", "--locale", "de_DE")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = run(t, cfg, "memo", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "de_DE")

	out, err = run(t, cfg, "memo", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Standup (de_DE")

	out, err = run(t, cfg, "memo", "segments", id)
	require.NoError(t, err)
	assert.Contains(t, out, "total")

	_, err = run(t, cfg, "memo", "delete", id)
	require.NoError(t, err)

	_, err = run(t, cfg, "memo", "show", id)
	assert.ErrorIs(t, err, db.ErrMemoNotFound)
}

func TestConcatRejectsTranscriptionSourceName(t *testing.T) {
	cfg := isolate(t)
	out, err := run(t, cfg, "memo", "new", "Standup")
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	_, err = run(t, cfg, "concat", id, "--output", daemon.SourceName(id))
	assert.ErrorIs(t, err, daemon.ErrReservedOutput)
}

func TestTranscribeWithoutDaemon(t *testing.T) {
	cfg := isolate(t)
	_, err := run(t, cfg, "transcribe", "memo-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
}

func TestPlanOutput(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printPlan(&out, 2*time.Minute+5*time.Second, 55*time.Second, 0))

	s := out.String()
	assert.Contains(t, s, "1/3")
	assert.Contains(t, s, "3/3")
	assert.Contains(t, s, "2m5s remaining in 3 calls")
}

func TestPlanOutputResume(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printPlan(&out, 2*time.Minute+5*time.Second, 55*time.Second, 60*time.Second))

	s := out.String()
	assert.NotContains(t, s, "1/3")
	assert.Contains(t, s, "2/3")
	assert.Contains(t, s, "1m10s remaining in 2 calls")
}

func TestPlanOutputShortAsset(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printPlan(&out, 30*time.Second, 55*time.Second, 0))
	assert.Contains(t, out.String(), "one call")
}

func TestPrintMemos(t *testing.T) {
	now := time.Now()
	memos := []db.Memo{
		{ID: "m1", Title: "Standup", Locale: "en_US", Text: "one two three", CreatedAt: now.Add(-2 * time.Hour)},
	}
	var out bytes.Buffer
	require.NoError(t, printMemos(&out, memos, now))

	s := out.String()
	assert.Contains(t, s, "Standup")
	assert.Contains(t, s, "2 hours ago")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(s), "3"))
}

func TestPrintSegments(t *testing.T) {
	segs := []segment.Segment{
		{ID: "a", Path: "/rec/one.m4a", Start: 0, Duration: 30 * time.Second},
		{ID: "b", Path: "/rec/two.m4a", Start: 30 * time.Second, Duration: 15 * time.Second},
	}
	size := func(path string) (int64, error) {
		if path == "/rec/one.m4a" {
			return 2_500_000, nil
		}
		return 0, errors.New("gone")
	}
	var out bytes.Buffer
	require.NoError(t, printSegments(&out, segs, size))

	s := out.String()
	assert.Contains(t, s, "2.5 MB")
	assert.Contains(t, s, "missing")
	assert.Contains(t, s, "45s")
}

func TestFormatProgress(t *testing.T) {
	p := transcribe.Progress{
		Status:            transcribe.StatusTranscribing,
		CurrentChunk:      2,
		TotalChunks:       5,
		SkippedChunks:     1,
		ProcessedDuration: 110 * time.Second,
		TotalDuration:     275 * time.Second,
	}
	s := formatProgress(p)
	assert.Contains(t, s, "transcribing")
	assert.Contains(t, s, "chunk 2/5")
	assert.Contains(t, s, "1m50s / 4m35s")
	assert.Contains(t, s, "40%")
	assert.Contains(t, s, "(1 skipped)")
}

func TestFinish(t *testing.T) {
	c := &cli{out: &bytes.Buffer{}}

	require.NoError(t, c.finish(transcribe.Progress{Status: transcribe.StatusCompleted, Text: "hello"}))
	assert.Equal(t, "hello\n", c.out.(*bytes.Buffer).String())

	assert.Error(t, c.finish(transcribe.Progress{Status: transcribe.StatusCancelled}))

	err := c.finish(transcribe.Progress{Status: transcribe.StatusFailed, Reason: "engine unavailable"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine unavailable")
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, wordCount(""))
	assert.Equal(t, 3, wordCount("  one two\nthree "))
}
