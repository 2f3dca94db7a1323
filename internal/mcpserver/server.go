// Package mcpserver exposes the memo library to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jwulff/voicememo/internal/db"
	"github.com/jwulff/voicememo/internal/segment"
	"github.com/jwulff/voicememo/internal/transcribe"
)

// Library is the read side of the memo store.
type Library interface {
	Memos(ctx context.Context) ([]db.Memo, error)
	Memo(ctx context.Context, id string) (*db.Memo, error)
	Segments(ctx context.Context, memoID string) ([]segment.Segment, error)
	LoadProgress(ctx context.Context, memoID string) (*transcribe.Progress, error)
}

type memoSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Locale        string    `json:"locale"`
	CreatedAt     time.Time `json:"createdAt"`
	HasTranscript bool      `json:"hasTranscript"`
}

type segmentView struct {
	ID              string  `json:"id"`
	Path            string  `json:"path"`
	StartSeconds    float64 `json:"startSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
}

type progressView struct {
	Status           string  `json:"status"`
	Reason           string  `json:"reason,omitempty"`
	CurrentChunk     int     `json:"currentChunk"`
	TotalChunks      int     `json:"totalChunks"`
	SkippedChunks    int     `json:"skippedChunks"`
	ProcessedSeconds float64 `json:"processedSeconds"`
	TotalSeconds     float64 `json:"totalSeconds"`
	Fraction         float64 `json:"fraction"`
	Text             string  `json:"text"`
}

type handlers struct {
	lib Library
}

// New builds the MCP server with the memo tools registered.
func New(lib Library, version string) *server.MCPServer {
	s := server.NewMCPServer("voicememo", version, server.WithToolCapabilities(false))
	h := handlers{lib: lib}

	s.AddTool(mcp.NewTool("list_memos",
		mcp.WithDescription("List all voice memos, newest first."),
	), h.listMemos)

	s.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Return the finished transcript of a memo."),
		mcp.WithString("memo_id", mcp.Required(), mcp.Description("Memo identifier")),
	), h.getTranscript)

	s.AddTool(mcp.NewTool("list_segments",
		mcp.WithDescription("List the recorded segments of a memo in timeline order."),
		mcp.WithString("memo_id", mcp.Required(), mcp.Description("Memo identifier")),
	), h.listSegments)

	s.AddTool(mcp.NewTool("get_transcription_progress",
		mcp.WithDescription("Return the saved transcription checkpoint of a memo, including partial text."),
		mcp.WithString("memo_id", mcp.Required(), mcp.Description("Memo identifier")),
	), h.getProgress)

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(lib Library, version string) error {
	return server.ServeStdio(New(lib, version))
}

func (h handlers) listMemos(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	memos, err := h.lib.Memos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list memos: %w", err)
	}
	out := make([]memoSummary, 0, len(memos))
	for _, m := range memos {
		out = append(out, memoSummary{
			ID:            m.ID,
			Title:         m.Title,
			Locale:        m.Locale,
			CreatedAt:     m.CreatedAt,
			HasTranscript: m.Text != "",
		})
	}
	return jsonResult(out)
}

func (h handlers) getTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	memo, res := h.memo(ctx, req)
	if res != nil {
		return res, nil
	}
	if memo.Text == "" {
		return mcp.NewToolResultError("memo " + memo.ID + " has no transcript yet"), nil
	}
	return mcp.NewToolResultText(memo.Text), nil
}

func (h handlers) listSegments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	memo, res := h.memo(ctx, req)
	if res != nil {
		return res, nil
	}
	segs, err := h.lib.Segments(ctx, memo.ID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	out := make([]segmentView, 0, len(segs))
	for _, s := range segs {
		out = append(out, segmentView{
			ID:              s.ID,
			Path:            s.Path,
			StartSeconds:    s.Start.Seconds(),
			DurationSeconds: s.Duration.Seconds(),
		})
	}
	return jsonResult(out)
}

func (h handlers) getProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	memo, res := h.memo(ctx, req)
	if res != nil {
		return res, nil
	}
	p, err := h.lib.LoadProgress(ctx, memo.ID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if p == nil {
		return mcp.NewToolResultText("no transcription checkpoint for memo " + memo.ID), nil
	}
	return jsonResult(progressView{
		Status:           p.Status.String(),
		Reason:           p.Reason,
		CurrentChunk:     p.CurrentChunk,
		TotalChunks:      p.TotalChunks,
		SkippedChunks:    p.SkippedChunks,
		ProcessedSeconds: p.ProcessedDuration.Seconds(),
		TotalSeconds:     p.TotalDuration.Seconds(),
		Fraction:         p.Fraction(),
		Text:             p.Text,
	})
}

// memo resolves the memo_id argument. A non-nil result is a tool error to
// hand back to the client.
func (h handlers) memo(ctx context.Context, req mcp.CallToolRequest) (*db.Memo, *mcp.CallToolResult) {
	id, err := req.RequireString("memo_id")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	memo, err := h.lib.Memo(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrMemoNotFound) {
			return nil, mcp.NewToolResultError(err.Error())
		}
		return nil, mcp.NewToolResultError("load memo: " + err.Error())
	}
	return memo, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
