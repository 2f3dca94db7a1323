// Package db persists memos, their audio segments and transcription
// checkpoints in SQLite.
package db

import (
	"errors"
	"time"
)

var (
	ErrMemoNotFound    = errors.New("memo not found")
	ErrSegmentNotFound = errors.New("segment not found")
)

// Memo is one voice memo. Text holds the latest finished transcript.
type Memo struct {
	ID        string
	Title     string
	Text      string
	Locale    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
