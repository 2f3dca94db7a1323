package db

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
	CREATE TABLE IF NOT EXISTS memos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		locale TEXT NOT NULL,
		createdAt REAL NOT NULL,
		updatedAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		memoId TEXT NOT NULL REFERENCES memos(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		startSec REAL NOT NULL,
		durationSec REAL NOT NULL,
		createdAt REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS segments_memo ON segments(memoId, startSec);

	CREATE TABLE IF NOT EXISTS transcription_progress (
		memoId TEXT PRIMARY KEY REFERENCES memos(id) ON DELETE CASCADE,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		currentChunk INTEGER NOT NULL,
		totalChunks INTEGER NOT NULL,
		skippedChunks INTEGER NOT NULL DEFAULT 0,
		processedSec REAL NOT NULL,
		totalSec REAL NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		updatedAt REAL NOT NULL
	);
`

// migrate creates any missing tables.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
