package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jwulff/voicememo/internal/segment"
	"github.com/jwulff/voicememo/internal/transcribe"
)

// Store is the SQLite-backed memo library. It also serves as the engine's
// checkpoint store and transcript sink.
type Store struct {
	db *sql.DB
}

var (
	_ transcribe.ProgressStore    = (*Store)(nil)
	_ transcribe.TranscriptWriter = (*Store)(nil)
)

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, "voicememo", "voicememo.sqlite")
}

// Open opens (creating if needed) the database in WAL mode and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMemo inserts an empty memo.
func (s *Store) CreateMemo(ctx context.Context, title, locale string) (*Memo, error) {
	now := time.Now()
	m := &Memo{
		ID:        uuid.NewString(),
		Title:     title,
		Locale:    locale,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memos (id, title, text, locale, createdAt, updatedAt)
		VALUES (?, ?, '', ?, ?, ?)
	`, m.ID, m.Title, m.Locale, unixFromTime(now), unixFromTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert memo: %w", err)
	}
	return m, nil
}

// Memo returns one memo by id, or ErrMemoNotFound.
func (s *Store) Memo(ctx context.Context, id string) (*Memo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, text, locale, createdAt, updatedAt
		FROM memos
		WHERE id = ?
	`, id)

	m, err := scanMemo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrMemoNotFound, id)
		}
		return nil, fmt.Errorf("scan memo: %w", err)
	}
	return m, nil
}

// Memos returns every memo, newest first.
func (s *Store) Memos(ctx context.Context) ([]Memo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, text, locale, createdAt, updatedAt
		FROM memos
		ORDER BY createdAt DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query memos: %w", err)
	}
	defer rows.Close()

	var memos []Memo
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memo: %w", err)
		}
		memos = append(memos, *m)
	}
	return memos, rows.Err()
}

// DeleteMemo removes a memo together with its segments and checkpoint.
func (s *Store) DeleteMemo(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM segments WHERE memoId = ?`,
		`DELETE FROM transcription_progress WHERE memoId = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete memo children: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM memos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrMemoNotFound, id)
	}
	return tx.Commit()
}

// UpdateText stores the finished transcript on the memo.
func (s *Store) UpdateText(ctx context.Context, memoID, text string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memos SET text = ?, updatedAt = ? WHERE id = ?
	`, text, unixFromTime(time.Now()), memoID)
	if err != nil {
		return fmt.Errorf("update memo text: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrMemoNotFound, memoID)
	}
	return nil
}

// AppendSegment attaches a recorded span to its memo.
func (s *Store) AppendSegment(ctx context.Context, seg segment.Segment) error {
	if _, err := s.Memo(ctx, seg.MemoID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (id, memoId, path, startSec, durationSec, createdAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, seg.ID, seg.MemoID, seg.Path, seconds(seg.Start), seconds(seg.Duration), unixFromTime(seg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// Segments returns a memo's segments ordered by start time, then creation.
func (s *Store) Segments(ctx context.Context, memoID string) ([]segment.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memoId, path, startSec, durationSec, createdAt
		FROM segments
		WHERE memoId = ?
		ORDER BY startSec ASC, createdAt ASC
	`, memoID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segs []segment.Segment
	for rows.Next() {
		var seg segment.Segment
		var start, dur, createdAt float64
		if err := rows.Scan(&seg.ID, &seg.MemoID, &seg.Path, &start, &dur, &createdAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Start = durationFromSeconds(start)
		seg.Duration = durationFromSeconds(dur)
		seg.CreatedAt = timeFromUnix(createdAt)
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// RelocateSegment points a segment at a new file.
func (s *Store) RelocateSegment(ctx context.Context, id, path string) error {
	if path == "" {
		return segment.ErrEmptyPath
	}
	res, err := s.db.ExecContext(ctx, `UPDATE segments SET path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("relocate segment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	return nil
}

// RemoveSegment deletes one segment row. The audio file is left alone.
func (s *Store) RemoveSegment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	return nil
}

// SaveProgress upserts the checkpoint for p.MemoID.
func (s *Store) SaveProgress(ctx context.Context, p transcribe.Progress) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcription_progress (memoId, source, status, reason, currentChunk, totalChunks,
			skippedChunks, processedSec, totalSec, text, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memoId) DO UPDATE SET
			source = excluded.source,
			status = excluded.status,
			reason = excluded.reason,
			currentChunk = excluded.currentChunk,
			totalChunks = excluded.totalChunks,
			skippedChunks = excluded.skippedChunks,
			processedSec = excluded.processedSec,
			totalSec = excluded.totalSec,
			text = excluded.text,
			updatedAt = excluded.updatedAt
	`, p.MemoID, p.Source, p.Status.String(), p.Reason, p.CurrentChunk, p.TotalChunks,
		p.SkippedChunks, seconds(p.ProcessedDuration), seconds(p.TotalDuration), p.Text, unixFromTime(updated))
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// LoadProgress returns the checkpoint for a memo, or nil if there is none.
func (s *Store) LoadProgress(ctx context.Context, memoID string) (*transcribe.Progress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT memoId, source, status, reason, currentChunk, totalChunks,
			skippedChunks, processedSec, totalSec, text, updatedAt
		FROM transcription_progress
		WHERE memoId = ?
	`, memoID)

	var p transcribe.Progress
	var status string
	var processed, total, updatedAt float64
	if err := row.Scan(&p.MemoID, &p.Source, &status, &p.Reason, &p.CurrentChunk, &p.TotalChunks,
		&p.SkippedChunks, &processed, &total, &p.Text, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan progress: %w", err)
	}

	st, err := transcribe.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan progress: %w", err)
	}
	p.Status = st
	p.ProcessedDuration = durationFromSeconds(processed)
	p.TotalDuration = durationFromSeconds(total)
	p.UpdatedAt = timeFromUnix(updatedAt)
	return &p, nil
}

// ClearProgress drops the checkpoint for a memo. Clearing a missing one is a no-op.
func (s *Store) ClearProgress(ctx context.Context, memoID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcription_progress WHERE memoId = ?`, memoID); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemo(row scanner) (*Memo, error) {
	var m Memo
	var createdAt, updatedAt float64
	if err := row.Scan(&m.ID, &m.Title, &m.Text, &m.Locale, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = timeFromUnix(createdAt)
	m.UpdatedAt = timeFromUnix(updatedAt)
	return &m, nil
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
