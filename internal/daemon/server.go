package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/jwulff/voicememo/internal/db"
	"github.com/jwulff/voicememo/internal/logging"
	"github.com/jwulff/voicememo/internal/segment"
	"github.com/jwulff/voicememo/internal/transcribe"
)

const eventBuffer = 64

var (
	ErrMissingMemo    = errors.New("memoId is required")
	ErrConcatBusy     = errors.New("a concatenation is already running")
	ErrReservedOutput = errors.New("output name is reserved for transcription sources")
	ErrAlreadyRunning = errors.New("daemon already running")
)

// Library is the memo data the server reads.
type Library interface {
	Memo(ctx context.Context, id string) (*db.Memo, error)
	Segments(ctx context.Context, memoID string) ([]segment.Segment, error)
}

// Concatenator merges a memo's segments into one file.
type Concatenator interface {
	Concatenate(ctx context.Context, segments []segment.Segment, outputName string) (string, error)
}

// ConcatFactory builds the server's concatenator around its progress hook.
type ConcatFactory func(onProgress func(float64)) Concatenator

// Server hosts one transcription engine and one concatenator and serves them
// to NDJSON clients.
type Server struct {
	engine *transcribe.Engine
	lib    Library
	concat Concatenator
	fs     afero.Fs
	logger *log.Logger

	mu            sync.Mutex
	runCtx        context.Context
	concatenating bool
	concatMemo    string
	concatFrac    float64
	prepCancel    context.CancelFunc // non-nil while a transcribe is merging segments
	subs          map[*subscriber]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithFs sets the filesystem merged sources are removed from.
func WithFs(fs afero.Fs) ServerOption {
	return func(s *Server) { s.fs = fs }
}

// NewServer wires an engine, a memo library and a concatenator together.
func NewServer(engine *transcribe.Engine, lib Library, newConcat ConcatFactory, opts ...ServerOption) *Server {
	s := &Server{
		engine: engine,
		lib:    lib,
		fs:     afero.NewOsFs(),
		logger: logging.Discard(),
		runCtx: context.Background(),
		subs:   make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.concat = newConcat(s.concatProgress)
	return s
}

// ListenAndServe listens on a Unix socket at path until ctx ends. A stale
// socket file is replaced; a live one means another daemon owns it.
func (s *Server) ListenAndServe(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return fmt.Errorf("%w at %s", ErrAlreadyRunning, path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(path)

	s.logger.Info("listening", "socket", path)
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends. Runs started through the
// server are cancelled when it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	progress, unsubscribe := s.engine.Subscribe()
	defer unsubscribe()
	go s.forward(progress)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w := &connWriter{conn: conn}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var sub *subscriber
	defer func() {
		if sub != nil {
			s.unsubscribe(sub)
		}
	}()

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			if w.write(Response{Error: "invalid command: " + err.Error()}) != nil {
				return
			}
			continue
		}

		if cmd.Cmd == CmdSubscribe {
			if err := w.write(Response{OK: true}); err != nil {
				return
			}
			if sub == nil {
				sub = s.subscribe(w, cmd.Events)
			}
			continue
		}

		if err := w.write(s.dispatch(ctx, cmd)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command) Response {
	s.logger.Debug("command", "cmd", cmd.Cmd, "memo", cmd.MemoID)

	switch cmd.Cmd {
	case CmdTranscribe:
		return s.transcribe(ctx, cmd)
	case CmdPause:
		return s.changed(s.engine.Pause())
	case CmdResume:
		return s.changed(s.engine.Resume())
	case CmdCancel:
		return s.changed(s.cancel())
	case CmdReset:
		if err := s.engine.Reset(); err != nil {
			return errorResponse(err)
		}
		return s.status()
	case CmdStatus:
		return s.status()
	case CmdConcat:
		return s.concatenate(ctx, cmd)
	case CmdSegments:
		return s.segments(ctx, cmd)
	default:
		return Response{Error: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}
}

// transcribe starts a run for a memo. Without a path the memo's segments are
// merged first, in the background. A finished previous run is reset.
func (s *Server) transcribe(ctx context.Context, cmd Command) Response {
	if cmd.MemoID == "" {
		return errorResponse(ErrMissingMemo)
	}
	memo, err := s.lib.Memo(ctx, cmd.MemoID)
	if err != nil {
		return errorResponse(err)
	}
	locale := cmd.Locale
	if locale == "" {
		locale = memo.Locale
	}

	s.mu.Lock()
	if s.prepCancel != nil || s.engine.Progress().Status.Active() {
		s.mu.Unlock()
		return errorResponse(transcribe.ErrAlreadyTranscribing)
	}
	if s.engine.Progress().Status.Terminal() {
		if err := s.engine.Reset(); err != nil {
			s.mu.Unlock()
			return errorResponse(err)
		}
	}

	if cmd.Path != "" {
		err := s.engine.Start(s.runCtx, cmd.Path, memo.ID, transcribe.RunLocale(locale))
		s.mu.Unlock()
		if err != nil {
			return errorResponse(err)
		}
		return s.status()
	}

	if s.concatenating {
		s.mu.Unlock()
		return errorResponse(ErrConcatBusy)
	}
	prepCtx, cancel := context.WithCancel(s.runCtx)
	s.prepCancel = cancel
	s.beginConcatLocked(memo.ID)
	s.mu.Unlock()

	go s.prepare(prepCtx, cancel, memo.ID, locale)
	return s.status()
}

const sourcePrefix = "source-"

// SourceName is the merge output a transcription of memoID runs from. It is
// stable across restarts so a checkpoint can be resumed, and it never
// collides with a concat output.
func SourceName(memoID string) string {
	return sourcePrefix + memoID
}

// prepare merges the memo's segments and hands the result to the engine.
func (s *Server) prepare(ctx context.Context, cancel context.CancelFunc, memoID, locale string) {
	defer cancel()
	logger := s.logger.With("memo", memoID)

	source, err := s.merge(ctx, memoID, SourceName(memoID))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepCancel = nil
	s.concatenating = false
	if ctx.Err() != nil {
		err = transcribe.ErrCancelled
		s.removeSource(source)
	}
	if err == nil {
		err = s.engine.Start(s.runCtx, source, memoID, transcribe.RunLocale(locale))
	}
	if err != nil {
		logger.Error("prepare transcription", "err", err)
		s.broadcastLocked(Event{Event: EventError, MemoID: memoID, Message: err.Error()})
		return
	}
	go s.removeWhenDone(source)
}

// removeWhenDone deletes a merged source once the run using it has ended.
// The merge is repeatable, so a later resume regenerates the same file.
func (s *Server) removeWhenDone(source string) {
	p, _ := s.engine.Wait(s.runCtx)
	if p.Source != "" && p.Source != source {
		return
	}
	s.removeSource(source)
}

func (s *Server) removeSource(path string) {
	if path == "" {
		return
	}
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove merged source", "path", path, "err", err)
	}
}

func (s *Server) merge(ctx context.Context, memoID, outputName string) (string, error) {
	segs, err := s.lib.Segments(ctx, memoID)
	if err != nil {
		return "", err
	}
	return s.concat.Concatenate(ctx, segs, outputName)
}

// concatenate merges a memo's segments and replies with the output path.
func (s *Server) concatenate(ctx context.Context, cmd Command) Response {
	if cmd.MemoID == "" {
		return errorResponse(ErrMissingMemo)
	}
	if _, err := s.lib.Memo(ctx, cmd.MemoID); err != nil {
		return errorResponse(err)
	}

	s.mu.Lock()
	if s.concatenating {
		s.mu.Unlock()
		return errorResponse(ErrConcatBusy)
	}
	s.beginConcatLocked(cmd.MemoID)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.concatenating = false
		s.mu.Unlock()
	}()

	name := cmd.Output
	if name == "" {
		name = cmd.MemoID
	}
	if strings.HasPrefix(name, sourcePrefix) {
		return errorResponse(fmt.Errorf("%w: %q", ErrReservedOutput, name))
	}
	out, err := s.merge(ctx, cmd.MemoID, name)
	if err != nil {
		s.logger.Error("concatenate", "memo", cmd.MemoID, "err", err)
		return errorResponse(err)
	}
	return Response{OK: true, Path: out}
}

func (s *Server) segments(ctx context.Context, cmd Command) Response {
	if cmd.MemoID == "" {
		return errorResponse(ErrMissingMemo)
	}
	if _, err := s.lib.Memo(ctx, cmd.MemoID); err != nil {
		return errorResponse(err)
	}
	segs, err := s.lib.Segments(ctx, cmd.MemoID)
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Segments: segmentInfos(segs)}
}

// cancel aborts a pending merge or the engine run.
func (s *Server) cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepCancel != nil {
		s.prepCancel()
		return true
	}
	return s.engine.Cancel()
}

func (s *Server) status() Response {
	p := s.engine.Progress()

	s.mu.Lock()
	preparing := s.prepCancel != nil
	concatenating, frac := s.concatenating, s.concatFrac
	s.mu.Unlock()

	status := p.Status
	if preparing && status == transcribe.StatusIdle {
		status = transcribe.StatusPreparing
	}
	return Response{
		OK:             true,
		Status:         status.String(),
		Progress:       &p,
		Concatenating:  BoolPtr(concatenating),
		ConcatProgress: FloatPtr(frac),
	}
}

func (s *Server) changed(ok bool) Response {
	resp := s.status()
	resp.Changed = BoolPtr(ok)
	return resp
}

func (s *Server) beginConcatLocked(memoID string) {
	s.concatenating = true
	s.concatMemo = memoID
	s.concatFrac = 0
}

func (s *Server) concatProgress(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concatFrac = f
	s.broadcastLocked(Event{Event: EventConcat, MemoID: s.concatMemo, Fraction: FloatPtr(f)})
}

// forward relays engine snapshots to subscribers until the channel closes.
func (s *Server) forward(progress <-chan transcribe.Progress) {
	for p := range progress {
		s.mu.Lock()
		s.broadcastLocked(Event{Event: EventProgress, MemoID: p.MemoID, Progress: &p})
		s.mu.Unlock()
	}
}

func errorResponse(err error) Response {
	return Response{Error: err.Error()}
}

// subscriber receives events for one connection. Events that do not fit in
// the buffer are dropped.
type subscriber struct {
	w      *connWriter
	filter map[string]bool
	ch     chan Event
}

func (sub *subscriber) wants(event string) bool {
	return len(sub.filter) == 0 || sub.filter[event]
}

func (s *Server) subscribe(w *connWriter, events []string) *subscriber {
	sub := &subscriber{w: w, ch: make(chan Event, eventBuffer)}
	if len(events) > 0 {
		sub.filter = make(map[string]bool, len(events))
		for _, e := range events {
			sub.filter[e] = true
		}
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			if err := sub.w.write(ev); err != nil {
				s.logger.Debug("event write failed", "err", err)
			}
		}
	}()
	return sub
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

func (s *Server) broadcastLocked(ev Event) {
	for sub := range s.subs {
		if !sub.wants(ev.Event) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			s.logger.Debug("subscriber behind, dropping event", "event", ev.Event)
		}
	}
}

// connWriter serializes NDJSON lines onto one connection.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
