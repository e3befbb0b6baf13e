// Package rpc implements the daemon's external transport: newline-
// delimited JSON-RPC requests read from stdin and responses written to
// stdout, dispatched to one handler per tool name (spec.md §6). Each
// handler owns validation and error formatting for its own tool; this
// file only owns framing and the dispatch table.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ctxkeeper/ctxkeeper/internal/errs"
)

// Request is one JSON-RPC-style call from the host process.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error, never both.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject mirrors errs.Kind so the host process can branch on a
// stable machine-readable category instead of parsing message text.
type ErrorObject struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Handler implements one tool. params is the raw JSON params object;
// implementations decode it themselves so each can define its own
// request shape.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server frames requests/responses over stdio and dispatches by method
// name. It serializes every call through one goroutine at a time to
// match the single-writer SQLite connection beneath it, except for
// long-poll watcher calls, which run concurrently so one blocked poll
// never stalls the rest of the session (spec.md §4.9, §7 concurrency).
type Server struct {
	handlers map[string]Handler
	// concurrent marks handlers (poll_watcher) allowed to run off the
	// main serialized loop.
	concurrent map[string]bool
	logger     *slog.Logger

	mu sync.Mutex
}

// NewServer constructs an empty Server; call Register for each tool.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handlers:   make(map[string]Handler),
		concurrent: make(map[string]bool),
		logger:     logger,
	}
}

// Register binds a tool name to its handler.
func (s *Server) Register(method string, h Handler) {
	s.handlers[method] = h
}

// RegisterConcurrent is like Register but marks the handler as safe to
// run without the server's serialization lock (used for poll_watcher).
func (s *Server) RegisterConcurrent(method string, h Handler) {
	s.Register(method, h)
	s.concurrent[method] = true
}

// Serve reads newline-delimited JSON requests from r and writes
// newline-delimited JSON responses to w until r is exhausted or ctx is
// canceled. Each request is handled in its own goroutine so long-poll
// calls don't block unrelated ones; writes to w are serialized.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var writeMu sync.Mutex
	var wg sync.WaitGroup

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		wg.Add(1)
		go func(line []byte) {
			defer wg.Done()
			resp := s.handleLine(ctx, line)
			data, err := json.Marshal(resp)
			if err != nil {
				s.logger.Error("marshal response", "error", err)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if _, err := w.Write(append(data, '\n')); err != nil {
				s.logger.Error("write response", "error", err)
			}
		}(line)
	}
	wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request stream: %w", err)
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Error: &ErrorObject{Kind: string(errs.InvalidArgument), Message: "malformed request: " + err.Error()}}
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		return Response{ID: req.ID, Error: &ErrorObject{Kind: string(errs.InvalidArgument), Message: "unknown method " + req.Method}}
	}

	if !s.concurrent[req.Method] {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: &ErrorObject{Kind: string(errs.KindOf(err)), Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: result}
}
