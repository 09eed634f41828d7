package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
	"github.com/Paranoid-AF/cmdbridge/generate"
	"github.com/Paranoid-AF/cmdbridge/redact"
)

// pong is written verbatim in reply to a "ping" message.
const pong = `{"status":"success","result":{"message":"pong"}}`

// receivedTextLimit bounds the echo of an unparseable message, in characters.
const receivedTextLimit = 50

// handlerFunc answers one request type.
type handlerFunc func(ctx context.Context, log *slog.Logger, params json.RawMessage) *cmdbridge.Response

// Server accepts editor connections on a TCP listener.
//
// Messages are not framed: each read of up to bufSize bytes is handled as one
// complete request and answered with one JSON document without a trailing
// delimiter. A request split across reads, or two requests coalesced into one
// read, is therefore misinterpreted; clients must send one request per write
// and wait for its response.
type Server struct {
	listener   net.Listener
	engine     *generate.Engine
	configPath string
	bufSize    int
	sem        *semaphore.Weighted // nil when connections are unlimited
	handlers   map[string]handlerFunc

	// configMu serializes configuration changes (configure_ollama and reloads).
	configMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer creates a server listening on addr. Configuration changes made
// through the protocol are persisted to configPath (skipped when empty).
func NewServer(addr string, engine *generate.Engine, configPath string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	cfg := engine.Config()
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = cmdbridge.DefaultConfig().BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		listener:   listener,
		engine:     engine,
		configPath: configPath,
		bufSize:    bufSize,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
	if cfg.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	s.handlers = map[string]handlerFunc{
		"process_user_request": s.handleProcess,
		"get_ollama_status":    s.handleStatus,
		"configure_ollama":     s.handleConfigure,
	}
	return s, nil
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until the server is closed. Accept failures such
// as running out of file descriptors are logged and retried with backoff; Serve
// only returns, with nil, after Shutdown or Close.
func (s *Server) Serve() error {
	var delay time.Duration
	for {
		if s.sem != nil {
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				return nil
			}
		}
		conn, err := s.listener.Accept()
		if err != nil {
			s.release()
			if s.isClosed() {
				return nil
			}
			delay = acceptBackoff(delay)
			slog.Warn("accept failed, retrying", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return nil
			}
			continue
		}
		delay = 0
		if !s.track(conn) {
			conn.Close()
			s.release()
			return nil
		}
		go s.handleConn(conn)
	}
}

// acceptBackoff doubles the previous delay from 5ms, capped at one second.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	return min(2*prev, time.Second)
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown stops accepting connections and waits for open ones to finish.
// When ctx expires first, the remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
	}

	s.cancel()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	<-done
	return ctx.Err()
}

// Close shuts the server down without waiting for open connections.
func (s *Server) Close() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Shutdown(ctx)
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.release()
	defer s.untrack(conn)
	defer conn.Close()

	log := slog.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())
	log.Info("client connected")

	buf := make([]byte, s.bufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			resp := s.handleMessage(s.ctx, log, buf[:n])
			if _, werr := conn.Write(resp); werr != nil {
				log.Warn("write failed", "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn("read failed", "error", err)
			}
			log.Info("client disconnected")
			return
		}
	}
}

// handleMessage turns one raw message into one encoded response.
func (s *Server) handleMessage(ctx context.Context, log *slog.Logger, raw []byte) []byte {
	text := string(raw)
	if strings.TrimSpace(text) == "ping" {
		log.Debug("ping")
		return []byte(pong)
	}

	log.Debug("request", "data", redact.Lazy(text))

	resp := s.dispatch(ctx, log, raw)
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("failed to marshal response", "error", err)
		data, _ = json.Marshal(&cmdbridge.Response{
			Status: cmdbridge.StatusError,
			Error:  "failed to encode response: " + err.Error(),
		})
	}

	log.Debug("response", "data", redact.Lazy(string(data)))
	return data
}

// dispatch decodes the envelope and routes it to the handler for its type.
// A panicking handler is converted into an error response.
func (s *Server) dispatch(ctx context.Context, log *slog.Logger, raw []byte) (resp *cmdbridge.Response) {
	var req cmdbridge.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Warn("invalid JSON", "error", err)
		return &cmdbridge.Response{
			Status:       cmdbridge.StatusError,
			Error:        "Invalid JSON format",
			ReceivedText: truncate(string(raw), receivedTextLimit),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("error processing command", "type", req.Type, "panic", r)
			resp = &cmdbridge.Response{
				Status:     cmdbridge.StatusError,
				Error:      fmt.Sprint(r),
				StackTrace: string(debug.Stack()),
			}
		}
	}()

	if req.Type == "" {
		return &cmdbridge.Response{
			Status: cmdbridge.StatusError,
			Error:  "Command type cannot be empty",
		}
	}

	log.Info("processing command", "type", req.Type)

	h, ok := s.handlers[req.Type]
	if !ok {
		return &cmdbridge.Response{
			Status: cmdbridge.StatusSuccess,
			Result: &cmdbridge.UnknownResult{
				Message:     fmt.Sprintf("Command %s was received but not implemented", req.Type),
				CommandType: req.Type,
				ParamsCount: paramsCount(req.Params),
			},
		}
	}
	return h(ctx, log, req.Params)
}

// paramsCount returns the number of entries in a params object or array.
func paramsCount(params json.RawMessage) int {
	var v any
	if len(params) == 0 || json.Unmarshal(params, &v) != nil {
		return 0
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t)
	case []any:
		return len(t)
	case string:
		return utf8.RuneCountInString(t)
	}
	return 0
}

// truncate keeps the first n characters of s, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
