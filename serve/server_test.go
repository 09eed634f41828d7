package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
	"github.com/Paranoid-AF/cmdbridge/generate"
)

const createCubeReply = "Sure.\n```json\n{\"function\": \"create_object\", \"arguments\": {\"name\": \"Cube\", \"type\": \"CUBE\"}}\n```"

// newFakeOllama serves /api/tags (advertising llama3) and /api/generate
// (answering with reply).
func newFakeOllama(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"response": reply, "done": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// testConfig returns a default config pointing at the provider at rawURL.
func testConfig(t *testing.T, rawURL string) *cmdbridge.Config {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	cfg := cmdbridge.DefaultConfig()
	cfg.OllamaHost = host
	cfg.OllamaPort = port
	cfg.OllamaTimeout = 5
	return cfg
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// newTestServer starts a server on a loopback port. The optional setup
// functions run before the server starts accepting.
func newTestServer(t *testing.T, cfg *cmdbridge.Config, setup ...func(*Server)) *Server {
	t.Helper()
	engine := generate.NewEngine(cfg, nil)
	t.Cleanup(engine.Close)
	srv, err := NewServer("127.0.0.1:0", engine, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, fn := range setup {
		fn(srv)
	}
	t.Cleanup(srv.Close)
	go srv.Serve()
	return srv
}

type testClient struct {
	conn net.Conn
	dec  *json.Decoder
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, dec: json.NewDecoder(conn)}
}

// sendRaw writes one message and decodes the single response.
func (c *testClient) sendRaw(t *testing.T, msg string) json.RawMessage {
	t.Helper()
	c.conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write([]byte(msg)); err != nil {
		t.Fatal(err)
	}
	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return raw
}

func (c *testClient) send(t *testing.T, msg string) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(c.sendRaw(t, msg), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func (c *testClient) call(t *testing.T, typ string, params any) map[string]any {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": typ, "params": params})
	if err != nil {
		t.Fatal(err)
	}
	return c.send(t, string(data))
}

func result(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	r, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("response has no result object: %v", resp)
	}
	return r
}

func TestPing(t *testing.T) {
	srv := newTestServer(t, cmdbridge.DefaultConfig())
	c := dial(t, srv)

	for _, msg := range []string{"ping", "ping\n", "  ping \r\n"} {
		if got := string(c.sendRaw(t, msg)); got != pong {
			t.Errorf("ping %q: got %s, want %s", msg, got, pong)
		}
	}
}

func TestInvalidJSONKeepsConnection(t *testing.T) {
	srv := newTestServer(t, cmdbridge.DefaultConfig())
	c := dial(t, srv)

	resp := c.send(t, "{not json")
	if resp["status"] != "error" || resp["error"] != "Invalid JSON format" {
		t.Errorf("unexpected response: %v", resp)
	}
	if resp["receivedText"] != "{not json" {
		t.Errorf("receivedText = %v", resp["receivedText"])
	}

	resp = c.send(t, `{"type":"spawn_dragon"}`)
	if resp["status"] != "success" {
		t.Errorf("connection unusable after invalid JSON: %v", resp)
	}
}

func TestInvalidJSONTruncated(t *testing.T) {
	srv := newTestServer(t, cmdbridge.DefaultConfig())
	c := dial(t, srv)

	resp := c.send(t, strings.Repeat("x", 60))
	want := strings.Repeat("x", 50) + "..."
	if resp["receivedText"] != want {
		t.Errorf("receivedText = %v, want %q", resp["receivedText"], want)
	}
}

func TestUnknownType(t *testing.T) {
	srv := newTestServer(t, cmdbridge.DefaultConfig())
	c := dial(t, srv)

	resp := c.call(t, "spawn_dragon", map[string]any{"a": 1, "b": 2})
	if resp["status"] != "success" {
		t.Fatalf("status = %v", resp["status"])
	}
	r := result(t, resp)
	if r["message"] != "Command spawn_dragon was received but not implemented" {
		t.Errorf("message = %v", r["message"])
	}
	if r["commandType"] != "spawn_dragon" {
		t.Errorf("commandType = %v", r["commandType"])
	}
	if r["paramsCount"] != float64(2) {
		t.Errorf("paramsCount = %v", r["paramsCount"])
	}
}

func TestEmptyType(t *testing.T) {
	srv := newTestServer(t, cmdbridge.DefaultConfig())
	c := dial(t, srv)

	for _, msg := range []string{`{"params":{}}`, `{"type":""}`} {
		resp := c.send(t, msg)
		if resp["status"] != "error" || resp["error"] != "Command type cannot be empty" {
			t.Errorf("%s: unexpected response %v", msg, resp)
		}
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	srv := newTestServer(t, cmdbridge.DefaultConfig(), func(s *Server) {
		s.handlers["explode"] = func(context.Context, *slog.Logger, json.RawMessage) *cmdbridge.Response {
			panic("boom")
		}
	})
	c := dial(t, srv)

	resp := c.call(t, "explode", nil)
	if resp["status"] != "error" || resp["error"] != "boom" {
		t.Errorf("unexpected response: %v", resp)
	}
	if trace, _ := resp["stackTrace"].(string); trace == "" {
		t.Error("expected a stack trace")
	}

	if got := string(c.sendRaw(t, "ping")); got != pong {
		t.Errorf("connection unusable after panic: %s", got)
	}
}

func TestConcurrentConnections(t *testing.T) {
	ollama := newFakeOllama(t, createCubeReply)
	srv := newTestServer(t, testConfig(t, ollama.URL))

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			conn, err := net.Dial("tcp", srv.Addr().String())
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(10 * time.Second))
			conn.Write([]byte(`{"type":"process_user_request","params":{"prompt":"add a cube"}}`))
			var resp struct {
				Status string `json:"status"`
				Result struct {
					Commands []cmdbridge.Command `json:"commands"`
				} `json:"result"`
			}
			if err := json.NewDecoder(conn).Decode(&resp); err != nil {
				errs <- err
				return
			}
			if resp.Status != "success" || len(resp.Result.Commands) != 1 {
				errs <- errors.New("unexpected response status " + resp.Status)
				return
			}
			errs <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

func TestConnectionLimit(t *testing.T) {
	cfg := cmdbridge.DefaultConfig()
	cfg.MaxConnections = 1
	srv := newTestServer(t, cfg)

	first := dial(t, srv)
	if got := string(first.sendRaw(t, "ping")); got != pong {
		t.Fatalf("first ping: %s", got)
	}

	second := dial(t, srv)
	second.conn.Write([]byte("ping"))
	second.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	if _, err := second.conn.Read(buf); err == nil {
		t.Fatal("second connection served while the first is open")
	} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("expected timeout, got %v", err)
	}

	first.conn.Close()
	second.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := second.conn.Read(buf)
	if err != nil {
		t.Fatalf("second connection not served after the first closed: %v", err)
	}
	if string(buf[:n]) != pong {
		t.Errorf("second ping: %s", buf[:n])
	}
}

func TestShutdownIdle(t *testing.T) {
	srv := newTestServer(t, cmdbridge.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if _, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestShutdownClosesStragglers(t *testing.T) {
	srv := newTestServer(t, cmdbridge.DefaultConfig())
	c := dial(t, srv)
	if got := string(c.sendRaw(t, "ping")); got != pong {
		t.Fatalf("ping: %s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() = %v, want deadline exceeded", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.conn.Read(make([]byte, 8))
	var ne net.Error
	if err == nil || errors.As(err, &ne) && ne.Timeout() {
		t.Error("open connection was not closed by shutdown")
	}
}

// failingListener fails the first n calls to Accept with EMFILE.
type failingListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *failingListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
	}
	return l.Listener.Accept()
}

func TestServeSurvivesAcceptErrors(t *testing.T) {
	engine := generate.NewEngine(cmdbridge.DefaultConfig(), nil)
	t.Cleanup(engine.Close)
	srv, err := NewServer("127.0.0.1:0", engine, "")
	if err != nil {
		t.Fatal(err)
	}
	fl := &failingListener{Listener: srv.listener}
	fl.failures.Store(3)
	srv.listener = fl

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	t.Cleanup(srv.Close)

	c := dial(t, srv)
	if got := string(c.sendRaw(t, "ping")); got != pong {
		t.Errorf("ping after accept errors: %s", got)
	}
	select {
	case err := <-done:
		t.Fatalf("Serve returned after transient accept errors: %v", err)
	default:
	}

	srv.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v after Close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestAcceptBackoff(t *testing.T) {
	var d time.Duration
	var got []time.Duration
	for i := 0; i < 10; i++ {
		d = acceptBackoff(d)
		got = append(got, d)
	}
	if got[0] != 5*time.Millisecond || got[1] != 10*time.Millisecond {
		t.Errorf("backoff starts %v, %v", got[0], got[1])
	}
	if got[len(got)-1] != time.Second {
		t.Errorf("backoff not capped at 1s: %v", got[len(got)-1])
	}
}

func TestServeReturnsNilAfterClose(t *testing.T) {
	engine := generate.NewEngine(cmdbridge.DefaultConfig(), nil)
	defer engine.Close()
	srv, err := NewServer("127.0.0.1:0", engine, "")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	srv.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestParamsCount(t *testing.T) {
	tests := []struct {
		params string
		want   int
	}{
		{"", 0},
		{"null", 0},
		{`{}`, 0},
		{`{"a":1,"b":2,"c":3}`, 3},
		{`[1,2]`, 2},
		{`"abc"`, 3},
		{`42`, 0},
	}
	for _, tt := range tests {
		if got := paramsCount(json.RawMessage(tt.params)); got != tt.want {
			t.Errorf("paramsCount(%s) = %d, want %d", tt.params, got, tt.want)
		}
	}
}

func TestTruncateCountsCharacters(t *testing.T) {
	s := strings.Repeat("é", 60)
	got := truncate(s, 50)
	if got != strings.Repeat("é", 50)+"..." {
		t.Errorf("truncate split a character or miscounted: %q", got)
	}
	if truncate("short", 50) != "short" {
		t.Error("short text should be unchanged")
	}
}

func TestMain(m *testing.M) {
	logLevel.Set(slog.LevelError)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	os.Exit(m.Run())
}
