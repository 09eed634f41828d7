// Package generate turns natural-language editor requests into commands by
// querying the completion provider and extracting calls from its reply.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jellydator/ttlcache/v3"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
	"github.com/Paranoid-AF/cmdbridge/extract"
	"github.com/Paranoid-AF/cmdbridge/redact"
)

// Engine owns the provider client and configuration shared by all
// connections. Readers never block: the config and its client are published
// together as one snapshot, and only writers take the mutex.
type Engine struct {
	mu        sync.Mutex
	state     atomic.Pointer[engineState]
	ready     *ttlcache.Cache[string, bool]
	catalog   *Catalog
	extractor *extract.Extractor
}

// engineState pairs a configuration with the client built from it. client is
// nil until first use.
type engineState struct {
	cfg    *cmdbridge.Config
	client *Client
}

// NewEngine creates an engine for cfg. A nil catalog selects the embedded
// default. The provider client is created on first use.
func NewEngine(cfg *cmdbridge.Config, catalog *Catalog) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	ready := ttlcache.New[string, bool](
		ttlcache.WithDisableTouchOnHit[string, bool](),
	)
	go ready.Start()

	e := &Engine{
		ready:     ready,
		catalog:   catalog,
		extractor: extract.Default(),
	}
	e.state.Store(&engineState{cfg: cfg})
	return e
}

// Close stops the readiness cache expiration loop.
func (e *Engine) Close() {
	e.ready.Stop()
}

// Config returns the configuration currently in effect.
func (e *Engine) Config() *cmdbridge.Config {
	return e.state.Load().cfg
}

// Client returns the current provider client, creating it if needed.
func (e *Engine) Client() *Client {
	return e.current().client
}

// current returns a snapshot whose client was built from its config.
func (e *Engine) current() *engineState {
	if st := e.state.Load(); st.client != nil {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state.Load()
	if st.client != nil {
		return st
	}
	st = &engineState{cfg: st.cfg, client: NewClient(st.cfg)}
	e.state.Store(st)
	return st
}

// Reconfigure installs cfg and a fresh client built from it. In-flight
// requests keep using the snapshot they already loaded.
func (e *Engine) Reconfigure(cfg *cmdbridge.Config) *Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := NewClient(cfg)
	e.state.Store(&engineState{cfg: cfg, client: c})
	return c
}

// Available checks the provider now, bypassing the readiness cache.
func (e *Engine) Available(ctx context.Context) bool {
	return e.check(ctx, e.current())
}

// Ready reports whether the provider can serve requests, trusting a recent
// successful check for the configured ready_ttl.
func (e *Engine) Ready(ctx context.Context) bool {
	return e.readyWith(ctx, e.current())
}

func (e *Engine) readyWith(ctx context.Context, st *engineState) bool {
	if item := e.ready.Get(readyKey(st.client)); item != nil && item.Value() {
		return true
	}
	return e.check(ctx, st)
}

func (e *Engine) check(ctx context.Context, st *engineState) bool {
	ok := st.client.CheckAvailability(ctx)
	e.remember(st, ok)
	return ok
}

func (e *Engine) remember(st *engineState, ok bool) {
	key := readyKey(st.client)
	ttl := st.cfg.ReadyFor()
	if !ok || ttl <= 0 {
		e.ready.Delete(key)
		return
	}
	e.ready.Set(key, true, ttl)
}

func readyKey(c *Client) string {
	return c.BaseURL() + "|" + c.Model()
}

// Status reports the provider connection state for "get_ollama_status".
func (e *Engine) Status(ctx context.Context) *cmdbridge.StatusResult {
	st := e.current()
	c := st.client
	status := "disconnected"
	if e.check(ctx, st) {
		status = "connected"
	}
	return &cmdbridge.StatusResult{
		Status: status,
		Model:  c.Model(),
		Host:   c.Host(),
		Port:   c.Port(),
	}
}

// SystemPrompt combines the configured system prompt with the rendered
// function catalog.
func (e *Engine) SystemPrompt(cfg *cmdbridge.Config) (string, error) {
	functions, err := e.catalog.Render()
	if err != nil {
		return "", err
	}
	return cfg.OllamaSystemPrompt + "\n\nAvailable functions:\n" + functions, nil
}

// Process answers a "process_user_request": it queries the provider with
// prompt and returns the commands extracted from the reply. Commands are not
// executed here.
func (e *Engine) Process(ctx context.Context, prompt string) *cmdbridge.Response {
	if strings.TrimSpace(prompt) == "" {
		return cmdbridge.Failure("Prompt cannot be empty", "Please provide a prompt to process.")
	}

	st := e.current()
	cfg, client := st.cfg, st.client
	if !e.readyWith(ctx, st) {
		return cmdbridge.Failure("Could not connect to Ollama",
			"Sorry, I couldn't connect to the Ollama service. Please check that Ollama is running.")
	}

	system, err := e.SystemPrompt(cfg)
	if err != nil {
		slog.Error("error processing request", "error", err)
		return cmdbridge.Failure("Error processing request: "+err.Error(),
			"Sorry, there was an error processing your request.")
	}

	slog.Debug("prompt", "user", redact.Lazy(prompt))

	text, meta := client.Complete(ctx, prompt, system, cfg.OllamaTemperature)
	if text == "" {
		if msg, ok := meta["error"]; ok {
			slog.Warn("empty response from ollama", "error", msg)
		}
		return cmdbridge.Failure("Received empty response from Ollama", "")
	}

	slog.Debug("model response", "text", redact.Lazy(text))

	commands := e.extractor.Extract(text)
	slog.Info("processed request", "commands", len(commands))

	return &cmdbridge.Response{
		Status: cmdbridge.StatusSuccess,
		Result: &cmdbridge.ProcessResult{
			Status:           cmdbridge.StatusSuccess,
			Message:          fmt.Sprintf("Processed request with %d commands", len(commands)),
			LLMResponse:      text,
			CommandsExecuted: 0,
			Commands:         commands,
			Results:          []any{},
		},
	}
}
