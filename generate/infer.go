package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
)

// ClientError represents a failed call to the completion provider.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for logging.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeStatus
	ErrTypeInvalidResponse
	ErrTypeModelNotFound
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnection:
		return "connection"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeStatus:
		return "status"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	case ErrTypeModelNotFound:
		return "model_not_found"
	}
	return "unknown"
}

// Client talks to an Ollama server. A Client is immutable; reconfiguration
// replaces it with a new one.
type Client struct {
	host    string
	port    int
	model   string
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the provider described by cfg.
// Every call is bounded by cfg.Timeout().
func NewClient(cfg *cmdbridge.Config) *Client {
	c := &Client{
		host:    cfg.OllamaHost,
		port:    cfg.OllamaPort,
		model:   cfg.OllamaModel,
		baseURL: "http://" + net.JoinHostPort(cfg.OllamaHost, strconv.Itoa(cfg.OllamaPort)),
		client:  &http.Client{Timeout: cfg.Timeout()},
	}
	slog.Info("initialized ollama client", "url", c.baseURL, "model", c.model)
	return c
}

func (c *Client) Host() string    { return c.host }
func (c *Client) Port() int       { return c.port }
func (c *Client) Model() string   { return c.model }
func (c *Client) BaseURL() string { return c.baseURL }

// --- Model listing ---

type tagsResponse struct {
	Models []tagsModel `json:"models"`
}

type tagsModel struct {
	Name string `json:"name"`
}

// Models returns the names of the models installed on the provider.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var result tagsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode model list", Cause: err}
	}
	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// CheckAvailability reports whether the provider is reachable and serves the
// configured model. It never fails: every fault is logged and reported as false.
func (c *Client) CheckAvailability(ctx context.Context) bool {
	names, err := c.Models(ctx)
	if err != nil {
		logClientError("failed to connect to ollama", err)
		return false
	}
	for _, name := range names {
		if name == c.model {
			slog.Debug("ollama model available", "model", c.model)
			return true
		}
	}
	logClientError("model not available", &ClientError{
		Type:    ErrTypeModelNotFound,
		Message: fmt.Sprintf("model %s not found in ollama", c.model),
	})
	return false
}

// --- Generation ---

type generateRequest struct {
	Model       string          `json:"model"`
	Prompt      string          `json:"prompt"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	System      string          `json:"system,omitempty"`
	Options     generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

// Complete asks the provider for a completion of prompt. It returns the
// generated text and the decoded response document. On any failure the text
// is empty and the metadata holds a single "error" entry.
func (c *Client) Complete(ctx context.Context, prompt, system string, temperature float64) (string, map[string]any) {
	text, meta, err := c.generate(ctx, prompt, system, temperature)
	if err != nil {
		logClientError("completion failed", err)
		return "", map[string]any{"error": completionError(err)}
	}
	slog.Info("received completion", "model", c.model, "chars", len(text))
	return text, meta
}

func (c *Client) generate(ctx context.Context, prompt, system string, temperature float64) (string, map[string]any, error) {
	reqBody := generateRequest{
		Model:       c.model,
		Prompt:      prompt,
		Temperature: temperature,
		Stream:      false,
		System:      system,
		Options:     generateOptions{Temperature: temperature},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return "", nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("sending completion request", "model", c.model, "prompt_chars", len(prompt))

	body, err := c.do(httpReq)
	if err != nil {
		return "", nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return "", nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to parse response", Cause: err}
	}
	text, _ := result["response"].(string)
	return text, result, nil
}

// do executes req and returns the body of a 200 response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeStatus,
			Message: fmt.Sprintf("Ollama API returned status %d: %s", resp.StatusCode, string(body)),
		}
	}
	return body, nil
}

// classify wraps a transport error, separating timeouts from other faults.
func classify(err error) *ClientError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "request failed", Cause: err}
}

// completionError renders err as the "error" metadata value.
func completionError(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) && ce.Type == ErrTypeStatus {
		return ce.Message
	}
	return "Error getting completion from Ollama: " + err.Error()
}

func logClientError(msg string, err error) {
	kind := ErrTypeUnknown
	var ce *ClientError
	if errors.As(err, &ce) {
		kind = ce.Type
	}
	slog.Error(msg, "kind", kind.String(), "error", err)
}
