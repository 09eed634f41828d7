// Package cmdbridge defines the envelope and result types for the cmdbridge
// TCP protocol. Messages are JSON-encoded and exchanged over a raw TCP stream,
// one message per read, with no length prefix or delimiter.
package cmdbridge

import "encoding/json"

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is sent from the editor to the bridge.
type Request struct {
	// Type selects the handler (e.g. "process_user_request").
	Type string `json:"type"`
	// Params is handler-specific and may be absent.
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is sent from the bridge back to the editor.
// Exactly one is written per processed message.
type Response struct {
	// Status is "success" or "error".
	Status string `json:"status"`
	// Result carries the handler-specific payload.
	Result any `json:"result,omitempty"`
	// Error is a top-level protocol or processing error.
	Error string `json:"error,omitempty"`
	// ReceivedText echoes (a truncated copy of) a message that was not valid JSON.
	ReceivedText string `json:"receivedText,omitempty"`
	// StackTrace is attached when a handler faulted unexpectedly.
	StackTrace string `json:"stackTrace,omitempty"`
}

// Command is a structured function call recovered from model output.
// Function is never empty and Arguments is never nil.
type Command struct {
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments"`
}

// ProcessParams are the params of a "process_user_request" message.
type ProcessParams struct {
	Prompt string `json:"prompt"`
}

// ProcessResult is the successful result of a "process_user_request" message.
type ProcessResult struct {
	// Status mirrors the envelope status.
	Status string `json:"status"`
	// Message is a short human-readable summary.
	Message string `json:"message"`
	// LLMResponse is the raw model text.
	LLMResponse string `json:"llm_response"`
	// CommandsExecuted is always 0: the editor executes commands, not the bridge.
	CommandsExecuted int `json:"commands_executed"`
	// Commands are the extracted commands, in extraction order. Never null.
	Commands []Command `json:"commands"`
	// Results is reserved for executor results and is always empty.
	Results []any `json:"results"`
}

// FailureResult is the structured result carried by handler-level failures.
type FailureResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	// LLMResponse is a user-facing apology shown in the editor chat.
	LLMResponse *string `json:"llm_response,omitempty"`
}

// Failure builds an error envelope carrying a FailureResult.
func Failure(message, apology string) *Response {
	return &Response{
		Status: StatusError,
		Result: &FailureResult{Status: StatusError, Message: message, LLMResponse: &apology},
	}
}

// StatusResult is the result of a "get_ollama_status" message.
type StatusResult struct {
	// Status is "connected" or "disconnected" (or "error" on failure).
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Message string `json:"message,omitempty"`
}

// ConfigureResult is the result of a "configure_ollama" message.
type ConfigureResult struct {
	// Status is "connected" when the new settings reach the provider, else "error".
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Config  *EffectiveConf `json:"config,omitempty"`
}

// EffectiveConf reports the provider settings in effect after reconfiguration.
type EffectiveConf struct {
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// UnknownResult acknowledges a message whose type has no handler.
type UnknownResult struct {
	Message     string `json:"message"`
	CommandType string `json:"commandType"`
	ParamsCount int    `json:"paramsCount"`
}

// MessageResult is a bare message payload (used by the ping reply).
type MessageResult struct {
	Message string `json:"message"`
}
