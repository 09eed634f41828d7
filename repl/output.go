package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
)

// entry is one request/response exchange as written to stdout.
type entry struct {
	Request  requestEntry   `toml:"request"`
	Response responseEntry  `toml:"response"`
	Commands []commandEntry `toml:"commands,omitempty"`
}

type requestEntry struct {
	Timestamp time.Time `toml:"timestamp"`
	Type      string    `toml:"type"`
	Prompt    string    `toml:"prompt,omitempty"`
	Params    string    `toml:"params,omitempty"`
}

type responseEntry struct {
	Status       string         `toml:"status"`
	ElapsedMS    int64          `toml:"elapsed_ms"`
	Error        string         `toml:"error,omitempty"`
	ReceivedText string         `toml:"received_text,omitempty"`
	Message      string         `toml:"message,omitempty"`
	LLMResponse  string         `toml:"llm_response,omitempty"`
	Result       map[string]any `toml:"result,omitempty"`
}

type commandEntry struct {
	Function  string         `toml:"function"`
	Arguments map[string]any `toml:"arguments,omitempty"`
}

// reply is the subset of a response envelope the REPL inspects.
type reply struct {
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ReceivedText string          `json:"receivedText"`
}

// processReply is the result of "process_user_request", success or failure.
type processReply struct {
	Message     string              `json:"message"`
	LLMResponse *string             `json:"llm_response"`
	Commands    []cmdbridge.Command `json:"commands"`
}

// newEntry builds the entry for one exchange. A request of type "process_user_request"
// has its commands listed separately; other results are kept as a table.
func newEntry(at time.Time, typ string, params []byte, raw json.RawMessage, elapsed time.Duration) (*entry, error) {
	e := &entry{
		Request: requestEntry{Timestamp: at.Truncate(time.Second), Type: typ},
	}
	if typ == "process_user_request" {
		var p cmdbridge.ProcessParams
		if json.Unmarshal(params, &p) == nil {
			e.Request.Prompt = p.Prompt
		}
	} else if len(params) > 0 {
		e.Request.Params = string(params)
	}

	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	e.Response = responseEntry{
		Status:       r.Status,
		ElapsedMS:    elapsed.Milliseconds(),
		Error:        r.Error,
		ReceivedText: r.ReceivedText,
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return e, nil
	}

	if typ == "process_user_request" {
		var p processReply
		if err := json.Unmarshal(r.Result, &p); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		e.Response.Message = p.Message
		if p.LLMResponse != nil {
			e.Response.LLMResponse = *p.LLMResponse
		}
		for _, c := range p.Commands {
			e.Commands = append(e.Commands, commandEntry{Function: c.Function, Arguments: dropNulls(c.Arguments)})
		}
		return e, nil
	}

	var result map[string]any
	if err := json.Unmarshal(r.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	e.Response.Result = dropNulls(result)
	return e, nil
}

// dropNulls removes JSON nulls, which TOML cannot represent.
func dropNulls(m map[string]any) map[string]any {
	for k, v := range m {
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = dropNull(v)
	}
	return m
}

func dropNull(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return dropNulls(t)
	case []any:
		out := t[:0]
		for _, el := range t {
			if el != nil {
				out = append(out, dropNull(el))
			}
		}
		return out
	}
	return v
}

// writeEntry writes e to w as a TOML document preceded by a separator.
func writeEntry(w io.Writer, e *entry) error {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))
	if err := toml.NewEncoder(w).Encode(e); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

// summary is the one-line description shown on the terminal.
func summary(e *entry) string {
	switch {
	case e.Response.Error != "":
		return fmt.Sprintf("%s: %s", e.Response.Status, e.Response.Error)
	case e.Request.Type == "process_user_request":
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s", e.Response.Status, e.Response.Message)
		for i, c := range e.Commands {
			args, _ := json.Marshal(c.Arguments)
			fmt.Fprintf(&b, "\n  %d. %s %s", i+1, c.Function, args)
		}
		return b.String()
	default:
		return fmt.Sprintf("%s: %v", e.Response.Status, e.Response.Result)
	}
}
