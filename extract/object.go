package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
)

// ErrNotCommand marks a JSON object that parsed but carries no function name.
// Such objects are ordinary data, not malformed commands.
var ErrNotCommand = errors.New("object has no function or name key")

// argumentKeys are checked in order; the first non-empty object wins.
var argumentKeys = []string{"arguments", "params", "args"}

// commandFromObject converts a decoded JSON object into a command.
// The name comes from "function" (preferred) or "name"; arguments from the
// first non-empty of "arguments", "params", "args".
func commandFromObject(obj map[string]any) (cmdbridge.Command, error) {
	// OpenAI tool-call shape: {"type":"function","function":{"name":..,"arguments":..}}
	if inner, ok := obj["function"].(map[string]any); ok {
		if _, named := inner["name"]; named {
			obj = inner
		}
	}

	_, hasFunction := obj["function"]
	_, hasName := obj["name"]
	if !hasFunction && !hasName {
		return cmdbridge.Command{}, ErrNotCommand
	}

	name, _ := obj["function"].(string)
	if name == "" {
		name, _ = obj["name"].(string)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return cmdbridge.Command{}, fmt.Errorf("function name is empty or not a string")
	}

	args := map[string]any{}
	for _, key := range argumentKeys {
		if m := asObject(obj[key]); len(m) > 0 {
			args = m
			break
		}
	}
	return cmdbridge.Command{Function: name, Arguments: args}, nil
}

// asObject returns v as an object. Strings holding encoded JSON objects are
// decoded, since several providers ship arguments that way.
func asObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		values, err := decodeValues(t)
		if err != nil || len(values) != 1 {
			return nil
		}
		m, _ := values[0].(map[string]any)
		return m
	}
	return nil
}

// commandsFromValue turns a decoded JSON value (object or list of objects)
// into outcomes.
func commandsFromValue(v any) []Outcome {
	switch t := v.(type) {
	case map[string]any:
		cmd, err := commandFromObject(t)
		return []Outcome{{Command: cmd, Err: err}}
	case []any:
		var out []Outcome
		for _, elem := range t {
			obj, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			cmd, err := commandFromObject(obj)
			out = append(out, Outcome{Command: cmd, Err: err})
		}
		return out
	}
	return nil
}

// decodeValues decodes every JSON value in s (one value, or several separated
// by whitespace as in JSON Lines). Any syntax error rejects the whole input.
func decodeValues(s string) ([]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var values []any
	for {
		var v any
		err := dec.Decode(&v)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		values = append(values, normalize(v))
	}
	if len(values) == 0 {
		return nil, errors.New("empty JSON input")
	}
	return values, nil
}

// normalize converts json.Number values into int (when integral and in
// range) or float64, recursively.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		return numberValue(t.String())
	case map[string]any:
		for k, elem := range t {
			t[k] = normalize(elem)
		}
		return t
	case []any:
		for i, elem := range t {
			t[i] = normalize(elem)
		}
		return t
	}
	return v
}

// numberValue parses a numeric literal as int when possible, else float64.
// Unparseable input is returned unchanged as a string.
func numberValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= math.MinInt && n <= math.MaxInt {
		return int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
