package extract

import (
	"encoding/json"
	"errors"
	"strings"
)

// BareJSON extracts commands from JSON objects embedded anywhere in the text.
//
// Every '{' is tried as the start of a JSON object using a streaming decoder,
// so arbitrarily nested arguments are handled. A decoded object that is a
// command is consumed whole; one that is not is descended into, so commands
// wrapped in an envelope such as {"calls": [...]} are still found.
type BareJSON struct{}

func (BareJSON) Name() string { return "bare_json" }

func (BareJSON) Extract(text string) []Outcome {
	var out []Outcome
	i := 0
	for i < len(text) {
		open := strings.IndexByte(text[i:], '{')
		if open < 0 {
			break
		}
		start := i + open
		obj, n, ok := decodeObjectAt(text, start)
		if !ok {
			i = start + 1
			continue
		}
		cmd, err := commandFromObject(obj)
		if err != nil {
			i = start + 1
			if !errors.Is(err, ErrNotCommand) {
				out = append(out, Outcome{Err: err})
			}
			continue
		}
		out = append(out, Outcome{Command: cmd})
		i = start + n
	}
	return out
}

// decodeObjectAt decodes the JSON object starting at text[start] and returns
// it along with the number of bytes consumed.
func decodeObjectAt(text string, start int) (map[string]any, int, bool) {
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil || v == nil {
		return nil, 0, false
	}
	normalize(v)
	return v, int(dec.InputOffset()), true
}
