package extract

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
)

const callSyntaxName = "call_syntax"

// denylist holds identifiers that look like calls in ordinary code or prose
// but are never editor commands. Compared case-insensitively.
var denylist = map[string]bool{
	"print":   true,
	"println": true,
	"printf":  true,
	"sprintf": true,
	"console": true,
	"log":     true,
	"debug":   true,
	"echo":    true,
	"format":  true,
	"len":     true,
	"str":     true,
	"int":     true,
	"float":   true,
	"bool":    true,
	"list":    true,
	"dict":    true,
	"range":   true,
	"type":    true,
	"return":  true,
	"if":      true,
	"for":     true,
	"while":   true,
	"switch":  true,
	"catch":   true,
}

var (
	errUnterminatedString  = errors.New("unterminated string")
	errUnterminatedBracket = errors.New("unterminated bracket")
)

// CallSyntax extracts commands written as name(key=value, ...).
//
// Positional arguments are ignored. When whitespace separates the name from
// the parenthesis the call is accepted only if it is empty or has keyword
// arguments, so prose such as "the cube (red)" is not mistaken for a call.
type CallSyntax struct{}

func (CallSyntax) Name() string { return callSyntaxName }

func (CallSyntax) Extract(text string) []Outcome {
	var out []Outcome
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isIdentStart(r) {
			i += size
			continue
		}
		nameEnd := scanWord(text, i)
		name := text[i:nameEnd]
		open := skipBlanks(text, nameEnd)
		if open >= len(text) || text[open] != '(' {
			i = nameEnd
			continue
		}
		args, closeAt, ok := callArgs(text, open)
		if !ok {
			i = nameEnd
			continue
		}
		if denylist[strings.ToLower(name)] {
			// Look inside: print(create_object(name="x")) still holds a command.
			i = open + 1
			continue
		}
		trimmed := strings.TrimSpace(args)
		if open > nameEnd && trimmed != "" && !strings.Contains(trimmed, "=") {
			i = open + 1
			continue
		}
		i = closeAt + 1

		if trimmed == "" {
			out = append(out, Outcome{Command: cmdbridge.Command{Function: name, Arguments: map[string]any{}}})
			continue
		}
		kwargs, err := parseKeywordArgs(args)
		if err != nil {
			out = append(out, Outcome{Err: fmt.Errorf("%s: %w", name, err)})
			continue
		}
		out = append(out, Outcome{Command: cmdbridge.Command{Function: name, Arguments: kwargs}})
	}
	return out
}

// callArgs returns the text between the parenthesis at text[open] and its
// matching close, honouring quotes and nested brackets. When the balanced
// scan fails (an apostrophe in prose, say) it falls back to the first ')'.
func callArgs(text string, open int) (args string, closeAt int, ok bool) {
	if end, err := matchClose(text, open); err == nil {
		return text[open+1 : end], end, true
	}
	end := strings.IndexByte(text[open+1:], ')')
	if end < 0 {
		return "", 0, false
	}
	return text[open+1 : open+1+end], open + 1 + end, true
}

// matchClose returns the index of the bracket closing the one at text[open].
func matchClose(text string, open int) (int, error) {
	var stack []byte
	for i := open; i < len(text); i++ {
		switch c := text[i]; c {
		case '"', '\'':
			end, err := skipQuoted(text, i)
			if err != nil {
				return 0, err
			}
			i = end
		case '(', '[', '{':
			stack = append(stack, closerFor(c))
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, errUnterminatedBracket
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, nil
			}
		}
	}
	return 0, errUnterminatedBracket
}

func closerFor(c byte) byte {
	switch c {
	case '(':
		return ')'
	case '[':
		return ']'
	}
	return '}'
}

// skipQuoted returns the index of the quote closing the one at text[start].
func skipQuoted(text string, start int) (int, error) {
	quote := text[start]
	for i := start + 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case quote:
			return i, nil
		}
	}
	return 0, errUnterminatedString
}

// parseKeywordArgs parses "key = value" pairs separated by commas.
// Tokens that are not keyword arguments are skipped.
func parseKeywordArgs(args string) (map[string]any, error) {
	kwargs := map[string]any{}
	p := 0
	for p < len(args) {
		p = skipSeparators(args, p)
		if p >= len(args) {
			break
		}
		r, _ := utf8.DecodeRuneInString(args[p:])
		if !isIdentStart(r) {
			p = nextComma(args, p)
			continue
		}
		keyEnd := scanWord(args, p)
		key := args[p:keyEnd]
		eq := skipBlanks(args, keyEnd)
		if eq >= len(args) || args[eq] != '=' || (eq+1 < len(args) && args[eq+1] == '=') {
			p = nextComma(args, keyEnd)
			continue
		}
		start := skipBlanks(args, eq+1)
		raw, end, err := scanValue(args, start)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", key, err)
		}
		if strings.TrimSpace(raw) != "" {
			kwargs[key] = coerce(raw)
		}
		p = nextComma(args, end)
	}
	return kwargs, nil
}

// scanValue reads one argument value starting at args[start]: a quoted
// string, a bracketed list, a braced object, or a bare run up to the next comma.
func scanValue(args string, start int) (raw string, end int, err error) {
	if start >= len(args) {
		return "", start, nil
	}
	switch args[start] {
	case '"', '\'':
		closing, err := skipQuoted(args, start)
		if err != nil {
			return "", 0, err
		}
		return args[start : closing+1], closing + 1, nil
	case '[', '{':
		closing, err := matchClose(args, start)
		if err != nil {
			return "", 0, err
		}
		return args[start : closing+1], closing + 1, nil
	}
	end = strings.IndexByte(args[start:], ',')
	if end < 0 {
		return args[start:], len(args), nil
	}
	return args[start : start+end], start + end, nil
}

// nextComma returns the index just past the next top-level comma at or after p.
func nextComma(args string, p int) int {
	depth := 0
	for i := p; i < len(args); i++ {
		switch c := args[i]; c {
		case '"', '\'':
			end, err := skipQuoted(args, i)
			if err != nil {
				return len(args)
			}
			i = end
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth <= 0 {
				return i + 1
			}
		}
	}
	return len(args)
}

func skipSeparators(s string, p int) int {
	for p < len(s) && (s[p] == ',' || isBlank(s[p])) {
		p++
	}
	return p
}

func skipBlanks(s string, p int) int {
	for p < len(s) && isBlank(s[p]) {
		p++
	}
	return p
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// scanWord returns the end of the identifier starting at s[p].
func scanWord(s string, p int) int {
	for p < len(s) {
		r, size := utf8.DecodeRuneInString(s[p:])
		if !isWordRune(r) {
			break
		}
		p += size
	}
	return p
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
