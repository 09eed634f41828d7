package extract

import (
	"strings"
)

// coerce converts a raw call-syntax argument into a typed value.
// Order: quoted string, bracketed list, braced object, boolean, number,
// and finally the trimmed text itself.
func coerce(raw string) any {
	v := strings.TrimSpace(raw)
	if s, ok := unquote(v); ok {
		return s
	}
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		return coerceList(v)
	}
	if strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}") {
		if m := asObject(strings.ReplaceAll(v, "'", `"`)); m != nil {
			return m
		}
		return v
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if isNumeric(v) {
		return numberValue(v)
	}
	return v
}

// coerceList parses a bracketed list as JSON (after normalising single
// quotes), falling back to a comma split with per-element number coercion.
func coerceList(v string) any {
	if values, err := decodeValues(strings.ReplaceAll(v, "'", `"`)); err == nil && len(values) == 1 {
		if list, ok := values[0].([]any); ok {
			return list
		}
	}
	inner := strings.TrimSpace(v[1 : len(v)-1])
	if inner == "" {
		return []any{}
	}
	parts := strings.Split(inner, ",")
	list := make([]any, 0, len(parts))
	for _, part := range parts {
		elem := strings.TrimSpace(part)
		if isNumeric(elem) {
			list = append(list, numberValue(elem))
			continue
		}
		if s, ok := unquote(elem); ok {
			elem = s
		}
		list = append(list, elem)
	}
	return list
}

// unquote strips one pair of matching single or double quotes and resolves
// escaped quote characters.
func unquote(v string) (string, bool) {
	if len(v) < 2 {
		return "", false
	}
	q := v[0]
	if (q != '"' && q != '\'') || v[len(v)-1] != q {
		return "", false
	}
	s := v[1 : len(v)-1]
	s = strings.ReplaceAll(s, `\`+string(q), string(q))
	return s, true
}

// isNumeric reports whether v is an optionally negative run of digits with
// at most one decimal point.
func isNumeric(v string) bool {
	v = strings.TrimPrefix(v, "-")
	digits, dots := 0, 0
	for i := 0; i < len(v); i++ {
		switch c := v[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}
