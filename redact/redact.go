// Package redact masks secrets in prompt and model text before it is logged.
package redact

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables that carry no secrets.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true,
	"XDG_RUNTIME_DIR": true, "DISPLAY": true, "SHLVL": true,
	"UNITY_HOME": true, "UNITY_PATH": true, "OLLAMA_HOST": true,
}

// specialParams are shell special parameters that should not be redacted.
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

var (
	reShellFence = regexp.MustCompile("(?s)(```(?:sh|bash|shell|zsh|console)[ \t]*\n)(.*?)(```)")
	reCredential = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|auth[_-]?token|token|secret|password|passwd)("?\s*[:=]\s*)("[^"]*"|'[^']*'|[^\s,;]+)`)
	reBearer     = regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]+`)
)

// Text redacts s for logging. Shell snippets inside ```sh or ```bash fences
// are redacted syntactically; everything else has credential-looking
// key/value pairs and bearer tokens masked.
func Text(s string) string {
	matches := reShellFence.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return credentials(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		b.WriteString(credentials(s[last:m[0]]))
		b.WriteString(s[m[2]:m[3]])
		body := s[m[4]:m[5]]
		b.WriteString(Shell(body))
		if strings.HasSuffix(body, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(s[m[6]:m[7]])
		last = m[1]
	}
	b.WriteString(credentials(s[last:]))
	return b.String()
}

// Lazy is a log attribute value that is redacted with Text only when a
// record carrying it is actually emitted.
type Lazy string

// LogValue implements slog.LogValuer.
func (l Lazy) LogValue() slog.Value {
	return slog.StringValue(Text(string(l)))
}

func credentials(s string) string {
	s = reCredential.ReplaceAllString(s, "${1}${2}***")
	return reBearer.ReplaceAllString(s, "${1} ***")
}

// Shell replaces sensitive variable expansions and assignment values in a
// shell snippet. Safe variables (PATH, HOME, etc.) and special parameters
// ($?, $!, etc.) are preserved.
func Shell(cmd string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return regexRedact(cmd)
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				n.Param.Value = "REDACTED"
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: "***"}}
			}
		}
		return true
	})

	var buf bytes.Buffer
	printer := syntax.NewPrinter(syntax.Indent(0))
	if err := printer.Print(&buf, prog); err != nil {
		return regexRedact(cmd)
	}
	return strings.TrimRight(buf.String(), "\n")
}

var (
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// regexRedact is a fallback for snippets that fail to parse.
func regexRedact(cmd string) string {
	cmd = reBraceVar.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${REDACTED}"
	})

	cmd = reSimpleVar.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" { // already redacted by brace pass
			return m
		}
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "$REDACTED"
	})

	cmd = reAssign.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if safeVars[name] {
			return m
		}
		return name + "=***"
	})

	return cmd
}
