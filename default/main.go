// Package defaults provides embedded default assets (system prompt, config and
// the editor function catalog).
package defaults

import _ "embed"

//go:embed default_prompt.md
var DefaultPrompt string

//go:embed default_config.json
var DefaultConfigJSON []byte

//go:embed functions.toml
var FunctionsTOML string
