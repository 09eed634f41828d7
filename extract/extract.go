// Package extract recovers structured commands from free-form model output.
//
// Models emit function calls in different surface syntaxes: fenced JSON
// blocks, bare JSON objects inside prose, or call syntax such as
// create_object(name="Cube"). An Extractor runs a priority-ordered list of
// strategies and returns the commands of the first strategy that yields any,
// so a reply that carries both a JSON block and a prose restatement of the
// same call is never counted twice.
package extract

import (
	"errors"
	"log/slog"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
	"github.com/Paranoid-AF/cmdbridge/redact"
)

// Outcome is the result of one extraction candidate: either a command or the
// reason the candidate was skipped.
type Outcome struct {
	Command cmdbridge.Command
	Err     error
}

// Strategy recovers candidate commands from text in one surface syntax.
// Implementations must be pure: the same text always yields the same outcomes.
type Strategy interface {
	Name() string
	Extract(text string) []Outcome
}

// Extractor applies strategies in order, first non-empty result wins.
type Extractor struct {
	strategies []Strategy
}

// New returns an Extractor that tries the given strategies in order.
func New(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// Default returns the standard extractor: fenced JSON, bare JSON, call syntax.
func Default() *Extractor {
	return New(FencedJSON{}, BareJSON{}, CallSyntax{})
}

// Extract returns the commands found in text. It never fails; the result is
// an empty (non-nil) slice when nothing is extractable.
func (e *Extractor) Extract(text string) []cmdbridge.Command {
	for _, s := range e.strategies {
		var cmds []cmdbridge.Command
		for _, o := range s.Extract(text) {
			if o.Err != nil {
				logSkip(s.Name(), o.Err)
				continue
			}
			cmds = append(cmds, o.Command)
		}
		if len(cmds) > 0 {
			slog.Debug("commands extracted", "strategy", s.Name(), "count", len(cmds))
			return cmds
		}
	}
	if text != "" {
		slog.Debug("no commands extracted", "response", redact.Lazy(text))
	}
	return []cmdbridge.Command{}
}

// Extract runs the default extractor over text.
func Extract(text string) []cmdbridge.Command {
	return Default().Extract(text)
}

func logSkip(strategy string, err error) {
	if errors.Is(err, ErrNotCommand) {
		return
	}
	// Prose and stray JSON are expected; only malformed calls are noteworthy.
	if strategy == callSyntaxName {
		slog.Warn("failed to parse function call", "strategy", strategy, "error", err)
		return
	}
	slog.Debug("skipped candidate", "strategy", strategy, "error", err)
}
