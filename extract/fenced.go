package extract

import (
	"fmt"
	"strings"
)

const fence = "```"

// FencedJSON extracts commands from ``` fenced blocks whose content is JSON.
// The fence may carry a language tag (```json); blocks that do not parse are
// skipped.
type FencedJSON struct{}

func (FencedJSON) Name() string { return "fenced_json" }

func (FencedJSON) Extract(text string) []Outcome {
	var out []Outcome
	for i, block := range fencedBlocks(text) {
		values, err := decodeValues(block.content)
		if err != nil {
			out = append(out, Outcome{Err: fmt.Errorf("fenced block %d: %w", i+1, err)})
			continue
		}
		for _, v := range values {
			out = append(out, commandsFromValue(v)...)
		}
	}
	return out
}

type fencedBlock struct {
	tag     string
	content string // trimmed
}

// fencedBlocks scans text for ``` delimited regions. An opening fence may be
// followed by a tag word on the same line; an unterminated block is ignored.
func fencedBlocks(text string) []fencedBlock {
	var blocks []fencedBlock
	rest := text
	for {
		start := strings.Index(rest, fence)
		if start < 0 {
			return blocks
		}
		body := rest[start+len(fence):]
		end := strings.Index(body, fence)
		if end < 0 {
			return blocks
		}
		tag, content := splitTag(body[:end])
		blocks = append(blocks, fencedBlock{tag: tag, content: strings.TrimSpace(content)})
		rest = body[end+len(fence):]
	}
}

// splitTag separates an info string such as "json" from the block content.
// Only a single word directly after the fence and terminated by a newline
// counts as a tag, so ```{"function": ...}``` keeps its content intact.
func splitTag(body string) (tag, content string) {
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return "", body
	}
	first := strings.TrimRight(body[:nl], " \t\r")
	if first == "" || !isTagWord(first) {
		return "", body
	}
	return strings.ToLower(first), body[nl+1:]
}

func isTagWord(s string) bool {
	for _, r := range s {
		if !isWordRune(r) && r != '-' && r != '+' && r != '.' {
			return false
		}
	}
	return true
}
