package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// ErrInterrupt is returned by ReadLine when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

// Editor reads input lines with history, persisted between sessions.
type Editor struct {
	line        *liner.State
	historyFile string
}

// NewEditor creates an editor. An empty historyFile disables persistence.
func NewEditor(historyFile string) *Editor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	e := &Editor{line: line, historyFile: historyFile}
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	return e
}

// ReadLine displays the prompt and returns the trimmed input.
// It returns io.EOF on Ctrl-D and ErrInterrupt on Ctrl-C.
func (e *Editor) ReadLine(prompt string) (string, error) {
	text, err := e.line.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", ErrInterrupt
		}
		return "", err
	}
	text = strings.TrimSpace(text)
	if text != "" {
		e.line.AppendHistory(text)
	}
	return text, nil
}

// Close saves history and restores the terminal.
func (e *Editor) Close() {
	if e.historyFile != "" {
		e.saveHistory()
	}
	e.line.Close()
}

func (e *Editor) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	e.line.WriteHistory(f)
}
