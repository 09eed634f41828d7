// Command cmdbridge-repl is an interactive client for a running cmdbridged.
// Plain input lines are sent as prompts; each exchange is written to stdout
// as a TOML document.
//
// Usage:
//
//	./cmdbridge-repl             # interactive, TOML on screen
//	./cmdbridge-repl > log.toml  # summaries on screen, TOML to file
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
)

const prompt = "> "

const help = `commands:
  <text>                   send text as a prompt (process_user_request)
  :ping                    liveness check
  :status                  get_ollama_status
  :config key=value ...    configure_ollama (host, port, model, temperature, system_prompt)
  :send <type> [json]      send any request type with optional params
  :raw <text>              send text verbatim
  :quit                    exit
`

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		history bool
	)
	cmd := &cobra.Command{
		Use:           "cmdbridge-repl",
		Short:         "Interactive client for cmdbridged",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdbridge.LoadConfig(cmdbridge.ConfigPath())
			if err != nil {
				cfg = cmdbridge.DefaultConfig()
			}
			if addr == "" {
				addr = cmdbridge.ResolveListenAddr(cfg)
			}
			if timeout <= 0 {
				timeout = defaultTimeout(cfg)
			}
			client, err := Dial(addr, timeout)
			if err != nil {
				return err
			}
			defer client.Close()

			historyFile := ""
			if history {
				historyFile = filepath.Join(cmdbridge.ConfigDir(), "repl_history")
			}
			editor := NewEditor(historyFile)
			defer editor.Close()

			tty := cmd.ErrOrStderr()
			fmt.Fprintf(tty, "cmdbridge repl\nconnected: %s\n\n%s\n", addr, help)

			r := &repl{client: client, out: cmd.OutOrStdout(), tty: tty}
			if f, ok := r.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				r.outIsTerminal = true
			}
			return r.loop(editor)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "bridge address (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "dial and per-request timeout (default derived from ollama_timeout)")
	cmd.Flags().BoolVar(&history, "history", true, "persist input history in the config directory")
	return cmd
}

// defaultTimeout covers the slowest valid request: a readiness check and a
// completion, each bounded by the provider timeout, plus some slack.
func defaultTimeout(cfg *cmdbridge.Config) time.Duration {
	return 2*cfg.Timeout() + 30*time.Second
}

type repl struct {
	client        *Client
	out           io.Writer
	tty           io.Writer
	outIsTerminal bool
}

func (r *repl) loop(editor *Editor) error {
	for {
		text, err := editor.ReadLine(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, ErrInterrupt) {
			return nil
		}
		if err != nil {
			return err
		}
		if text == "" {
			continue
		}
		if text == ":quit" || text == ":q" {
			return nil
		}
		if err := r.handle(text); err != nil {
			fmt.Fprintf(r.tty, "error: %v\n", err)
		}
	}
}

// handle runs one input line.
func (r *repl) handle(text string) error {
	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case ":help":
		fmt.Fprint(r.tty, help)
		return nil
	case ":ping":
		return r.exchange("ping", nil, func() (json.RawMessage, error) { return r.client.Ping() })
	case ":status":
		return r.call("get_ollama_status", nil)
	case ":config":
		u, err := parseConfigArgs(strings.Fields(rest))
		if err != nil {
			return err
		}
		return r.call("configure_ollama", u)
	case ":send":
		typ, params, _ := strings.Cut(rest, " ")
		if typ == "" {
			return errors.New("usage: :send <type> [json]")
		}
		var p any
		if params = strings.TrimSpace(params); params != "" {
			if !json.Valid([]byte(params)) {
				return fmt.Errorf("params are not valid JSON: %s", params)
			}
			p = json.RawMessage(params)
		}
		return r.call(typ, p)
	case ":raw":
		return r.exchange("raw", []byte(rest), func() (json.RawMessage, error) { return r.client.Send([]byte(rest)) })
	}
	if strings.HasPrefix(cmd, ":") {
		return fmt.Errorf("unknown command %s (try :help)", cmd)
	}
	return r.call("process_user_request", cmdbridge.ProcessParams{Prompt: text})
}

func (r *repl) call(typ string, params any) error {
	var data []byte
	if params != nil {
		var err error
		if data, err = json.Marshal(params); err != nil {
			return err
		}
	}
	return r.exchange(typ, data, func() (json.RawMessage, error) { return r.client.Call(typ, params) })
}

func (r *repl) exchange(typ string, params []byte, send func() (json.RawMessage, error)) error {
	start := time.Now()
	raw, err := send()
	if err != nil {
		return err
	}
	e, err := newEntry(start, typ, params, raw, time.Since(start))
	if err != nil {
		return err
	}
	if !r.outIsTerminal {
		fmt.Fprintln(r.tty, summary(e))
	}
	return writeEntry(r.out, e)
}

// parseConfigArgs turns key=value pairs into a configuration update.
func parseConfigArgs(args []string) (*cmdbridge.ConfigUpdate, error) {
	if len(args) == 0 {
		return nil, errors.New("usage: :config key=value ...")
	}
	u := &cmdbridge.ConfigUpdate{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		switch key {
		case "host":
			u.Host = &value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("port: %w", err)
			}
			u.Port = &port
		case "model":
			u.Model = &value
		case "temperature":
			t, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("temperature: %w", err)
			}
			u.Temperature = &t
		case "system_prompt":
			u.SystemPrompt = &value
		default:
			return nil, fmt.Errorf("unknown key %q", key)
		}
	}
	return u, nil
}
