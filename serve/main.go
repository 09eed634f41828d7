// Command cmdbridged is the cmdbridge daemon.
// It listens on TCP for requests from the editor, forwards natural-language
// prompts to Ollama, and returns the function calls found in the reply.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
	"github.com/Paranoid-AF/cmdbridge/generate"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// shutdownTimeout bounds how long open connections may drain on exit.
const shutdownTimeout = 5 * time.Second

type options struct {
	verbose    bool
	configPath string
	listen     string
	noWatch    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "cmdbridged",
		Short:         "Bridge editor requests to a local Ollama model",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err := run(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			}
			return err
		},
	}
	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every request and response")
	flags.StringVar(&opts.configPath, "config", cmdbridge.ConfigPath(), "path to config.json")
	root.Flags().StringVar(&opts.listen, "listen", "", "listen address (overrides config and $CMDBRIDGE_LISTEN)")
	root.Flags().BoolVar(&opts.noWatch, "no-watch", false, "do not reload config.json when it changes")

	root.AddCommand(newConfigCommand(opts))
	return root
}

func run(ctx context.Context, opts *options, stderr io.Writer) error {
	cfg, loadErr := cmdbridge.LoadConfig(opts.configPath)
	if loadErr != nil {
		cfg = cmdbridge.DefaultConfig()
	}

	setLevel(cfg.LogLevel, opts.verbose)
	cleanup, err := setupLogging(stderr, cfg.LogFile)
	defer cleanup()
	if err != nil {
		slog.Warn("log file unavailable", "path", cfg.LogFile, "error", err)
	}
	if loadErr != nil {
		slog.Warn("failed to load config, using defaults", "path", opts.configPath, "error", loadErr)
	}
	for _, w := range cmdbridge.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	catalog := generate.LoadCatalog(cmdbridge.FunctionsPathFor(opts.configPath))
	engine := generate.NewEngine(cfg, catalog)
	defer engine.Close()

	addr := opts.listen
	if addr == "" {
		addr = cmdbridge.ResolveListenAddr(cfg)
	}
	srv, err := NewServer(addr, engine, opts.configPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	slog.Info("starting", "version", Version, "addr", srv.Addr().String(), "config", opts.configPath)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("connections did not drain", "error", err)
		}
		return nil
	})

	if !opts.noWatch {
		watcher, err := newConfigWatcher(opts.configPath, srv, opts.verbose)
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			g.Go(func() error { return watcher.Run(ctx) })
		}
	}

	g.Go(func() error {
		c := engine.Client()
		if engine.Ready(ctx) {
			slog.Info("ollama reachable", "url", c.BaseURL(), "model", c.Model())
		} else if ctx.Err() == nil {
			slog.Warn("ollama not reachable; will retry on first request", "url", c.BaseURL(), "model", c.Model())
		}
		return nil
	})

	slog.Info("ready")
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newConfigCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := cmdbridge.LoadConfig(opts.configPath)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			},
		},
		&cobra.Command{
			Use:   "defaults",
			Short: "Print the built-in default configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(cmd.OutOrStdout(), cmdbridge.DefaultConfig())
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration for problems",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := cmdbridge.LoadConfig(opts.configPath)
				if err != nil {
					return err
				}
				warnings := cmdbridge.ValidateConfig(cfg)
				for _, w := range warnings {
					fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
				}
				if len(warnings) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "ok")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "prompt",
			Short: "Print the system prompt sent to the model",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := cmdbridge.LoadConfig(opts.configPath)
				if err != nil {
					return err
				}
				catalog := generate.LoadCatalog(cmdbridge.FunctionsPathFor(opts.configPath))
				engine := generate.NewEngine(cfg, catalog)
				defer engine.Close()
				prompt, err := engine.SystemPrompt(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), prompt)
				return nil
			},
		},
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
