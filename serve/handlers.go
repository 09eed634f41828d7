package main

import (
	"context"
	"encoding/json"
	"log/slog"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
)

func (s *Server) handleProcess(ctx context.Context, log *slog.Logger, params json.RawMessage) *cmdbridge.Response {
	var p cmdbridge.ProcessParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			log.Warn("invalid process params", "error", err)
			return cmdbridge.Failure("Invalid parameters: "+err.Error(), "Please provide a prompt to process.")
		}
	}
	return s.engine.Process(ctx, p.Prompt)
}

func (s *Server) handleStatus(ctx context.Context, log *slog.Logger, _ json.RawMessage) *cmdbridge.Response {
	st := s.engine.Status(ctx)
	if err := ctx.Err(); err != nil {
		log.Error("error checking ollama status", "error", err)
		return &cmdbridge.Response{
			Status: cmdbridge.StatusError,
			Result: &cmdbridge.StatusResult{
				Status:  cmdbridge.StatusError,
				Message: "Error checking Ollama status: " + err.Error(),
			},
		}
	}
	return &cmdbridge.Response{Status: cmdbridge.StatusSuccess, Result: st}
}

func (s *Server) handleConfigure(ctx context.Context, log *slog.Logger, params json.RawMessage) *cmdbridge.Response {
	var u cmdbridge.ConfigUpdate
	if len(params) > 0 {
		if err := json.Unmarshal(params, &u); err != nil {
			log.Warn("invalid configure params", "error", err)
			return &cmdbridge.Response{
				Status: cmdbridge.StatusError,
				Result: &cmdbridge.ConfigureResult{
					Status:  cmdbridge.StatusError,
					Message: "Invalid configuration: " + err.Error(),
				},
			}
		}
	}

	s.configMu.Lock()
	next := s.engine.Config().Apply(u)
	if s.configPath != "" {
		if err := cmdbridge.SaveConfig(s.configPath, next); err != nil {
			log.Error("failed to save config", "path", s.configPath, "error", err)
		}
	}
	s.engine.Reconfigure(next)
	s.configMu.Unlock()

	log.Info("ollama reconfigured",
		"host", next.OllamaHost,
		"port", next.OllamaPort,
		"model", next.OllamaModel,
		"temperature", next.OllamaTemperature,
	)

	result := &cmdbridge.ConfigureResult{
		Status:  "connected",
		Message: "Ollama configuration updated successfully",
		Config: &cmdbridge.EffectiveConf{
			Host:        next.OllamaHost,
			Port:        next.OllamaPort,
			Model:       next.OllamaModel,
			Temperature: next.OllamaTemperature,
		},
	}
	if !s.engine.Available(ctx) {
		result.Status = cmdbridge.StatusError
		result.Message = "Failed to connect with new settings"
	}
	return &cmdbridge.Response{Status: cmdbridge.StatusSuccess, Result: result}
}

// reload installs cfg if it differs from the configuration in effect.
// It reports whether anything changed.
func (s *Server) reload(cfg *cmdbridge.Config) bool {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	if *cfg == *s.engine.Config() {
		return false
	}
	s.engine.Reconfigure(cfg)
	return true
}
