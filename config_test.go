package cmdbridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "localhost", cfg.OllamaHost)
	require.Equal(t, 11434, cfg.OllamaPort)
	require.Equal(t, "llama3", cfg.OllamaModel)
	require.Equal(t, 0.7, cfg.OllamaTemperature)
	require.Equal(t, 6500, cfg.ListenPort)
	require.Equal(t, 8192, cfg.BufferSize)
	require.NotEmpty(t, cfg.OllamaSystemPrompt)
	require.Empty(t, ValidateConfig(cfg))
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ollama_model":"qwen2.5","ollama_temperature":0}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "qwen2.5", cfg.OllamaModel)
	require.Equal(t, 0.0, cfg.OllamaTemperature)
	require.Equal(t, "localhost", cfg.OllamaHost)
	require.Equal(t, 11434, cfg.OllamaPort)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ollama_port":`), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.OllamaHost = "10.0.0.5"
	cfg.OllamaPort = 11500

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestApplyOnlyTemperature(t *testing.T) {
	cfg := DefaultConfig()
	temp := 0.2
	next := cfg.Apply(ConfigUpdate{Temperature: &temp})

	require.Equal(t, 0.2, next.OllamaTemperature)
	require.Equal(t, cfg.OllamaHost, next.OllamaHost)
	require.Equal(t, cfg.OllamaPort, next.OllamaPort)
	require.Equal(t, cfg.OllamaModel, next.OllamaModel)
	require.Equal(t, 0.7, cfg.OllamaTemperature, "Apply must not mutate the receiver")
}

func TestApplyAllFields(t *testing.T) {
	host, port, model, prompt := "gpu-box", 12000, "mistral", "be terse"
	next := DefaultConfig().Apply(ConfigUpdate{Host: &host, Port: &port, Model: &model, SystemPrompt: &prompt})

	require.Equal(t, "gpu-box", next.OllamaHost)
	require.Equal(t, 12000, next.OllamaPort)
	require.Equal(t, "mistral", next.OllamaModel)
	require.Equal(t, "be terse", next.OllamaSystemPrompt)
}

func TestClampTemperature(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.5, 1.0},
		{-0.2, 0.0},
		{0.35, 0.35},
		{0, 0},
		{1, 1},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ClampTemperature(tt.in), "ClampTemperature(%v)", tt.in)
	}
}

func TestConfigDirResolution(t *testing.T) {
	t.Setenv("CMDBRIDGE_CONFIG_DIR", "/custom/dir")
	require.Equal(t, "/custom/dir", ConfigDir())
	require.Equal(t, filepath.Join("/custom/dir", "config.json"), ConfigPath())

	t.Setenv("CMDBRIDGE_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	require.Equal(t, filepath.Join("/xdg", "cmdbridge"), ConfigDir())
	require.Equal(t, filepath.Join("/xdg", "cmdbridge", "functions.toml"), FunctionsPathFor(ConfigPath()))
}

func TestFunctionsPathFollowsConfigFile(t *testing.T) {
	require.Equal(t, filepath.Join("/etc", "cmdbridge", "functions.toml"),
		FunctionsPathFor(filepath.Join("/etc", "cmdbridge", "bridge.json")))
	require.Equal(t, "functions.toml", FunctionsPathFor("config.json"))
}

func TestResolveListenAddr(t *testing.T) {
	t.Setenv("CMDBRIDGE_LISTEN", "")
	require.Equal(t, "localhost:6500", ResolveListenAddr(DefaultConfig()))

	t.Setenv("CMDBRIDGE_LISTEN", "0.0.0.0:7000")
	require.Equal(t, "0.0.0.0:7000", ResolveListenAddr(DefaultConfig()))
}

func TestTimeoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "2m0s", cfg.Timeout().String())

	cfg.OllamaTimeout = 0
	require.Equal(t, DefaultTimeout, cfg.Timeout())
	require.Len(t, ValidateConfig(cfg), 1)
}

func TestValidateConfigWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OllamaModel = " "
	cfg.OllamaPort = 70000
	cfg.BufferSize = 16
	require.Len(t, ValidateConfig(cfg), 3)
	require.Empty(t, ValidateConfig(nil))
}
