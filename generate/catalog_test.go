package generate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogRender(t *testing.T) {
	out, err := DefaultCatalog().Render()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Unity MCP Server Tools and Best Practices:",
		"1. **Editor Control**",
		"   - `get_current_scene()`, `get_scene_list()` - Get scene details",
		"   - `create_object(name, type)` - Create objects (e.g. `CUBE`, `SPHERE`, `EMPTY`, `CAMERA`)",
		"   - Use RGB colors (0.0-1.0 range)",
		"7. **Best Practices**",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered catalog missing %q", want)
		}
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("rendered catalog should not end with a newline")
	}
}

func TestParseCatalogNoSections(t *testing.T) {
	if _, err := ParseCatalog(`title = "empty"`); err == nil {
		t.Error("expected error for catalog without sections")
	}
}

func TestParseCatalogInvalid(t *testing.T) {
	if _, err := ParseCatalog("[[section]\nname ="); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestLoadCatalogOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functions.toml")
	data := `title = "Custom"

[[section]]
name = "Lights"
[[section.function]]
calls = ["create_light(name, kind)"]
help = "Add a light"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := LoadCatalog(path).Render()
	if err != nil {
		t.Fatal(err)
	}
	want := "Custom:\n\n1. **Lights**\n   - `create_light(name, kind)` - Add a light"
	if out != want {
		t.Errorf("Render() = %q, want %q", out, want)
	}
}

func TestLoadCatalogFallsBack(t *testing.T) {
	dir := t.TempDir()

	missing := LoadCatalog(filepath.Join(dir, "missing.toml"))
	if missing.Title != DefaultCatalog().Title {
		t.Errorf("missing file should yield the default catalog, got %q", missing.Title)
	}

	bad := filepath.Join(dir, "bad.toml")
	os.WriteFile(bad, []byte("not = [valid"), 0644)
	if c := LoadCatalog(bad); c.Title != DefaultCatalog().Title {
		t.Errorf("invalid file should yield the default catalog, got %q", c.Title)
	}
}
