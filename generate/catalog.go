package generate

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/cmdbridge/default"
)

// Catalog lists the editor functions advertised to the model.
type Catalog struct {
	Title    string           `toml:"title"`
	Sections []CatalogSection `toml:"section"`
}

// CatalogSection groups related functions under a heading.
type CatalogSection struct {
	Name      string            `toml:"name"`
	Notes     []string          `toml:"notes"`
	Functions []CatalogFunction `toml:"function"`
}

// CatalogFunction describes one or more call signatures sharing a help line.
type CatalogFunction struct {
	Calls []string `toml:"calls"`
	Help  string   `toml:"help"`
}

// ParseCatalog decodes a TOML function catalog.
func ParseCatalog(data string) (*Catalog, error) {
	var c Catalog
	md, err := toml.Decode(data, &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slog.Warn("unknown keys in function catalog", "keys", strings.Join(keys, ", "))
	}
	if len(c.Sections) == 0 {
		return nil, fmt.Errorf("function catalog has no sections")
	}
	return &c, nil
}

// DefaultCatalog returns the embedded function catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaults.FunctionsTOML)
	if err != nil {
		panic("generate: invalid embedded functions.toml: " + err.Error())
	}
	return c
}

// LoadCatalog loads the catalog at path, falling back to the embedded
// default when the file is absent or invalid.
func LoadCatalog(path string) *Catalog {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read function catalog, using default", "path", path, "error", err)
		}
		return DefaultCatalog()
	}
	c, err := ParseCatalog(string(data))
	if err != nil {
		slog.Warn("failed to parse function catalog, using default", "path", path, "error", err)
		return DefaultCatalog()
	}
	slog.Info("loaded custom function catalog", "path", path)
	return c
}

const catalogTemplate = `{{.Title}}:
{{range $i, $s := .Sections}}
{{inc $i}}. **{{$s.Name}}**
{{- range $s.Functions}}
   - {{codes .Calls}} - {{.Help}}
{{- end}}
{{- range $s.Notes}}
   - {{.}}
{{- end}}
{{- end}}
`

var catalogFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"codes": func(calls []string) string {
		quoted := make([]string, len(calls))
		for i, c := range calls {
			quoted[i] = "`" + c + "`"
		}
		return strings.Join(quoted, ", ")
	},
}

var catalogTmpl = template.Must(template.New("catalog").Funcs(catalogFuncs).Parse(catalogTemplate))

// Render formats the catalog as the markdown list embedded in the system prompt.
func (c *Catalog) Render() (string, error) {
	var buf strings.Builder
	if err := catalogTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), " \t\n"), nil
}
