// ABOUTME: TOML catalog declaring the sources and tools a server exposes.
// ABOUTME: Loads, validates, and builds the provider and tool sets.

package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/carrelhq/carrel/internal/provider"
	"github.com/carrelhq/carrel/internal/tools"
)

// toolNamePattern constrains catalog tool names to what clients can
// reliably address.
var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// reservedToolNames are taken by the built-in tools.
var reservedToolNames = map[string]bool{
	"records_query": true,
	"records_get":   true,
}

// Catalog is the parsed catalog file.
type Catalog struct {
	Sources []SourceConfig `toml:"source"`
	Tools   []ToolConfig   `toml:"tool"`

	dir string
}

// SourceConfig declares one record source. Kind selects which of the
// remaining fields apply.
type SourceConfig struct {
	ID          string `toml:"id"`
	Kind        string `toml:"kind"`
	Path        string `toml:"path"`
	Description string `toml:"description"`

	// kind = "sqlite"
	Table          string `toml:"table"`
	IDColumn       string `toml:"id_column"`
	TitleColumn    string `toml:"title_column"`
	TextColumn     string `toml:"text_column"`
	ModifiedColumn string `toml:"modified_column"`
	MIMEType       string `toml:"mime_type"`

	// kind = "files"
	Include    []string `toml:"include"`
	RenderHTML bool     `toml:"render_html"`
}

// ToolConfig declares one script tool. Exactly one of Script and
// ScriptFile must be set.
type ToolConfig struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Script      string `toml:"script"`
	ScriptFile  string `toml:"script_file"`
	InputSchema string `toml:"input_schema"`
	TimeoutRaw  string `toml:"timeout"`

	Timeout time.Duration `toml:"-"`
}

// Load reads and validates a catalog file. Relative paths inside the
// catalog resolve against the catalog's own directory.
func Load(path string) (*Catalog, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}

	var cat Catalog
	if _, err := toml.DecodeFile(abs, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	cat.dir = filepath.Dir(abs)

	if err := cat.parseDurations(); err != nil {
		return nil, err
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &cat, nil
}

func (c *Catalog) parseDurations() error {
	for i := range c.Tools {
		t := &c.Tools[i]
		if t.TimeoutRaw == "" {
			continue
		}
		d, err := time.ParseDuration(t.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("tool %s: invalid timeout %q: %w", t.Name, t.TimeoutRaw, err)
		}
		t.Timeout = d
	}
	return nil
}

// Validate checks the catalog for structural problems before anything
// is built from it.
func (c *Catalog) Validate() error {
	sourceIDs := make(map[string]bool)
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("source %d: id is required", i)
		}
		if sourceIDs[s.ID] {
			return fmt.Errorf("source %s: duplicate id", s.ID)
		}
		sourceIDs[s.ID] = true

		switch s.Kind {
		case "sqlite":
			if s.Table == "" {
				return fmt.Errorf("source %s: table is required for sqlite sources", s.ID)
			}
		case "files":
		default:
			return fmt.Errorf("source %s: unknown kind %q (want sqlite or files)", s.ID, s.Kind)
		}
		if s.Path == "" {
			return fmt.Errorf("source %s: path is required", s.ID)
		}
	}

	toolNames := make(map[string]bool)
	for i, t := range c.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool %d: name is required", i)
		}
		if !toolNamePattern.MatchString(t.Name) {
			return fmt.Errorf("tool %s: name must match %s", t.Name, toolNamePattern)
		}
		if reservedToolNames[t.Name] {
			return fmt.Errorf("tool %s: name is reserved for a built-in tool", t.Name)
		}
		if toolNames[t.Name] {
			return fmt.Errorf("tool %s: duplicate name", t.Name)
		}
		toolNames[t.Name] = true

		if (t.Script == "") == (t.ScriptFile == "") {
			return fmt.Errorf("tool %s: exactly one of script and script_file is required", t.Name)
		}
		if t.InputSchema != "" && !json.Valid([]byte(t.InputSchema)) {
			return fmt.Errorf("tool %s: input_schema is not valid JSON", t.Name)
		}
	}
	return nil
}

// resolve joins a catalog-relative path against the catalog directory.
func (c *Catalog) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.dir, path)
}

// BuildProviders constructs a provider per source. On failure the
// providers built so far are closed.
func (c *Catalog) BuildProviders(logger *slog.Logger) ([]provider.Provider, error) {
	var built []provider.Provider
	fail := func(err error) ([]provider.Provider, error) {
		for _, p := range built {
			p.Close()
		}
		return nil, err
	}

	for _, s := range c.Sources {
		switch s.Kind {
		case "sqlite":
			p, err := provider.NewSQLiteProvider(provider.SQLiteConfig{
				ID:             s.ID,
				Path:           c.resolve(s.Path),
				Table:          s.Table,
				IDColumn:       s.IDColumn,
				TitleColumn:    s.TitleColumn,
				TextColumn:     s.TextColumn,
				ModifiedColumn: s.ModifiedColumn,
				MIMEType:       s.MIMEType,
				Description:    s.Description,
			}, logger)
			if err != nil {
				return fail(err)
			}
			built = append(built, p)
		case "files":
			p, err := provider.NewFilesProvider(provider.FilesConfig{
				ID:          s.ID,
				Root:        c.resolve(s.Path),
				Include:     s.Include,
				RenderHTML:  s.RenderHTML,
				Description: s.Description,
			}, logger)
			if err != nil {
				return fail(err)
			}
			built = append(built, p)
		}
	}
	return built, nil
}

// BuildTools constructs the built-in tools plus every catalog script
// tool.
func (c *Catalog) BuildTools(fetcher tools.RecordFetcher, logger *slog.Logger) ([]tools.Executor, error) {
	execs := []tools.Executor{
		tools.NewQueryTool(fetcher),
		tools.NewGetTool(fetcher),
	}

	for _, t := range c.Tools {
		script := t.Script
		if t.ScriptFile != "" {
			data, err := os.ReadFile(c.resolve(t.ScriptFile))
			if err != nil {
				return nil, fmt.Errorf("tool %s: read script: %w", t.Name, err)
			}
			script = string(data)
		}
		execs = append(execs, tools.NewScriptTool(
			t.Name,
			t.Description,
			json.RawMessage(t.InputSchema),
			script,
			t.Timeout,
			fetcher,
			logger,
		))
	}
	return execs, nil
}
