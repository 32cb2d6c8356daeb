// ABOUTME: Scaffolding for a fresh workspace: sample catalog, database, and docs.
// ABOUTME: Backs the init subcommand so a new install serves real content.

package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carrelhq/carrel/internal/provider"
)

const sampleCatalog = `# Carrel catalog. Sources become resources, tools become callable.

[[source]]
id = "notes"
kind = "sqlite"
path = "sample.db"
table = "notes"
modified_column = "updated_at"
description = "Sample notes database"

[[source]]
id = "docs"
kind = "files"
path = "docs"
include = ["**/*.md"]
render_html = true
description = "Markdown documents"

[[tool]]
name = "count_records"
description = "Count the records in a source"
input_schema = '''
{
	"type": "object",
	"properties": {
		"source": {"type": "string"}
	},
	"required": ["source"]
}
'''
script = '''
var recs = queryRecords(args.source, {});
return "source " + args.source + " has " + recs.length + " records";
'''
`

const sampleDoc = `# Welcome

This directory is served by the ` + "`docs`" + ` file source. Every
markdown file here is addressable as a resource, for example
` + "`carrel://docs/welcome.md`" + `.

Edit this file while the server runs and subscribed clients get a
resource update notification.
`

// WriteSample scaffolds a working catalog under dir: catalog.toml, a
// seeded SQLite database, and a docs directory. Existing files are not
// overwritten.
func WriteSample(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	catalogPath := filepath.Join(dir, "catalog.toml")
	if _, err := os.Stat(catalogPath); err == nil {
		return "", fmt.Errorf("catalog already exists at %s", catalogPath)
	}

	if err := provider.CreateSampleDatabase(filepath.Join(dir, "sample.db")); err != nil {
		return "", fmt.Errorf("create sample database: %w", err)
	}

	docsDir := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		return "", fmt.Errorf("create docs directory: %w", err)
	}
	welcomePath := filepath.Join(docsDir, "welcome.md")
	if _, err := os.Stat(welcomePath); os.IsNotExist(err) {
		if err := os.WriteFile(welcomePath, []byte(sampleDoc), 0o644); err != nil {
			return "", fmt.Errorf("write sample doc: %w", err)
		}
	}

	if err := os.WriteFile(catalogPath, []byte(sampleCatalog), 0o644); err != nil {
		return "", fmt.Errorf("write catalog: %w", err)
	}
	return catalogPath, nil
}
