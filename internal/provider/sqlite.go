// ABOUTME: SQLite-backed record provider reading an existing table.
// ABOUTME: Column and table names come from config and are identifier-checked.

package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// identPattern guards table and column names taken from the catalog.
// Values are interpolated into SQL text, so only plain identifiers are
// allowed through.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sqliteTimeFormats are tried in order when parsing a modified column.
var sqliteTimeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// SQLiteConfig maps one database table onto the record model.
type SQLiteConfig struct {
	ID             string
	Path           string
	Table          string
	IDColumn       string
	TitleColumn    string
	TextColumn     string
	ModifiedColumn string
	MIMEType       string
	Description    string
}

func (c *SQLiteConfig) applyDefaults() {
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.TitleColumn == "" {
		c.TitleColumn = "title"
	}
	if c.TextColumn == "" {
		c.TextColumn = "body"
	}
	if c.MIMEType == "" {
		c.MIMEType = "text/plain"
	}
}

// SQLiteProvider serves records out of a single SQLite table.
type SQLiteProvider struct {
	cfg    SQLiteConfig
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteProvider opens the database and verifies the config. The
// database file must already exist.
func NewSQLiteProvider(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	if cfg.Table == "" {
		return nil, fmt.Errorf("source %s: table is required", cfg.ID)
	}
	for _, ident := range []string{cfg.Table, cfg.IDColumn, cfg.TitleColumn, cfg.TextColumn} {
		if !identPattern.MatchString(ident) {
			return nil, fmt.Errorf("source %s: invalid identifier %q", cfg.ID, ident)
		}
	}
	if cfg.ModifiedColumn != "" && !identPattern.MatchString(cfg.ModifiedColumn) {
		return nil, fmt.Errorf("source %s: invalid identifier %q", cfg.ID, cfg.ModifiedColumn)
	}

	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("source %s: database not found at %s: %w", cfg.ID, cfg.Path, err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	logger.Info("SQLite source opened",
		"source", cfg.ID,
		"path", cfg.Path,
		"table", cfg.Table)

	return &SQLiteProvider{cfg: cfg, db: db, logger: logger}, nil
}

func (p *SQLiteProvider) SourceID() string {
	return p.cfg.ID
}

func (p *SQLiteProvider) Describe() SourceInfo {
	return SourceInfo{
		ID:          p.cfg.ID,
		Kind:        "sqlite",
		Description: p.cfg.Description,
		Path:        p.cfg.Path,
	}
}

// columnFor maps a query field name onto a configured column.
func (p *SQLiteProvider) columnFor(field string) (string, error) {
	switch field {
	case "id":
		return p.cfg.IDColumn, nil
	case "title":
		return p.cfg.TitleColumn, nil
	case "text":
		return p.cfg.TextColumn, nil
	case "modified":
		if p.cfg.ModifiedColumn == "" {
			return "", fmt.Errorf("source %s has no modified column", p.cfg.ID)
		}
		return p.cfg.ModifiedColumn, nil
	default:
		return "", fmt.Errorf("unsupported filter field: %s", field)
	}
}

func (p *SQLiteProvider) FetchRecords(ctx context.Context, q Query) ([]Record, error) {
	cols := []string{p.cfg.IDColumn, p.cfg.TitleColumn}
	if p.cfg.ModifiedColumn != "" {
		cols = append(cols, p.cfg.ModifiedColumn)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(cols, ", "), p.cfg.Table)

	var args []any
	var wheres []string
	for _, f := range q.Filters {
		col, err := p.columnFor(f.Field)
		if err != nil {
			return nil, err
		}
		switch f.Op {
		case OpEq:
			wheres = append(wheres, col+" = ?")
		case OpContains:
			wheres = append(wheres, col+" LIKE '%' || ? || '%'")
		case OpPrefix:
			wheres = append(wheres, col+" LIKE ? || '%'")
		default:
			return nil, fmt.Errorf("unsupported filter op: %s", f.Op)
		}
		args = append(args, f.Value)
	}
	if len(wheres) > 0 {
		sb.WriteString(" WHERE " + strings.Join(wheres, " AND "))
	}

	orderCol := p.cfg.IDColumn
	orderDir := "ASC"
	if q.Sort != nil {
		col, err := p.columnFor(q.Sort.Field)
		if err != nil {
			return nil, err
		}
		orderCol = col
		if q.Sort.Descending {
			orderDir = "DESC"
		}
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s", orderCol, orderDir)

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", p.cfg.Table, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id, title string
		var modified sql.NullString
		dests := []any{&id, &title}
		if p.cfg.ModifiedColumn != "" {
			dests = append(dests, &modified)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, Record{
			SourceID:   p.cfg.ID,
			ID:         id,
			Title:      title,
			MIMEType:   p.cfg.MIMEType,
			ModifiedAt: parseSQLiteTime(modified),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

func (p *SQLiteProvider) FetchRecord(ctx context.Context, id string) (*Record, error) {
	cols := []string{p.cfg.IDColumn, p.cfg.TitleColumn, p.cfg.TextColumn}
	if p.cfg.ModifiedColumn != "" {
		cols = append(cols, p.cfg.ModifiedColumn)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(cols, ", "), p.cfg.Table, p.cfg.IDColumn)

	var recID, title, text string
	var modified sql.NullString
	dests := []any{&recID, &title, &text}
	if p.cfg.ModifiedColumn != "" {
		dests = append(dests, &modified)
	}

	err := p.db.QueryRowContext(ctx, query, id).Scan(dests...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, p.cfg.ID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch record %s: %w", id, err)
	}

	return &Record{
		SourceID:   p.cfg.ID,
		ID:         recID,
		Title:      title,
		MIMEType:   p.cfg.MIMEType,
		Text:       text,
		ModifiedAt: parseSQLiteTime(modified),
	}, nil
}

func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func parseSQLiteTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	for _, layout := range sqliteTimeFormats {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t
		}
	}
	return time.Time{}
}

// sampleSchema seeds a new database so a fresh install has something
// to serve.
const sampleSchema = `
CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

var sampleNotes = []struct {
	id, title, body string
}{
	{"welcome", "Welcome", "This note lives in the sample SQLite source."},
	{"queries", "Query examples", "Use the records_query tool with filters on id or title."},
	{"uris", "Resource URIs", "Every record is addressable as carrel://<source>/<id>."},
}

// CreateSampleDatabase writes a small seeded database at path,
// creating parent directories as needed. Existing rows are left
// alone.
func CreateSampleDatabase(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sampleSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for _, n := range sampleNotes {
		if _, err := db.Exec(
			"INSERT OR IGNORE INTO notes (id, title, body) VALUES (?, ?, ?)",
			n.id, n.title, n.body,
		); err != nil {
			return fmt.Errorf("seed note %s: %w", n.id, err)
		}
	}
	return nil
}
