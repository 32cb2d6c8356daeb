// ABOUTME: Filesystem record provider with glob selection and change watching.
// ABOUTME: Transcodes legacy encodings and optionally renders markdown to HTML.

package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/yuin/goldmark"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FilesConfig maps a directory tree onto the record model. Record ids
// are slash-separated paths relative to Root.
type FilesConfig struct {
	ID          string
	Root        string
	Include     []string
	RenderHTML  bool
	Description string
}

func (c *FilesConfig) applyDefaults() {
	if len(c.Include) == 0 {
		c.Include = []string{"**/*.md", "**/*.txt"}
	}
}

// FilesProvider serves records from files under a root directory.
type FilesProvider struct {
	cfg    FilesConfig
	root   string
	logger *slog.Logger
	md     goldmark.Markdown
}

// NewFilesProvider validates the root directory and include patterns.
func NewFilesProvider(cfg FilesConfig, logger *slog.Logger) (*FilesProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("source %s: resolve root: %w", cfg.ID, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source %s: root not found at %s: %w", cfg.ID, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s: root %s is not a directory", cfg.ID, root)
	}
	for _, pattern := range cfg.Include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("source %s: invalid include pattern %q", cfg.ID, pattern)
		}
	}

	logger.Info("file source opened",
		"source", cfg.ID,
		"root", root,
		"patterns", strings.Join(cfg.Include, ","))

	return &FilesProvider{
		cfg:    cfg,
		root:   root,
		logger: logger,
		md:     goldmark.New(),
	}, nil
}

func (p *FilesProvider) SourceID() string {
	return p.cfg.ID
}

func (p *FilesProvider) Describe() SourceInfo {
	return SourceInfo{
		ID:          p.cfg.ID,
		Kind:        "files",
		Description: p.cfg.Description,
		Path:        p.root,
	}
}

// listPaths collects every file matching the include patterns,
// deduplicated and sorted.
func (p *FilesProvider) listPaths() ([]string, error) {
	fsys := os.DirFS(p.root)
	seen := make(map[string]struct{})
	for _, pattern := range p.cfg.Include {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := fs.Stat(fsys, m)
			if err != nil || info.IsDir() {
				continue
			}
			seen[m] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for m := range seen {
		paths = append(paths, m)
	}
	sort.Strings(paths)
	return paths, nil
}

func (p *FilesProvider) matchesInclude(rel string) bool {
	for _, pattern := range p.cfg.Include {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (p *FilesProvider) FetchRecords(ctx context.Context, q Query) ([]Record, error) {
	paths, err := p.listPaths()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := fs.Stat(os.DirFS(p.root), rel)
		if err != nil {
			continue
		}
		rec := Record{
			SourceID:   p.cfg.ID,
			ID:         rel,
			Title:      titleFor(rel),
			MIMEType:   mimeFor(rel),
			ModifiedAt: info.ModTime(),
		}
		keep, err := matchesFilters(&rec, q.Filters)
		if err != nil {
			return nil, err
		}
		if keep {
			records = append(records, rec)
		}
	}

	if err := sortRecords(records, q.Sort); err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records, nil
}

func (p *FilesProvider) FetchRecord(ctx context.Context, id string) (*Record, error) {
	rel, err := p.resolve(id)
	if err != nil {
		return nil, err
	}

	full := filepath.Join(p.root, filepath.FromSlash(rel))
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, p.cfg.ID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", id, err)
	}

	rec := &Record{
		SourceID:   p.cfg.ID,
		ID:         rel,
		Title:      titleFor(rel),
		MIMEType:   mimeFor(rel),
		ModifiedAt: info.ModTime(),
	}

	text, isText := decodeText(data)
	if !isText {
		rec.MIMEType = "application/octet-stream"
		rec.Blob = data
		return rec, nil
	}
	rec.Text = text

	if p.cfg.RenderHTML && strings.HasSuffix(rel, ".md") {
		var buf bytes.Buffer
		if err := p.md.Convert([]byte(text), &buf); err != nil {
			p.logger.Warn("markdown render failed", "source", p.cfg.ID, "record", rel, "error", err)
		} else {
			rec.HTML = buf.String()
		}
	}
	return rec, nil
}

// resolve checks that a record id is a clean relative path inside the
// root and matches an include pattern. Anything else is reported as a
// missing record.
func (p *FilesProvider) resolve(id string) (string, error) {
	if id == "" || strings.Contains(id, "\\") || path.IsAbs(id) {
		return "", fmt.Errorf("%w: %s/%s", ErrRecordNotFound, p.cfg.ID, id)
	}
	clean := path.Clean(id)
	if clean != id || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s/%s", ErrRecordNotFound, p.cfg.ID, id)
	}
	if !p.matchesInclude(clean) {
		return "", fmt.Errorf("%w: %s/%s", ErrRecordNotFound, p.cfg.ID, id)
	}
	return clean, nil
}

func (p *FilesProvider) Close() error {
	return nil
}

// Watch reports file changes under the root until ctx is done. New
// directories are added to the watch as they appear.
func (p *FilesProvider) Watch(ctx context.Context, fn func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(p.root, func(walked string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(walked)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", p.root, err)
	}

	p.logger.Info("watching file source", "source", p.cfg.ID, "root", p.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p.handleEvent(watcher, ev, fn)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("watch error", "source", p.cfg.ID, "error", werr)
		}
	}
}

func (p *FilesProvider) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event, fn func(Change)) {
	rel, err := filepath.Rel(p.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := watcher.Add(ev.Name); err != nil {
				p.logger.Warn("failed to watch new directory", "source", p.cfg.ID, "dir", rel, "error", err)
			}
			return
		}
	}

	if !p.matchesInclude(rel) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		fn(Change{RecordID: rel, Kind: ChangeAdded})
	case ev.Op&fsnotify.Write != 0:
		fn(Change{RecordID: rel, Kind: ChangeModified})
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		fn(Change{RecordID: rel, Kind: ChangeRemoved})
	}
}

func titleFor(rel string) string {
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}

func mimeFor(rel string) string {
	switch path.Ext(rel) {
	case ".md":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// decodeText converts file bytes to a string, handling UTF-16 BOMs and
// falling back to Latin-1 for legacy text. It reports false for
// content that looks binary.
func decodeText(data []byte) (string, bool) {
	if len(data) >= 2 {
		var dec *encoding.Decoder
		switch {
		case data[0] == 0xFF && data[1] == 0xFE:
			dec = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		case data[0] == 0xFE && data[1] == 0xFF:
			dec = unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		}
		if dec != nil {
			out, _, err := transform.Bytes(dec, data)
			if err != nil {
				return "", false
			}
			return string(out), true
		}
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if bytes.IndexByte(data, 0) >= 0 {
		return "", false
	}
	if utf8.Valid(data) {
		return string(data), true
	}

	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func matchesFilters(rec *Record, filters []Filter) (bool, error) {
	for _, f := range filters {
		var value string
		switch f.Field {
		case "id":
			value = rec.ID
		case "title":
			value = rec.Title
		default:
			return false, fmt.Errorf("unsupported filter field: %s", f.Field)
		}
		var ok bool
		switch f.Op {
		case OpEq:
			ok = value == f.Value
		case OpContains:
			ok = strings.Contains(value, f.Value)
		case OpPrefix:
			ok = strings.HasPrefix(value, f.Value)
		default:
			return false, fmt.Errorf("unsupported filter op: %s", f.Op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func sortRecords(records []Record, s *Sort) error {
	if s == nil {
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
		return nil
	}
	var less func(i, j int) bool
	switch s.Field {
	case "id":
		less = func(i, j int) bool { return records[i].ID < records[j].ID }
	case "title":
		less = func(i, j int) bool { return records[i].Title < records[j].Title }
	case "modified":
		less = func(i, j int) bool { return records[i].ModifiedAt.Before(records[j].ModifiedAt) }
	default:
		return fmt.Errorf("unsupported sort field: %s", s.Field)
	}
	if s.Descending {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.Slice(records, less)
	return nil
}
