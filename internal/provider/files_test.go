// ABOUTME: Tests for the filesystem provider: globbing, filters, and decoding.
// ABOUTME: Exercises traversal rejection and markdown rendering on temp dirs.

package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newTestFilesProvider(t *testing.T, cfg FilesConfig) *FilesProvider {
	t.Helper()
	p, err := NewFilesProvider(cfg, discardLogger())
	require.NoError(t, err)
	return p
}

func TestFilesProviderListsMatchingFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "alpha.md", "# Alpha")
	writeFile(t, root, "beta.txt", "beta")
	writeFile(t, root, "skip.bin", "\x00\x01")
	writeFile(t, root, "sub/gamma.md", "# Gamma")

	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: root})

	records, err := p.FetchRecords(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "alpha.md", records[0].ID)
	assert.Equal(t, "beta.txt", records[1].ID)
	assert.Equal(t, "sub/gamma.md", records[2].ID)
	assert.Equal(t, "text/markdown", records[0].MIMEType)
	assert.Equal(t, "text/plain", records[1].MIMEType)
	assert.Equal(t, "alpha", records[0].Title)
	assert.Empty(t, records[0].Text, "listing should return headers only")
}

func TestFilesProviderFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "guide.md", "guide")
	writeFile(t, root, "guide-advanced.md", "advanced")
	writeFile(t, root, "notes.md", "notes")

	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: root})

	t.Run("eq", func(t *testing.T) {
		records, err := p.FetchRecords(context.Background(), Query{
			Filters: []Filter{{Field: "id", Op: OpEq, Value: "notes.md"}},
		})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "notes.md", records[0].ID)
	})

	t.Run("prefix", func(t *testing.T) {
		records, err := p.FetchRecords(context.Background(), Query{
			Filters: []Filter{{Field: "title", Op: OpPrefix, Value: "guide"}},
		})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("contains", func(t *testing.T) {
		records, err := p.FetchRecords(context.Background(), Query{
			Filters: []Filter{{Field: "id", Op: OpContains, Value: "advanced"}},
		})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := p.FetchRecords(context.Background(), Query{
			Filters: []Filter{{Field: "owner", Op: OpEq, Value: "x"}},
		})
		assert.Error(t, err)
	})
}

func TestFilesProviderSortAndLimit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "a")
	writeFile(t, root, "b.md", "b")
	writeFile(t, root, "c.md", "c")

	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: root})

	records, err := p.FetchRecords(context.Background(), Query{
		Sort:  &Sort{Field: "id", Descending: true},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c.md", records[0].ID)
	assert.Equal(t, "b.md", records[1].ID)
}

func TestFilesProviderFetchRecord(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sub/readme.md", "# Hello\n\nBody text.")

	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: root})

	rec, err := p.FetchRecord(context.Background(), "sub/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "docs", rec.SourceID)
	assert.Equal(t, "readme", rec.Title)
	assert.Contains(t, rec.Text, "Body text.")
	assert.Empty(t, rec.HTML, "rendering is off by default")
	assert.Equal(t, "carrel://docs/sub/readme.md", rec.URI())
}

func TestFilesProviderRendersMarkdown(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "page.md", "# Heading\n\nParagraph.")

	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: root, RenderHTML: true})

	rec, err := p.FetchRecord(context.Background(), "page.md")
	require.NoError(t, err)
	assert.Contains(t, rec.HTML, "<h1>Heading</h1>")
	assert.Contains(t, rec.Text, "# Heading", "raw text stays available")
}

func TestFilesProviderRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.md", "fine")

	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: root})

	for _, id := range []string{
		"../secret.md",
		"/etc/passwd",
		"a/../../escape.md",
		"..",
		"dir\\..\\..\\escape.md",
	} {
		_, err := p.FetchRecord(context.Background(), id)
		assert.ErrorIs(t, err, ErrRecordNotFound, "id %q should not resolve", id)
	}
}

func TestFilesProviderHidesNonIncludedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "visible.md", "ok")
	writeFile(t, root, "secrets.env", "TOKEN=hunter2")

	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: root})

	_, err := p.FetchRecord(context.Background(), "secrets.env")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestFilesProviderBinaryContent(t *testing.T) {
	root := t.TempDir()
	raw := []byte{0x00, 0x01, 0x02, 0xFF}
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.txt"), raw, 0o644))

	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: root})

	rec, err := p.FetchRecord(context.Background(), "blob.txt")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", rec.MIMEType)
	assert.Equal(t, raw, rec.Blob)
	assert.Empty(t, rec.Text)
}

func TestDecodeText(t *testing.T) {
	t.Run("plain utf8", func(t *testing.T) {
		text, ok := decodeText([]byte("héllo"))
		require.True(t, ok)
		assert.Equal(t, "héllo", text)
	})

	t.Run("utf8 bom stripped", func(t *testing.T) {
		text, ok := decodeText(append([]byte{0xEF, 0xBB, 0xBF}, []byte("bom")...))
		require.True(t, ok)
		assert.Equal(t, "bom", text)
	})

	t.Run("utf16 little endian", func(t *testing.T) {
		text, ok := decodeText([]byte{0xFF, 0xFE, 'h', 0, 'i', 0})
		require.True(t, ok)
		assert.Equal(t, "hi", text)
	})

	t.Run("utf16 big endian", func(t *testing.T) {
		text, ok := decodeText([]byte{0xFE, 0xFF, 0, 'h', 0, 'i'})
		require.True(t, ok)
		assert.Equal(t, "hi", text)
	})

	t.Run("latin1 fallback", func(t *testing.T) {
		text, ok := decodeText([]byte{'c', 'a', 'f', 0xE9})
		require.True(t, ok)
		assert.Equal(t, "café", text)
	})

	t.Run("binary", func(t *testing.T) {
		_, ok := decodeText([]byte{'a', 0x00, 'b'})
		assert.False(t, ok)
	})
}

func TestFilesProviderMissingRoot(t *testing.T) {
	_, err := NewFilesProvider(FilesConfig{
		ID:   "docs",
		Root: filepath.Join(t.TempDir(), "nope"),
	}, discardLogger())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "root not found"))
}

func TestFilesProviderUnknownRecord(t *testing.T) {
	p := newTestFilesProvider(t, FilesConfig{ID: "docs", Root: t.TempDir()})
	_, err := p.FetchRecord(context.Background(), "missing.md")
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}
