// ABOUTME: Tests for gateway composition, health output, and catalog reload.
// ABOUTME: Builds real gateways from temp catalogs without opening listeners.

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrelhq/carrel/internal/auth"
	"github.com/carrelhq/carrel/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testCatalog = `
[[source]]
id = "docs"
kind = "files"
path = "docs"
include = ["**/*.md"]
description = "Test documents"
`

const testCatalogWithTool = testCatalog + `
[[tool]]
name = "shout"
description = "Uppercase a string"
input_schema = '{"type":"object"}'
script = 'return (args.text || "").toUpperCase();'
`

// writeWorkspace lays out a catalog plus its docs directory and
// returns a config pointing at it.
func writeWorkspace(t *testing.T, catalogContent string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	docsDir := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "a.md"), []byte("# A"), 0o644))

	catalogPath := filepath.Join(dir, "catalog.toml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalogContent), 0o644))

	cfg := &config.Config{}
	cfg.Catalog.Path = catalogPath
	cfg.Server.WSAddr = "127.0.0.1:0"
	cfg.Resources.PageSize = 10
	cfg.Auth.Mode = config.AuthModeNone
	cfg.ServerInfo.Name = "carrel-test"
	cfg.ServerInfo.Version = "0.0.1"
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	g, err := New(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		g.transports.CloseAll()
		_ = g.providers.CloseAll()
		if g.sshVerifier != nil {
			g.sshVerifier.Close()
		}
	})
	return g
}

func TestNew_BuildsFromCatalog(t *testing.T) {
	g := newTestGateway(t, writeWorkspace(t, testCatalogWithTool))

	sources := g.providers.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, "docs", sources[0].ID)

	// Built-ins plus the script tool.
	assert.Equal(t, 3, g.tools.Count())
	_, ok := g.tools.Get("shout")
	assert.True(t, ok)

	// The full method surface is registered.
	assert.Contains(t, g.handlers.Methods(), "initialize")
	assert.Contains(t, g.handlers.Methods(), "tools/call")
	assert.Contains(t, g.handlers.Methods(), "resources/read")
}

func TestNew_MissingCatalog(t *testing.T) {
	cfg := writeWorkspace(t, testCatalog)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "absent.toml")

	_, err := New(cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog")
}

func TestHandleHealthz(t *testing.T) {
	g := newTestGateway(t, writeWorkspace(t, testCatalog))

	rec := httptest.NewRecorder()
	g.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "carrel-test", status.Name)
	assert.Equal(t, 1, status.Sources)
	assert.Equal(t, 2, status.Tools)
	assert.Equal(t, 0, status.Connections)
}

func TestBuildAuthenticator(t *testing.T) {
	t.Run("token mode", func(t *testing.T) {
		cfg := writeWorkspace(t, testCatalog)
		cfg.Auth.Mode = config.AuthModeToken
		cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"

		g := newTestGateway(t, cfg)
		a, err := g.buildAuthenticator()
		require.NoError(t, err)
		assert.IsType(t, &auth.TokenAuthenticator{}, a)
	})

	t.Run("ssh mode without key file", func(t *testing.T) {
		cfg := writeWorkspace(t, testCatalog)
		cfg.Auth.Mode = config.AuthModeSSH
		cfg.Auth.AuthorizedKeys = filepath.Join(t.TempDir(), "absent_keys")

		g := newTestGateway(t, cfg)
		_, err := g.buildAuthenticator()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authorized keys")
	})
}

func TestReloadCatalog(t *testing.T) {
	cfg := writeWorkspace(t, testCatalog)
	g := newTestGateway(t, cfg)

	require.Equal(t, 2, g.tools.Count())

	// Grow the catalog and reload.
	require.NoError(t, os.WriteFile(cfg.Catalog.Path, []byte(testCatalogWithTool), 0o644))
	require.NoError(t, g.reloadCatalog(context.Background()))

	assert.Equal(t, 3, g.tools.Count())
	_, ok := g.tools.Get("shout")
	assert.True(t, ok)

	t.Run("broken catalog keeps previous set", func(t *testing.T) {
		require.NoError(t, os.WriteFile(cfg.Catalog.Path, []byte("[[source]]\nid ="), 0o644))
		require.Error(t, g.reloadCatalog(context.Background()))
		assert.Equal(t, 3, g.tools.Count(), "tool set must survive a failed reload")
		assert.Len(t, g.providers.Sources(), 1, "provider set must survive a failed reload")
	})
}
