// ABOUTME: Catalog hot reload and provider change watching
// ABOUTME: Swaps the provider/tool sets and fans change notifications into the engine

package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/carrelhq/carrel/internal/catalog"
	"github.com/carrelhq/carrel/internal/provider"
)

// reloadDebounce coalesces the burst of fsnotify events an editor
// produces into a single reload.
const reloadDebounce = 250 * time.Millisecond

// startProviderWatchers starts a Watch goroutine for every provider
// that supports watching. Changes become resources/updated
// notifications for subscribed sessions.
func (g *Gateway) startProviderWatchers(ctx context.Context) {
	g.watchMu.Lock()
	defer g.watchMu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	g.watchCancel = cancel

	for _, info := range g.providers.Sources() {
		p, ok := g.providers.Get(info.ID)
		if !ok {
			continue
		}
		watcher, ok := p.(provider.Watcher)
		if !ok {
			continue
		}

		sourceID := info.ID
		g.watchWG.Add(1)
		go func() {
			defer g.watchWG.Done()
			err := watcher.Watch(watchCtx, func(ch provider.Change) {
				g.logger.Debug("source change",
					"source", sourceID,
					"record", ch.RecordID,
					"kind", ch.Kind.String())
				g.engine.ResourceUpdated(watchCtx, sourceID, ch.RecordID)
			})
			if err != nil && watchCtx.Err() == nil {
				g.logger.Warn("source watcher stopped", "source", sourceID, "error", err)
			}
		}()
	}
}

// stopProviderWatchers cancels the running watchers and waits for them.
func (g *Gateway) stopProviderWatchers() {
	g.watchMu.Lock()
	cancel := g.watchCancel
	g.watchCancel = nil
	g.watchMu.Unlock()

	if cancel != nil {
		cancel()
	}
	g.watchWG.Wait()
}

// watchCatalog watches the catalog file and reloads on change. The
// watch is on the directory: editors replace files rather than write
// them in place, which kills a file-level watch.
func (g *Gateway) watchCatalog(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		g.logger.Error("catalog watch unavailable", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(g.catalogPath)
	if err := watcher.Add(dir); err != nil {
		g.logger.Error("catalog watch failed", "dir", dir, "error", err)
		return
	}
	g.logger.Info("watching catalog", "path", g.catalogPath)

	target := filepath.Clean(g.catalogPath)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := g.reloadCatalog(ctx); err != nil {
				g.logger.Error("catalog reload failed, keeping previous set", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			g.logger.Warn("catalog watch error", "error", err)
		}
	}
}

// reloadCatalog re-reads the catalog and swaps the provider and tool
// sets. A failure at any stage leaves the running sets untouched.
func (g *Gateway) reloadCatalog(ctx context.Context) error {
	cat, err := catalog.Load(g.catalogPath)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	built, err := cat.BuildProviders(g.logger.With("component", "providers"))
	if err != nil {
		return fmt.Errorf("building providers: %w", err)
	}

	g.stopProviderWatchers()
	if err := g.providers.ReplaceAll(built); err != nil {
		g.startProviderWatchers(ctx)
		return fmt.Errorf("swapping providers: %w", err)
	}

	execs, err := cat.BuildTools(g.providers, g.logger.With("component", "tools"))
	if err == nil {
		err = g.tools.SwapAll(execs)
	}
	if err != nil {
		// Providers already swapped; tools keep the previous set. The
		// registries stay internally consistent either way.
		g.startProviderWatchers(ctx)
		g.engine.NotifyResourcesListChanged(ctx)
		return fmt.Errorf("swapping tools: %w", err)
	}

	g.startProviderWatchers(ctx)
	g.engine.NotifyResourcesListChanged(ctx)
	g.engine.NotifyToolsListChanged(ctx)
	g.logger.Info("catalog reloaded",
		"sources", len(g.providers.Sources()),
		"tools", g.tools.Count())
	return nil
}
