package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/threadweave/threadweave/pkg/cerr"
)

// DebounceInterval is the delay after an fsnotify event before the
// changed file is re-read. Editors produce bursts of partial writes.
const DebounceInterval = 200 * time.Millisecond

// Watcher loads workflow definition YAML files from a local directory
// into a Registry and keeps the registry current as files change. With
// a repository attached, the definitions are also synced into storage
// so they can be executed by id.
type Watcher struct {
	dir      string
	registry *Registry
	repo     Repository
}

// NewWatcher builds a watcher. repo may be nil for registry-only use.
func NewWatcher(dir string, registry *Registry, repo Repository) *Watcher {
	return &Watcher{
		dir:      dir,
		registry: registry,
		repo:     repo,
	}
}

// LoadAll reads every definition file in the directory into the
// registry. Files that fail to parse or validate are skipped with a
// warning; one bad file must not take down the rest.
func (w *Watcher) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		w.loadFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// Start watches the directory until ctx is cancelled. Create and write
// events reload the file after a debounce; remove and rename events
// drop the definition whose file went away.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	slog.Info("workflow definition watcher started", "dir", w.dir)

	var (
		debounce *time.Timer
		pending  = make(map[string]struct{})
	)
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			slog.Info("workflow definition watcher stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDefinitionFile(filepath.Base(event.Name)) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.removeDefinition(ctx, definitionID(event.Name))
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[event.Name] = struct{}{}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(DebounceInterval, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			}
		case <-fire:
			for name := range pending {
				w.loadFile(ctx, name)
				delete(pending, name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("workflow definition watcher error", "error", err)
		}
	}
}

func (w *Watcher) loadFile(ctx context.Context, name string) {
	data, err := os.ReadFile(name)
	if err != nil {
		slog.Warn("failed to read workflow definition", "file", name, "error", err)
		return
	}
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		slog.Warn("failed to parse workflow definition", "file", name, "error", err)
		return
	}
	if d.ID == "" {
		d.ID = definitionID(name)
	}
	if err := d.ValidateShape(); err != nil {
		slog.Warn("invalid workflow definition", "file", name, "error", err)
		return
	}
	w.registry.Put(&d)
	w.persist(ctx, &d)
	slog.Info("workflow definition loaded", "id", d.ID, "steps", len(d.Steps))
}

// persist upserts the definition into the repository so `run <id>`
// resolves definitions the watcher has seen.
func (w *Watcher) persist(ctx context.Context, d *Definition) {
	if w.repo == nil {
		return
	}
	err := w.repo.Update(ctx, d)
	var ce *cerr.Error
	if errors.As(err, &ce) && ce.Code == cerr.NotFound {
		err = w.repo.Create(ctx, d)
	}
	if err != nil {
		slog.Warn("failed to persist workflow definition", "id", d.ID, "error", err)
	}
}

// removeDefinition drops a definition whose file went away. Files that
// never produced a loaded definition are ignored.
func (w *Watcher) removeDefinition(ctx context.Context, id string) {
	if _, ok := w.registry.Get(id); !ok {
		return
	}
	w.registry.Remove(id)
	if w.repo != nil {
		if err := w.repo.Delete(ctx, id); err != nil {
			slog.Warn("failed to delete workflow definition", "id", id, "error", err)
		}
	}
	slog.Info("workflow definition removed", "id", id)
}

func isDefinitionFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func definitionID(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base
}
