package assets

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/crown3d/crown/engine/core"
)

// MaterialWatcher reloads materials when their files change on disk.
type MaterialWatcher struct {
	registry *MaterialRegistry
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// WatchMaterials starts watching the registry's root directory for .mat file
// changes and hot-reloads them. Close stops the watcher.
func WatchMaterials(registry *MaterialRegistry) (*MaterialWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(registry.Root()); err != nil {
		w.Close()
		return nil, err
	}

	mw := &MaterialWatcher{
		registry: registry,
		watcher:  w,
		done:     make(chan struct{}),
	}
	go mw.run()
	return mw, nil
}

func (mw *MaterialWatcher) run() {
	defer close(mw.done)
	for {
		select {
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), MaterialFileExtension) {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(event.Name), filepath.Ext(event.Name))
			if err := mw.registry.Reload(name); err != nil {
				core.LogWarn("Material '%s' reload failed: %s", name, err)
			}
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			core.LogWarn("Material watcher error: %s", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (mw *MaterialWatcher) Close() error {
	err := mw.watcher.Close()
	<-mw.done
	return err
}
