package registry

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/passrepo/depositorch/internal/logging"
)

// LoadFile parses a YAML registry document from path and loads it into r.
func LoadFile(r *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return r.Load(doc)
}

// Watch reloads r from path whenever the file changes on disk, using
// fsnotify. Watch starts its own watching goroutine and returns at once;
// calling the returned stop function ends that goroutine.
func Watch(r *Registry, path string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("registry: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registry: watch %s: %w", path, err)
	}

	log := logging.With("component", "registry")
	done := make(chan struct{})

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := LoadFile(r, path); err != nil {
					log.Warn("registry reload failed, keeping previous snapshot", "error", err)
					continue
				}
				log.Info("registry reloaded", "path", path)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("registry watcher error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
