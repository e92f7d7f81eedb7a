// Package watcher turns filesystem events and git worktree status into
// incremental changesets for the indexing pipeline.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/bombe/internal/scanner"
	"github.com/dshills/bombe/pkg/types"
)

const debounceWindow = 500 * time.Millisecond

// Watcher accumulates fsnotify events into debounced FileChange batches.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher

	// Changes receives one batch per quiet period.
	Changes chan []types.FileChange
}

// New creates a recursive watcher over root.
func New(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:    root,
		watcher: fsw,
		Changes: make(chan []types.FileChange, 8),
	}
	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" {
			continue
		}
		if err := w.addRecursive(filepath.Join(dir, name)); err != nil {
			// Deep trees can exhaust watch descriptors; degrade.
			return nil
		}
	}
	return nil
}

// Run pumps debounced batches into Changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.Changes)
	pending := make(map[string]string) // rel path -> status
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]types.FileChange, 0, len(pending))
		for path, status := range pending {
			batch = append(batch, types.FileChange{Status: status, Path: path})
		}
		pending = make(map[string]string)
		select {
		case w.Changes <- batch:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return w.watcher.Close()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if scanner.DetectLanguage(rel) == "" {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
				pending[rel] = "D"
			case event.Op.Has(fsnotify.Create):
				if existing, seen := pending[rel]; !seen || existing == "D" {
					pending[rel] = "A"
				}
			case event.Op.Has(fsnotify.Write):
				if pending[rel] != "A" {
					pending[rel] = "M"
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			timerC = timer.C
		case <-timerC:
			flush()
			timerC = nil
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			_ = err // transient watch errors are not fatal
		}
	}
}
