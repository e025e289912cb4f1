package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Notifier turns filesystem events on source files into wake-ups for the
// polling loop. It watches parent directories so a file created by rotation
// is noticed as well as appends to the current one. Wake-ups are coalesced:
// any number of events between two reads of C yield a single signal.
type Notifier struct {
	fsw    *fsnotify.Watcher
	files  map[string]struct{}
	wake   chan struct{}
	logger *slog.Logger
}

// NewNotifier watches the directories holding the given sources.
func NewNotifier(sources []*FileSource, logger *slog.Logger) (*Notifier, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	n := &Notifier{
		fsw:    fsw,
		files:  make(map[string]struct{}, len(sources)),
		wake:   make(chan struct{}, 1),
		logger: logger.With("component", "file_notifier"),
	}

	dirs := make(map[string]struct{})
	for _, src := range sources {
		abs, err := filepath.Abs(src.Path)
		if err != nil {
			abs = filepath.Clean(src.Path)
		}
		n.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return n, nil
}

// C delivers a value whenever a watched file may have changed.
func (n *Notifier) C() <-chan struct{} {
	return n.wake
}

// Run forwards filesystem events until ctx is cancelled, then closes the
// underlying watcher.
func (n *Notifier) Run(ctx context.Context) {
	defer n.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.fsw.Events:
			if !ok {
				return
			}
			if !n.relevant(ev) {
				continue
			}
			select {
			case n.wake <- struct{}{}:
			default:
			}
		case err, ok := <-n.fsw.Errors:
			if !ok {
				return
			}
			n.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (n *Notifier) relevant(ev fsnotify.Event) bool {
	if _, ok := n.files[filepath.Clean(ev.Name)]; !ok {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
