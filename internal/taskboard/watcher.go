package taskboard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
)

// debounceDuration batches bursts of filesystem events (editors write, sync
// tools touch) into a single board-changed announcement.
const debounceDuration = 300 * time.Millisecond

// selfWriteWindow is how long after our own rewrite the watcher stays quiet;
// the service already announced that mutation.
const selfWriteWindow = time.Second

// Watcher announces out-of-band edits to the board file: humans editing the
// markdown directly get the same task.board.changed event as API mutations.
type Watcher struct {
	service *Service
	watcher *fsnotify.Watcher
	logger  *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher watches the board directory, creating it if needed so fsnotify
// has something to attach to.
func NewWatcher(service *Service, log *logger.Logger) (*Watcher, error) {
	if err := os.MkdirAll(service.Dir(), 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(service.Dir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		service: service,
		watcher: fsw,
		logger:  log.WithComponent("taskboard-watcher"),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start runs the watch loop until the context is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var debounce *time.Timer
	timerC := func() <-chan time.Time {
		if debounce != nil {
			return debounce.C
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Permission churn doesn't change board content.
			if event.Op == fsnotify.Chmod {
				continue
			}
			if !isBoardFile(event.Name) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDuration)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceDuration)
			}
		case <-timerC():
			debounce = nil
			if w.service.wroteRecently(selfWriteWindow) {
				continue
			}
			summary := w.service.Summary()
			w.logger.Debug("Task board changed on disk", zap.String("summary", summary))
			w.service.publishChanged(summary)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Task board watch error", zap.Error(err))
		}
	}
}

func isBoardFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, "tasks-") && strings.HasSuffix(name, ".md")
}
