package poller

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// settleDelay lets an editor finish writing before the loop reads the file
const settleDelay = 150 * time.Millisecond

// configWatcher signals when the config file has been written. The parent
// directory is watched because editors and Store.Save replace the file by
// renaming over it.
type configWatcher struct {
	w    *fsnotify.Watcher
	wake chan struct{}
	done chan struct{}
}

func watchConfig(path string) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	cw := &configWatcher{
		w:    w,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go cw.loop(filepath.Clean(path))
	return cw, nil
}

// Wake receives at most one pending notification
func (cw *configWatcher) Wake() <-chan struct{} {
	return cw.wake
}

func (cw *configWatcher) Close() error {
	close(cw.done)
	return cw.w.Close()
}

func (cw *configWatcher) loop(target string) {
	log := logger.WithComponent("config-watch")

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-cw.done:
			return
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("op", ev.Op.String()).Msg("Config file changed")
			settle.Reset(settleDelay)
		case <-settle.C:
			select {
			case cw.wake <- struct{}{}:
			default:
				// A wake-up is already pending
			}
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("Watcher error")
		}
	}
}
