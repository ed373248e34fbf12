package registry

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// Watcher re-scans the models directory when its contents change. Events are
// debounced: a model file being downloaded produces a burst of writes, and
// only the last one should trigger a scan.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func([]types.Model)
	fw       *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher watches dir and calls onChange with a fresh scan after each
// debounced burst of changes. onChange runs on the watcher's goroutine.
func NewWatcher(dir string, debounce time.Duration, onChange func([]types.Model)) (*Watcher, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(base); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		dir:      base,
		debounce: debounce,
		onChange: onChange,
		fw:       fw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(strings.ToLower(ev.Name), ".gguf") {
				continue
			}
			w.bump()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("registry event=watch_error dir=%s err=%v", w.dir, err)
		}
	}
}

// bump (re)arms the debounce timer.
func (w *Watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.rescan)
}

func (w *Watcher) rescan() {
	select {
	case <-w.done:
		return
	default:
	}
	models, err := LoadDir(w.dir)
	if err != nil {
		log.Printf("registry event=rescan_failed dir=%s err=%v", w.dir, err)
		return
	}
	log.Printf("registry event=rescan dir=%s models=%d", w.dir, len(models))
	w.onChange(models)
}

// Close stops the watcher. Pending debounced scans are cancelled.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.fw.Close()
	})
	return nil
}
