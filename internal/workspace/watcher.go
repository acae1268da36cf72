package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"github.com/tadfisher/idea-lsp/internal/scanner"
)

var buildFiles = map[string]bool{
	"build.gradle":        true,
	"build.gradle.kts":    true,
	"settings.gradle":     true,
	"settings.gradle.kts": true,
	"pom.xml":             true,
}

// IsBuildFile reports whether a change to path requires a refresh.
func IsBuildFile(path string) bool {
	return buildFiles[filepath.Base(path)]
}

// watcher mirrors client-side changes into the sandbox. Events are batched
// until the tree has been quiet for the debounce interval.
type watcher struct {
	w        *Workspace
	fs       *fsnotify.Watcher
	debounce func(func())

	mu      sync.Mutex
	pending map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

func newWatcher(w *Workspace, interval time.Duration) (*watcher, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	wt := &watcher{
		w:        w,
		fs:       fw,
		debounce: debounce.New(interval),
		pending:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	if err := wt.addTree(w.resolver.ClientRoot()); err != nil {
		fw.Close()
		return nil, err
	}
	wt.wg.Add(1)
	go wt.loop()
	return wt, nil
}

func (wt *watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if wt.w.isSandboxPath(path) {
			return filepath.SkipDir
		}
		if rel, err := wt.w.resolver.SandboxRel(path); err == nil && rel != "." &&
			scanner.Excluded(filepath.ToSlash(rel), wt.w.opts.Exclude) {
			return filepath.SkipDir
		}
		return wt.fs.Add(path)
	})
}

func (wt *watcher) loop() {
	defer wt.wg.Done()
	for {
		select {
		case <-wt.done:
			return
		case event, ok := <-wt.fs.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := wt.addTree(event.Name); err != nil {
						log.Warningf("workspace %s: cannot watch %s: %s", wt.w.id, event.Name, err)
					}
				}
			}
			wt.mu.Lock()
			wt.pending[event.Name] = true
			wt.mu.Unlock()
			wt.debounce(wt.flush)
		case err, ok := <-wt.fs.Errors:
			if !ok {
				return
			}
			log.Warningf("workspace %s: watch error: %s", wt.w.id, err)
		}
	}
}

// flush syncs the batched paths and refreshes when a build file changed.
func (wt *watcher) flush() {
	wt.mu.Lock()
	paths := make([]string, 0, len(wt.pending))
	for path := range wt.pending {
		paths = append(paths, path)
	}
	wt.pending = make(map[string]bool)
	wt.mu.Unlock()
	sort.Strings(paths)

	select {
	case <-wt.done:
		return
	default:
	}

	ctx := wt.w.lifetime
	refresh := false
	for _, path := range paths {
		refresh = refresh || IsBuildFile(path)
	}
	log.Debugf("workspace %s: %d changed paths", wt.w.id, len(paths))
	if err := wt.w.SyncPaths(ctx, paths); err != nil {
		log.Warningf("workspace %s: %s", wt.w.id, err)
	}
	if refresh {
		wt.w.Refresh(ctx)
	}
}

func (wt *watcher) close() {
	close(wt.done)
	wt.fs.Close()
	wt.wg.Wait()
}
