// Package workspace mirrors a client's project into a private sandbox,
// imports it into the project host and serializes access to it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"golang.org/x/sync/errgroup"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/resolver"
	"github.com/tadfisher/idea-lsp/internal/scheduler"
)

var log = commonlog.GetLogger("idea-lsp.workspace")

type Options struct {
	// SandboxDir holds the sandboxes of every session. Defaults to the
	// system temp directory.
	SandboxDir string
	// Exclude holds doublestar patterns, relative to the project root, that
	// are neither mirrored nor indexed.
	Exclude []string
	// Watch mirrors client-side changes as they happen.
	Watch         bool
	WatchDebounce time.Duration
}

// Workspace is the sandboxed mirror of one client project.
type Workspace struct {
	id       string
	hctx     *host.Context
	opts     Options
	resolver *resolver.Resolver
	tempRoot string

	// lock is writer-preferring: a waiting Lock blocks new readers.
	lock sync.RWMutex
	exec *scheduler.Executor

	lifetime context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	project host.Project
	watcher *watcher
	closed  bool
}

var _ host.ReadGuard = (*Workspace)(nil)

type writeKey struct{}

// Open creates a sandbox for the project at rootURI and mirrors the project
// into it.
func Open(ctx context.Context, hctx *host.Context, rootURI string, opts Options) (*Workspace, error) {
	base := opts.SandboxDir
	if base == "" {
		base = os.TempDir()
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox directory: %w", err)
	}
	tempRoot := filepath.Join(base, "idea-lsp")
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}

	id := uuid.NewString()
	sandbox := filepath.Join(tempRoot, id)
	if err := os.Mkdir(sandbox, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	res, err := resolver.New(rootURI, sandbox)
	if err != nil {
		os.Remove(sandbox)
		return nil, err
	}

	lifetime, cancel := context.WithCancel(context.Background())
	w := &Workspace{
		id:       id,
		hctx:     hctx,
		opts:     opts,
		resolver: res,
		tempRoot: tempRoot,
		exec:     scheduler.NewExecutor("workspace-"+id[:8], 16),
		lifetime: lifetime,
		cancel:   cancel,
	}
	log.Infof("opening workspace %s for %s at %s", id, res.ClientRoot(), sandbox)

	if err := w.Sync(ctx, res.ClientRoot()); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Workspace) ID() string                   { return w.id }
func (w *Workspace) Resolver() *resolver.Resolver { return w.resolver }
func (w *Workspace) SandboxRoot() string          { return w.resolver.SandboxRoot() }

// Project returns the imported project, or ErrNotImported.
func (w *Workspace) Project() (host.Project, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if w.project == nil {
		return nil, ErrNotImported
	}
	return w.project, nil
}

// Write runs fn on the project-model executor with the lock held
// exclusively. Writes issued from inside fn run inline.
func (w *Workspace) Write(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if ctx.Value(writeKey{}) == w {
		return fn(ctx)
	}
	return w.exec.Submit(ctx, scheduler.Task{
		Name: name,
		Execute: func(ctx context.Context) error {
			w.lock.Lock()
			defer w.lock.Unlock()
			return fn(context.WithValue(ctx, writeKey{}, w))
		},
	})
}

// Read runs fn with the lock held shared. Inside a write it runs directly.
func (w *Workspace) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(writeKey{}) == w {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.lock.RLock()
	defer w.lock.RUnlock()
	return fn(ctx)
}

// ReadWhenSmart is Read once indexing is complete.
func (w *Workspace) ReadWhenSmart(ctx context.Context, fn func(ctx context.Context, project host.Project) error) error {
	project, err := w.Project()
	if err != nil {
		return err
	}
	for {
		if err := project.WaitSmart(ctx); err != nil {
			return err
		}
		ran := false
		err := w.Read(ctx, func(ctx context.Context) error {
			// Indexing may have restarted while waiting for the lock.
			if project.IsDumb() {
				return nil
			}
			ran = true
			return fn(ctx, project)
		})
		if err != nil || ran {
			return err
		}
	}
}

// RunRead lets the project host read sandbox files under the shared lock.
func (w *Workspace) RunRead(fn func() error) error {
	w.lock.RLock()
	defer w.lock.RUnlock()
	return fn()
}

// ImportProject loads the sandbox into the project host.
func (w *Workspace) ImportProject(ctx context.Context) error {
	err := w.Write(ctx, "import", func(ctx context.Context) error {
		w.mu.Lock()
		imported := w.project != nil
		w.mu.Unlock()
		if imported {
			return nil
		}
		project, err := w.hctx.Host().Import(ctx, w.SandboxRoot(), host.ImportOptions{
			Guard:   w,
			Exclude: w.opts.Exclude,
		})
		if err != nil {
			return &ProjectLoadError{Root: w.resolver.ClientRoot(), Err: err}
		}
		w.mu.Lock()
		w.project = project
		w.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("workspace %s: project imported", w.id)

	if w.opts.Watch {
		watcher, err := newWatcher(w, w.opts.WatchDebounce)
		if err != nil {
			log.Warningf("workspace %s: file watching disabled: %s", w.id, err)
			return nil
		}
		w.mu.Lock()
		w.watcher = watcher
		w.mu.Unlock()
	}
	return nil
}

// RefreshResult is the outcome of one integration. Err is a *RefreshError.
type RefreshResult struct {
	Integration string
	Err         error
}

// Refresh asks every registered integration to re-resolve the project.
// Integrations run concurrently; a failing one does not affect the others.
func (w *Workspace) Refresh(ctx context.Context) []RefreshResult {
	project, err := w.Project()
	if err != nil {
		log.Warningf("workspace %s: refresh skipped: %s", w.id, err)
		return nil
	}
	integrations := w.hctx.Integrations()
	results := make([]RefreshResult, len(integrations))

	var g errgroup.Group
	for i, integration := range integrations {
		g.Go(func() error {
			results[i].Integration = integration.ID()
			err := w.Read(ctx, func(ctx context.Context) error {
				return runIntegration(ctx, integration, project)
			})
			if err != nil {
				results[i].Err = &RefreshError{Integration: integration.ID(), Err: err}
				log.Warningf("workspace %s: %s", w.id, results[i].Err)
			} else {
				log.Debugf("workspace %s: %s refreshed", w.id, integration.ID())
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func runIntegration(ctx context.Context, integration host.Integration, project host.Project) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return integration.Refresh(ctx, project)
}

// ResolveURI returns the sandbox path of a client URI, or ErrNotFound when
// nothing is mirrored there.
func (w *Workspace) ResolveURI(uri string) (string, error) {
	path, err := w.resolver.SandboxPath(uri)
	if err != nil {
		log.Warningf("workspace %s: cannot resolve %s: %s", w.id, uri, err)
		return "", fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warningf("workspace %s: %s is not in the workspace", w.id, uri)
			return "", fmt.Errorf("%s: %w", uri, ErrNotFound)
		}
		return "", err
	}
	return path, nil
}

// Translate returns the client URI of a sandbox path.
func (w *Workspace) Translate(path string) (protocol.DocumentUri, error) {
	return w.resolver.ClientURI(path)
}

// Close unloads the project and deletes the sandbox. The shared sandbox
// root is removed only when no other session uses it.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	watcher := w.watcher
	w.mu.Unlock()

	if watcher != nil {
		watcher.close()
	}
	w.cancel()

	var errs []error
	err := w.Write(context.Background(), "close", func(ctx context.Context) error {
		w.mu.Lock()
		project := w.project
		w.project = nil
		w.mu.Unlock()
		if project != nil {
			if err := project.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := os.RemoveAll(w.SandboxRoot()); err != nil {
			errs = append(errs, err)
		}
		// Fails while other sessions' sandboxes remain.
		os.Remove(w.tempRoot)
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	w.exec.Stop()
	log.Infof("workspace %s closed", w.id)
	return errors.Join(errs...)
}
