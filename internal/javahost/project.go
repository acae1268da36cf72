package javahost

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/index"
	"github.com/tadfisher/idea-lsp/internal/manager"
	"github.com/tadfisher/idea-lsp/internal/scanner"
	"github.com/tadfisher/idea-lsp/internal/sitteradapter"
)

// Project is a loaded Java project.
type Project struct {
	root  string
	host  *Host
	opts  host.ImportOptions
	docs  *manager.DocumentManager
	index *index.Index

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	roots   map[string][]string
	pending bool
	smart   chan struct{}
	dumb    bool
	closed  bool
	reindex chan struct{}
}

var _ host.Project = (*Project)(nil)

func newProject(root string, h *Host, opts host.ImportOptions, ix *index.Index) *Project {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Project{
		root:    root,
		host:    h,
		opts:    opts,
		index:   ix,
		ctx:     ctx,
		cancel:  cancel,
		roots:   make(map[string][]string),
		smart:   make(chan struct{}),
		dumb:    true,
		reindex: make(chan struct{}, 1),
	}
	p.docs = manager.NewDocumentManager(h.parsers, p.indexDocument)
	p.wg.Add(1)
	go p.indexLoop()
	return p
}

func (p *Project) Root() string { return p.root }

func (p *Project) Document(path string) (host.Document, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	return p.docs.GetDocument(path)
}

func (p *Project) Reload(path string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if _, err := p.docs.ReloadDocument(path); err != nil {
		if errors.Is(err, host.ErrNotFound) {
			return p.index.Remove(path)
		}
		return err
	}
	return nil
}

// FilesChanged reloads unmodified documents under paths and re-indexes.
// Deleted paths leave the index right away.
func (p *Project) FilesChanged(paths []string) {
	if p.checkOpen() != nil {
		return
	}
	for _, changed := range paths {
		if _, err := os.Stat(changed); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := p.index.RemoveTree(changed); err != nil {
			log.Warningf("failed to drop %s from the index: %s", changed, err)
		}
	}
	for _, loaded := range p.docs.Paths() {
		for _, changed := range paths {
			if loaded != changed && !strings.HasPrefix(loaded, changed+string(filepath.Separator)) {
				continue
			}
			doc, ok := p.docs.Loaded(loaded)
			if ok && doc.Modified() {
				log.Debugf("keeping edited buffer %s", loaded)
				continue
			}
			if _, err := p.docs.ReloadDocument(loaded); err != nil && !errors.Is(err, host.ErrNotFound) {
				log.Warningf("failed to reload %s: %s", loaded, err)
			}
		}
	}
	p.requestReindex()
}

func (p *Project) SetSourceRoots(integration string, roots []string) {
	p.mu.Lock()
	if len(roots) == 0 {
		delete(p.roots, integration)
	} else {
		p.roots[integration] = append([]string(nil), roots...)
	}
	p.mu.Unlock()
	log.Infof("%s: source roots %v", integration, roots)
	p.requestReindex()
}

// sourceRoots returns the union of integration roots, or the project root.
func (p *Project) sourceRoots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var roots []string
	for _, rs := range p.roots {
		for _, r := range rs {
			if !slices.Contains(roots, r) {
				roots = append(roots, r)
			}
		}
	}
	if len(roots) == 0 {
		return []string{p.root}
	}
	sort.Strings(roots)
	return roots
}

func (p *Project) inSourceRoots(path string) bool {
	if !slices.Contains(p.host.opts.Extensions, filepath.Ext(path)) {
		return false
	}
	for _, r := range p.sourceRoots() {
		rel, err := filepath.Rel(r, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		relToProject, err := filepath.Rel(p.root, path)
		if err == nil && scanner.Excluded(relToProject, p.opts.Exclude) {
			return false
		}
		return true
	}
	return false
}

func (p *Project) IsDumb() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dumb
}

func (p *Project) WaitSmart(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return host.ErrClosed
		}
		smart := p.smart
		p.mu.Unlock()

		select {
		case <-smart:
			if !p.IsDumb() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return host.ErrClosed
		}
	}
}

// requestReindex switches to dumb mode and schedules a full re-index.
// Requests made while indexing coalesce into one more pass.
func (p *Project) requestReindex() {
	p.mu.Lock()
	p.pending = true
	if !p.dumb {
		p.dumb = true
		p.smart = make(chan struct{})
	}
	p.mu.Unlock()
	select {
	case p.reindex <- struct{}{}:
	default:
	}
}

func (p *Project) indexLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.reindex:
		}

		p.mu.Lock()
		p.pending = false
		p.mu.Unlock()

		if err := p.indexAll(p.ctx); err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Errorf("indexing failed: %s", err)
		}

		p.mu.Lock()
		if !p.pending && p.dumb {
			p.dumb = false
			close(p.smart)
			log.Info("indexing complete")
		}
		p.mu.Unlock()
	}
}

func (p *Project) indexAll(ctx context.Context) error {
	var files []string
	err := p.guarded(ctx, func() error {
		for _, r := range p.sourceRoots() {
			found, err := scanner.Files(r, scanner.Options{Extensions: p.host.opts.Extensions})
			if err != nil {
				log.Warningf("failed to scan %s: %s", r, err)
				continue
			}
			for _, f := range found {
				if p.inSourceRoots(f) && !slices.Contains(files, f) {
					files = append(files, f)
				}
			}
		}

		indexed, err := p.index.Files()
		if err != nil {
			return err
		}
		for _, f := range indexed {
			if !slices.Contains(files, f) {
				if err := p.index.Remove(f); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.host.opts.Workers)
	for _, path := range files {
		g.Go(func() error {
			return p.guarded(gctx, func() error {
				doc, err := p.docs.GetDocument(path)
				if errors.Is(err, host.ErrNotFound) {
					return p.index.Remove(path)
				} else if err != nil {
					log.Warningf("skipping %s: %s", path, err)
					return nil
				}
				return p.index.Replace(p.extract(doc))
			})
		})
	}
	return g.Wait()
}

// guarded runs fn under the import guard. The context is checked after the
// guard is taken so a project closed by a writer is never touched again.
func (p *Project) guarded(ctx context.Context, fn func() error) error {
	run := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn()
	}
	if p.opts.Guard == nil {
		return run()
	}
	return p.opts.Guard.RunRead(run)
}

// indexDocument refreshes the index entries of a committed document.
func (p *Project) indexDocument(doc *manager.Document) error {
	if !p.inSourceRoots(doc.Path()) {
		return nil
	}
	return p.index.Replace(p.extract(doc))
}

// Close stops indexing and releases documents and the index. It does not
// wait for an indexing pass blocked on the guard; that pass observes the
// cancelled context once it gets the guard and stops.
func (p *Project) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	if p.opts.Guard == nil {
		p.wg.Wait()
	}
	p.docs.CloseAll()
	log.Infof("closed project %s", p.root)
	return p.index.Close()
}

func (p *Project) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return host.ErrClosed
	}
	return nil
}

// file is a committed snapshot of one document.
type file struct {
	p     *Project
	path  string
	src   []byte
	tree  *sitter.Tree
	lines *sitteradapter.Lines
}

func (p *Project) file(path string) (*file, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	doc, err := p.docs.GetDocument(path)
	if err != nil {
		return nil, err
	}
	tree, src, lines := doc.Committed()
	return &file{p: p, path: path, src: src, tree: tree, lines: lines}, nil
}

func (f *file) root() *sitter.Node { return f.tree.RootNode() }

func (f *file) text(n *sitter.Node) string { return n.Content(f.src) }

func (f *file) leafAt(offset int) *sitter.Node { return leafAt(f.root(), offset) }

// files caches snapshots for the duration of one query.
type files struct {
	p     *Project
	cache map[string]*file
}

func (p *Project) files() *files {
	return &files{p: p, cache: make(map[string]*file)}
}

func (fs *files) get(path string) (*file, error) {
	if f, ok := fs.cache[path]; ok {
		return f, nil
	}
	f, err := fs.p.file(path)
	if err != nil {
		return nil, err
	}
	fs.cache[path] = f
	return f, nil
}

func (p *Project) String() string {
	return fmt.Sprintf("java project %s", p.root)
}
