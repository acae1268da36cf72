package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/tliron/commonlog"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/parser"
	"github.com/tadfisher/idea-lsp/internal/sitteradapter"
)

var log = commonlog.GetLogger("idea-lsp.manager")

// CommitFunc is called after a document's syntax tree was rebuilt.
type CommitFunc func(doc *Document) error

// DocumentManager owns the in-memory documents of one project.
type DocumentManager struct {
	mu       sync.Mutex
	docs     map[string]*Document
	parsers  *parser.Pool
	onCommit CommitFunc
}

// NewDocumentManager creates an initialized DocumentManager.
func NewDocumentManager(parsers *parser.Pool, onCommit CommitFunc) *DocumentManager {
	return &DocumentManager{
		docs:     make(map[string]*Document),
		parsers:  parsers,
		onCommit: onCommit,
	}
}

// GetDocument returns the document for path, loading and parsing it from
// disk on first use.
func (dm *DocumentManager) GetDocument(path string) (*Document, error) {
	dm.mu.Lock()
	doc, ok := dm.docs[path]
	dm.mu.Unlock()
	if ok {
		return doc, nil
	}

	doc, err := dm.load(path)
	if err != nil {
		return nil, err
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if existing, ok := dm.docs[path]; ok {
		return existing, nil
	}
	dm.docs[path] = doc
	return doc, nil
}

// Loaded returns the document for path without loading it.
func (dm *DocumentManager) Loaded(path string) (*Document, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	doc, ok := dm.docs[path]
	return doc, ok
}

func (dm *DocumentManager) load(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, host.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc := &Document{manager: dm, path: path, text: string(content)}
	if err := doc.parse(nil); err != nil {
		return nil, err
	}
	return doc, nil
}

// ReloadDocument discards in-memory edits and reads the file again. A file
// that vanished from disk is released.
func (dm *DocumentManager) ReloadDocument(path string) (*Document, error) {
	doc, err := dm.load(path)
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			dm.Release(path)
		}
		return nil, err
	}
	dm.mu.Lock()
	dm.docs[path] = doc
	dm.mu.Unlock()
	if dm.onCommit != nil {
		if err := dm.onCommit(doc); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

// Paths lists the loaded documents.
func (dm *DocumentManager) Paths() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	paths := make([]string, 0, len(dm.docs))
	for p := range dm.docs {
		paths = append(paths, p)
	}
	return paths
}

// Release forgets the document for path.
func (dm *DocumentManager) Release(path string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	delete(dm.docs, path)
}

// CloseAll forgets every document.
func (dm *DocumentManager) CloseAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.docs = make(map[string]*Document)
}

// Document is a text buffer with a committed snapshot and its syntax tree.
type Document struct {
	manager *DocumentManager

	mu       sync.RWMutex
	path     string
	text     string
	snapshot string
	source   []byte
	lines    *sitteradapter.Lines
	tree     *sitter.Tree
	// edited is a copy of tree with the pending edits applied, reused by the
	// next parse. Nil after SetText, which forces a full parse.
	edited   *sitter.Tree
	fullEdit bool
	modified bool
}

var _ host.Document = (*Document)(nil)

func (d *Document) Path() string { return d.path }

func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}

func (d *Document) Snapshot() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// Lines returns the line table of the committed snapshot.
func (d *Document) Lines() *sitteradapter.Lines {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lines
}

// Committed returns the committed tree together with the source and line
// table it was parsed from. The source must not be modified.
func (d *Document) Committed() (*sitter.Tree, []byte, *sitteradapter.Lines) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree, d.source, d.lines
}

// Tree returns the syntax tree of the committed snapshot.
func (d *Document) Tree() *sitter.Tree {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree
}

func (d *Document) Modified() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.modified
}

func (d *Document) SetText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	d.edited = nil
	d.fullEdit = true
	d.modified = true
}

// Replace replaces text[start:end], with offsets into the current buffer.
func (d *Document) Replace(start, end int, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if start < 0 || end < start || end > len(d.text) {
		return &sitteradapter.RangeError{
			Line: -1, Character: -1, Offset: end,
			Reason: fmt.Sprintf("replace [%d, %d) in %d bytes", start, end, len(d.text)),
		}
	}
	if !d.fullEdit && d.tree != nil {
		if d.edited == nil {
			d.edited = d.tree.Copy()
		}
		d.edited.Edit(sitteradapter.NewLines(d.text).EditInput(start, end, text))
	}
	d.text = d.text[:start] + text + d.text[end:]
	d.modified = true
	return nil
}

// Commit reparses the buffer so the syntax tree reflects every edit.
func (d *Document) Commit() error {
	d.mu.Lock()
	if d.text == d.snapshot && d.edited == nil && !d.fullEdit {
		d.mu.Unlock()
		return nil
	}
	err := d.parse(d.edited)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if d.manager.onCommit != nil {
		return d.manager.onCommit(d)
	}
	return nil
}

// parse rebuilds the tree from text. Callers hold d.mu or own d exclusively.
func (d *Document) parse(old *sitter.Tree) error {
	source := []byte(d.text)
	tree, err := d.manager.parsers.Parse(context.Background(), old, source)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", d.path, err)
	}
	d.tree = tree
	d.source = source
	d.snapshot = d.text
	d.lines = sitteradapter.NewLines(d.text)
	d.edited = nil
	d.fullEdit = false
	log.Debugf("parsed %s", d.path)
	return nil
}
