// Package session is the per-connection facade over a workspace. It speaks
// client URIs and LSP positions and translates them into sandbox paths and
// offsets for the project host.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/refactor"
	"github.com/tadfisher/idea-lsp/internal/resolver"
	"github.com/tadfisher/idea-lsp/internal/sitteradapter"
	"github.com/tadfisher/idea-lsp/internal/workspace"
)

var log = commonlog.GetLogger("idea-lsp.session")

// FileNotFoundError is returned when a URI has no document in the workspace.
type FileNotFoundError struct {
	URI string
	Err error
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.URI)
}

func (e *FileNotFoundError) Unwrap() error { return e.Err }

// Session borrows a workspace for the lifetime of one connection.
type Session struct {
	w       *workspace.Workspace
	renamer *refactor.Resolver
}

func New(w *workspace.Workspace, opts refactor.Options, listener refactor.Listener) *Session {
	return &Session{w: w, renamer: refactor.New(opts, listener)}
}

func (s *Session) Workspace() *workspace.Workspace { return s.w }

// Close tears down the workspace.
func (s *Session) Close() error {
	return s.w.Close()
}

// document resolves uri to its buffer.
func (s *Session) document(uri string) (host.Project, host.Document, error) {
	path, err := s.w.ResolveURI(uri)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return nil, nil, &FileNotFoundError{URI: uri, Err: err}
		}
		return nil, nil, err
	}
	project, err := s.w.Project()
	if err != nil {
		return nil, nil, err
	}
	doc, err := project.Document(path)
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			return nil, nil, &FileNotFoundError{URI: uri, Err: err}
		}
		return nil, nil, err
	}
	return project, doc, nil
}

// OpenFile replaces the buffer of uri with text. A file that was not
// mirrored yet is synced from the client tree first.
func (s *Session) OpenFile(ctx context.Context, uri string, text string) error {
	if _, err := s.w.ResolveURI(uri); errors.Is(err, workspace.ErrNotFound) {
		if path, err := resolver.PathFromURI(uri); err == nil {
			if err := s.w.Sync(ctx, path); err != nil {
				log.Warningf("%s", err)
			}
		}
	}
	return s.UpdateFile(ctx, uri, text)
}

// UpdateFile replaces the whole buffer and commits it.
func (s *Session) UpdateFile(ctx context.Context, uri string, text string) error {
	return s.w.Write(ctx, "update "+uri, func(ctx context.Context) error {
		_, doc, err := s.document(uri)
		if err != nil {
			return err
		}
		doc.SetText(text)
		return doc.Commit()
	})
}

// UpdateRange replaces a range of the current buffer without committing.
func (s *Session) UpdateRange(ctx context.Context, uri string, rng protocol.Range, text string) error {
	return s.w.Write(ctx, "edit "+uri, func(ctx context.Context) error {
		_, doc, err := s.document(uri)
		if err != nil {
			return err
		}
		return replace(doc, rng, text)
	})
}

func replace(doc host.Document, rng protocol.Range, text string) error {
	lines := sitteradapter.NewLines(doc.Text())
	start, err := lines.FromPosition(rng.Start)
	if err != nil {
		return err
	}
	end, err := lines.FromPosition(rng.End)
	if err != nil {
		return err
	}
	if end < start {
		return &sitteradapter.RangeError{
			Line: int(rng.End.Line), Character: int(rng.End.Character), Offset: -1,
			Reason: "range ends before it starts",
		}
	}
	return doc.Replace(start, end, text)
}

// CommitFile rebuilds the syntax tree from pending edits.
func (s *Session) CommitFile(ctx context.Context, uri string) error {
	return s.w.Write(ctx, "commit "+uri, func(ctx context.Context) error {
		_, doc, err := s.document(uri)
		if err != nil {
			return err
		}
		return doc.Commit()
	})
}

// ApplyChanges applies the content changes of one didChange notification in
// order, then commits once. Changes applied before a failing one are kept.
func (s *Session) ApplyChanges(ctx context.Context, uri string, changes []any) error {
	return s.w.Write(ctx, "change "+uri, func(ctx context.Context) error {
		_, doc, err := s.document(uri)
		if err != nil {
			return err
		}
		var applyErr error
	loop:
		for i, change := range changes {
			switch c := change.(type) {
			case protocol.TextDocumentContentChangeEventWhole:
				doc.SetText(c.Text)
			case protocol.TextDocumentContentChangeEvent:
				if c.Range == nil {
					doc.SetText(c.Text)
				} else if err := replace(doc, *c.Range, c.Text); err != nil {
					applyErr = fmt.Errorf("change %d: %w", i, err)
					break loop
				}
			default:
				applyErr = fmt.Errorf("change %d: unsupported content change %T", i, change)
				break loop
			}
		}
		if err := doc.Commit(); err != nil {
			return err
		}
		return applyErr
	})
}

// ReloadFile discards the buffer's edits and reads the sandbox copy again.
func (s *Session) ReloadFile(ctx context.Context, uri string) error {
	return s.w.Write(ctx, "reload "+uri, func(ctx context.Context) error {
		path, err := s.w.ResolveURI(uri)
		if err != nil {
			if errors.Is(err, workspace.ErrNotFound) {
				return &FileNotFoundError{URI: uri, Err: err}
			}
			return err
		}
		project, err := s.w.Project()
		if err != nil {
			return err
		}
		return project.Reload(path)
	})
}

// Text returns the current buffer of uri.
func (s *Session) Text(ctx context.Context, uri string) (string, error) {
	var text string
	err := s.w.Read(ctx, func(ctx context.Context) error {
		_, doc, err := s.document(uri)
		if err != nil {
			return err
		}
		text = doc.Text()
		return nil
	})
	return text, err
}

// FilesChanged mirrors client-side changes of the given URIs. It reports
// whether a build file was among them.
func (s *Session) FilesChanged(ctx context.Context, uris []string) (bool, error) {
	paths := make([]string, 0, len(uris))
	build := false
	for _, uri := range uris {
		path, err := resolver.PathFromURI(uri)
		if err != nil {
			log.Warningf("ignoring change of %s: %s", uri, err)
			continue
		}
		paths = append(paths, path)
		build = build || workspace.IsBuildFile(path)
	}
	return build, s.w.SyncPaths(ctx, paths)
}

// query resolves uri and the offset of pos in its committed snapshot, then
// runs fn once the project is smart.
func (s *Session) query(ctx context.Context, uri string, pos protocol.Position, fn func(ctx context.Context, project host.Project, path string, offset int) error) error {
	return s.w.ReadWhenSmart(ctx, func(ctx context.Context, project host.Project) error {
		_, doc, err := s.document(uri)
		if err != nil {
			return err
		}
		offset, err := sitteradapter.NewLines(doc.Snapshot()).FromPosition(pos)
		if err != nil {
			return err
		}
		return fn(ctx, project, doc.Path(), offset)
	})
}

// FindDefinitions resolves the declaration at pos. Three strategies are tried
// in order and the first non-empty result wins: navigation from an
// expression or type context, the reference at the position, and the
// declaration whose name is at the position.
func (s *Session) FindDefinitions(ctx context.Context, uri string, pos protocol.Position) ([]protocol.Location, error) {
	var locations []protocol.Location
	err := s.query(ctx, uri, pos, func(ctx context.Context, project host.Project, path string, offset int) error {
		targets, err := definitions(project, path, offset)
		if err != nil {
			return err
		}
		loc := s.locator(project)
		for _, target := range targets {
			if l, ok := loc.element(target); ok {
				locations = append(locations, l)
			}
		}
		return nil
	})
	return locations, err
}

func definitions(project host.Project, path string, offset int) ([]host.SyntaxElement, error) {
	targets, err := project.GotoDeclaration(path, offset)
	if err != nil {
		return nil, err
	}
	if len(targets) > 0 {
		return targets, nil
	}

	adjusted := project.AdjustOffset(path, offset)
	ref, err := project.ReferenceAt(path, adjusted)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		if resolved := ref.Resolve(); len(resolved) > 0 {
			out := make([]host.SyntaxElement, len(resolved))
			for i, r := range resolved {
				out[i] = r
			}
			return out, nil
		}
	}

	el, err := project.ElementAt(path, adjusted)
	if err != nil {
		return nil, err
	}
	if named := namedAt(el, adjusted); named != nil {
		return []host.SyntaxElement{named}, nil
	}
	return nil, nil
}

// namedAt returns the nearest enclosing declaration when offset is on its
// name. A reference that did not resolve names nothing.
func namedAt(el host.SyntaxElement, offset int) host.Named {
	for ; el != nil; el = el.Parent() {
		named, ok := el.(host.Named)
		if !ok {
			continue
		}
		if _, decl := el.(host.Declaration); !decl {
			return nil
		}
		if start, end := named.NameRange(); end > start && start <= offset && offset <= end {
			return named
		}
		return nil
	}
	return nil
}

// FindReferences returns the usages of the declaration at pos, followed by
// the declaration itself when includeDeclaration is set.
func (s *Session) FindReferences(ctx context.Context, uri string, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	var locations []protocol.Location
	err := s.query(ctx, uri, pos, func(ctx context.Context, project host.Project, path string, offset int) error {
		target, err := refactor.Target(project, path, offset)
		if err != nil || target == nil {
			return err
		}
		usages, err := project.SearchUsages(ctx, target)
		if err != nil {
			return err
		}
		loc := s.locator(project)
		for _, u := range usages {
			if l, ok := loc.span(u.Element.Path(), u.Start, u.End); ok {
				locations = append(locations, l)
			}
		}
		if includeDeclaration {
			if l, ok := loc.element(target); ok {
				locations = append(locations, l)
			}
		}
		return nil
	})
	return locations, err
}

// Highlights returns the occurrences of the symbol at pos within its file.
func (s *Session) Highlights(ctx context.Context, uri string, pos protocol.Position) ([]protocol.DocumentHighlight, error) {
	locations, err := s.FindReferences(ctx, uri, pos, true)
	if err != nil {
		return nil, err
	}
	self, err := s.w.Resolver().Rel(uri)
	if err != nil {
		return nil, err
	}
	var highlights []protocol.DocumentHighlight
	for i, l := range locations {
		if rel, err := s.w.Resolver().Rel(string(l.URI)); err != nil || rel != self {
			continue
		}
		kind := protocol.DocumentHighlightKindRead
		if i == len(locations)-1 {
			kind = protocol.DocumentHighlightKindWrite
		}
		highlights = append(highlights, protocol.DocumentHighlight{Range: l.Range, Kind: &kind})
	}
	return highlights, nil
}

// Rename computes the edits renaming the symbol at pos. Nothing is modified;
// edits within a file are in descending offset order.
func (s *Session) Rename(ctx context.Context, uri string, pos protocol.Position, newName string) (map[protocol.DocumentUri][]protocol.TextEdit, error) {
	changes := make(map[protocol.DocumentUri][]protocol.TextEdit)
	err := s.query(ctx, uri, pos, func(ctx context.Context, project host.Project, path string, offset int) error {
		res, err := s.renamer.Rename(ctx, project, path, offset, newName)
		if err != nil {
			return err
		}
		loc := s.locator(project)
		for _, file := range res.Paths() {
			for _, e := range res[file] {
				l, ok := loc.span(file, e.Start, e.End)
				if !ok {
					return fmt.Errorf("cannot edit %s outside of the workspace", file)
				}
				changes[l.URI] = append(changes[l.URI], protocol.TextEdit{Range: l.Range, NewText: e.NewText})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// SearchSymbols returns the project declarations whose names pass filter.
func (s *Session) SearchSymbols(ctx context.Context, filter func(name string) bool) ([]protocol.SymbolInformation, error) {
	var symbols []protocol.SymbolInformation
	err := s.w.ReadWhenSmart(ctx, func(ctx context.Context, project host.Project) error {
		found, err := project.SearchSymbols(ctx, filter)
		if err != nil {
			return err
		}
		loc := s.locator(project)
		for _, named := range found {
			l, ok := loc.element(named)
			if !ok {
				continue
			}
			info := protocol.SymbolInformation{Name: named.Name(), Kind: protocol.SymbolKindVariable, Location: l}
			if d, ok := named.(host.Declaration); ok {
				info.Kind = SymbolKind(d.DeclKind())
			}
			if container := containerName(named); container != "" {
				info.ContainerName = &container
			}
			symbols = append(symbols, info)
		}
		return nil
	})
	return symbols, err
}

// locator converts sandbox offsets into client locations. Line tables are
// built once per file.
type locator struct {
	w       *workspace.Workspace
	project host.Project
	lines   map[string]*sitteradapter.Lines
}

func (s *Session) locator(project host.Project) *locator {
	return &locator{w: s.w, project: project, lines: make(map[string]*sitteradapter.Lines)}
}

func (l *locator) element(el host.SyntaxElement) (protocol.Location, bool) {
	start, end := host.Anchor(el)
	return l.span(el.Path(), start, end)
}

func (l *locator) span(path string, start, end int) (protocol.Location, bool) {
	lines, ok := l.lines[path]
	if !ok {
		doc, err := l.project.Document(path)
		if err != nil {
			log.Warningf("cannot locate %s: %s", path, err)
			return protocol.Location{}, false
		}
		lines = sitteradapter.NewLines(doc.Snapshot())
		l.lines[path] = lines
	}
	rng, err := lines.ToRange(start, end)
	if err != nil {
		log.Warningf("cannot locate %s:%d: %s", path, start, err)
		return protocol.Location{}, false
	}
	uri, err := l.w.Translate(path)
	if err != nil {
		log.Warningf("cannot locate %s: %s", path, err)
		return protocol.Location{}, false
	}
	return protocol.Location{URI: uri, Range: rng}, true
}
