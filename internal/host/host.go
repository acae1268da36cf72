// Package host describes the project host: the subsystem that loads a
// project from a directory, keeps its documents and syntax trees, and answers
// navigation, usage and rename queries over them.
package host

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a path has no document in the project.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by a project after Close.
	ErrClosed = errors.New("project closed")
)

// Host loads projects.
type Host interface {
	// Import opens or creates the project rooted at dir. It returns once the
	// project's file set is known; indexing may continue in the background.
	Import(ctx context.Context, dir string, opts ImportOptions) (Project, error)

	Close() error
}

// ReadGuard runs fn while holding the shared side of the workspace lock.
type ReadGuard interface {
	RunRead(fn func() error) error
}

type ImportOptions struct {
	// Guard is taken by background work that reads project files.
	Guard ReadGuard
	// Exclude holds doublestar patterns, relative to the project root, that
	// are never indexed.
	Exclude []string
}

// Project is a loaded project. Offsets are byte offsets into a document's
// committed snapshot.
type Project interface {
	Root() string

	// Document returns the buffer for a file, loading it from disk on first
	// use.
	Document(path string) (Document, error)
	// Reload discards in-memory edits of the file and reads it again.
	Reload(path string) error
	// FilesChanged tells the project that files under paths changed on disk.
	// Unmodified documents are reloaded and the index is refreshed.
	FilesChanged(paths []string)

	// FileElement returns the root element of a file.
	FileElement(path string) (SyntaxElement, error)
	// ElementAt returns the innermost element containing offset.
	ElementAt(path string, offset int) (SyntaxElement, error)
	// AdjustOffset moves an offset that sits just after an identifier onto it.
	AdjustOffset(path string, offset int) int
	// GotoDeclaration resolves the identifier at offset in an expression or
	// type context into navigation targets.
	GotoDeclaration(path string, offset int) ([]SyntaxElement, error)
	// ReferenceAt returns the reference containing offset, if any.
	ReferenceAt(path string, offset int) (Referenceable, error)

	// SearchUsages finds every reference in the project resolving to target.
	SearchUsages(ctx context.Context, target Named) ([]Usage, error)
	// TextOccurrences finds name in comments and string literals.
	TextOccurrences(ctx context.Context, name string) ([]Usage, error)
	// RenameAliases returns the declarations renamed together with target.
	RenameAliases(target Named) []Named
	// RenameConflicts reports why target cannot be renamed to newName.
	RenameConflicts(ctx context.Context, target Named, newName string) ([]Conflict, error)
	// SecondaryRenames returns declarations whose names derive from target's
	// and that are renamed along with it.
	SecondaryRenames(ctx context.Context, target Named, newName string) ([]Rename, error)

	// SearchSymbols returns project declarations whose names match filter.
	SearchSymbols(ctx context.Context, filter func(name string) bool) ([]Named, error)

	// SetSourceRoots records the source roots reported by one integration.
	// An empty union of roots means the whole project root.
	SetSourceRoots(integration string, roots []string)

	IsDumb() bool
	// WaitSmart blocks until indexing is complete.
	WaitSmart(ctx context.Context) error

	Close() error
}

// Document is an editable text buffer. Text reflects every edit, Snapshot
// only those made before the last Commit.
type Document interface {
	Path() string
	Text() string
	Snapshot() string
	SetText(text string)
	Replace(start, end int, text string) error
	// Commit rebuilds the syntax tree and index entries from Text.
	Commit() error
	Modified() bool
}

// Usage is one occurrence of a symbol.
type Usage struct {
	Element SyntaxElement
	// Start and End delimit the name within the element.
	Start, End int
	// NonCode marks occurrences in comments or string literals.
	NonCode bool
}

// Conflict explains why a rename cannot proceed.
type Conflict struct {
	Element SyntaxElement
	Message string
}

// Rename pairs a declaration with the name it receives.
type Rename struct {
	Target  Named
	NewName string
}

// Integration is an external system, typically a build tool, that can
// re-resolve the project's structure.
type Integration interface {
	ID() string
	Refresh(ctx context.Context, project Project) error
}
