// Package refactor turns a rename request into per-file edit lists using the
// project host's usage search and conflict detection. It never modifies
// documents itself.
package refactor

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/tadfisher/idea-lsp/internal/host"
)

var log = commonlog.GetLogger("idea-lsp.refactor")

// RenameRefactoringID identifies rename in conflict events.
const RenameRefactoringID = "refactoring.rename"

type Options struct {
	// SearchTextOccurrences also renames matches in comments and strings.
	SearchTextOccurrences bool
	// RenameVariables renames variables named after a renamed class.
	RenameVariables bool
}

// Listener receives refactoring events.
type Listener interface {
	ConflictsDetected(refactoringID string, conflicts []host.Conflict)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(refactoringID string, conflicts []host.Conflict)

func (f ListenerFunc) ConflictsDetected(refactoringID string, conflicts []host.Conflict) {
	f(refactoringID, conflicts)
}

// ConflictError aborts a refactoring that would break the code.
type ConflictError struct {
	RefactoringID string
	Conflicts     []host.Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return fmt.Sprintf("conflict: %s", e.Conflicts[0].Message)
	}
	messages := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		messages[i] = c.Message
	}
	return fmt.Sprintf("%d conflicts: %s", len(e.Conflicts), strings.Join(messages, "; "))
}

// Edit replaces the text between Start and End of the file at Path.
type Edit struct {
	Path       string
	Start, End int
	NewText    string
	// NonCode marks edits in comments or string literals.
	NonCode bool
}

// Result maps file paths to their edits, sorted by descending start offset.
type Result map[string][]Edit

// Paths returns the edited files in lexical order.
func (r Result) Paths() []string {
	paths := make([]string, 0, len(r))
	for path := range r {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Resolver computes renames.
type Resolver struct {
	opts     Options
	listener Listener
}

func New(opts Options, listener Listener) *Resolver {
	return &Resolver{opts: opts, listener: listener}
}

// Target returns the declaration a position refers to: the resolved
// declaration of a reference, or the declaration whose name contains the
// offset. It returns nil when there is none.
func Target(project host.Project, path string, offset int) (host.Named, error) {
	offset = project.AdjustOffset(path, offset)
	ref, err := project.ReferenceAt(path, offset)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		if targets := ref.Resolve(); len(targets) > 0 {
			return targets[0], nil
		}
		return nil, nil
	}

	el, err := project.ElementAt(path, offset)
	if err != nil {
		return nil, err
	}
	for ; el != nil; el = el.Parent() {
		if named, ok := el.(host.Named); ok {
			if start, end := named.NameRange(); start <= offset && offset <= end && end > start {
				return named, nil
			}
			return nil, nil
		}
	}
	return nil, nil
}

// Rename computes the edits that rename the declaration at offset to
// newName. Conflicts are reported to the listener and returned as a
// *ConflictError; no edits are produced in that case.
func (r *Resolver) Rename(ctx context.Context, project host.Project, path string, offset int, newName string) (Result, error) {
	target, err := Target(project, path, offset)
	if err != nil {
		return nil, err
	}
	if target == nil {
		log.Debugf("rename: nothing to rename at %s:%d", path, offset)
		return Result{}, nil
	}
	if target.Name() == newName {
		return Result{}, nil
	}
	log.Infof("rename: %s %q to %q", target.Kind(), target.Name(), newName)

	primary := append([]host.Named{target}, project.RenameAliases(target)...)
	conflicts, err := r.conflicts(ctx, project, primary, newName)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		log.Infof("rename: %d conflicts", len(conflicts))
		if r.listener != nil {
			r.listener.ConflictsDetected(RenameRefactoringID, conflicts)
		}
		return nil, &ConflictError{RefactoringID: RenameRefactoringID, Conflicts: conflicts}
	}

	renames := make([]host.Rename, 0, len(primary))
	for _, named := range primary {
		renames = append(renames, host.Rename{Target: named, NewName: newName})
	}
	if r.opts.RenameVariables {
		secondary, err := r.secondary(ctx, project, target, newName)
		if err != nil {
			return nil, err
		}
		renames = append(renames, secondary...)
	}

	c := newCollector()
	for _, rename := range renames {
		c.add(rename.Target.Path(), rename.Target, rename.NewName)
		usages, err := project.SearchUsages(ctx, rename.Target)
		if err != nil {
			return nil, err
		}
		for _, u := range usages {
			c.addUsage(u, rename.NewName)
		}
	}
	if r.opts.SearchTextOccurrences {
		occurrences, err := project.TextOccurrences(ctx, target.Name())
		if err != nil {
			return nil, err
		}
		for _, u := range occurrences {
			c.addUsage(u, newName)
		}
	}
	return c.result(), nil
}

func (r *Resolver) conflicts(ctx context.Context, project host.Project, elements []host.Named, newName string) ([]host.Conflict, error) {
	var conflicts []host.Conflict
	seen := make(map[string]bool)
	for _, el := range elements {
		found, err := project.RenameConflicts(ctx, el, newName)
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			key := c.Message
			if c.Element != nil {
				start, _ := c.Element.Range()
				key = fmt.Sprintf("%s:%d:%s", c.Element.Path(), start, c.Message)
			}
			if !seen[key] {
				seen[key] = true
				conflicts = append(conflicts, c)
			}
		}
	}
	return conflicts, nil
}

// secondary returns the automatic renames, accepted without asking. Those
// that would conflict are skipped.
func (r *Resolver) secondary(ctx context.Context, project host.Project, target host.Named, newName string) ([]host.Rename, error) {
	candidates, err := project.SecondaryRenames(ctx, target, newName)
	if err != nil {
		return nil, err
	}
	var accepted []host.Rename
	for _, rename := range candidates {
		conflicts, err := project.RenameConflicts(ctx, rename.Target, rename.NewName)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			log.Debugf("rename: skipping %s: %s", rename.Target.Name(), conflicts[0].Message)
			continue
		}
		accepted = append(accepted, rename)
	}
	return accepted, nil
}

type editKey struct {
	path       string
	start, end int
}

type collector struct {
	edits map[editKey]Edit
}

func newCollector() *collector {
	return &collector{edits: make(map[editKey]Edit)}
}

func (c *collector) add(path string, named host.Named, newName string) {
	start, end := named.NameRange()
	c.put(Edit{Path: path, Start: start, End: end, NewText: newName})
}

func (c *collector) addUsage(u host.Usage, newName string) {
	c.put(Edit{Path: u.Element.Path(), Start: u.Start, End: u.End, NewText: newName, NonCode: u.NonCode})
}

func (c *collector) put(e Edit) {
	if e.End <= e.Start {
		return
	}
	key := editKey{e.Path, e.Start, e.End}
	if _, ok := c.edits[key]; !ok {
		c.edits[key] = e
	}
}

func (c *collector) result() Result {
	res := make(Result)
	for _, e := range c.edits {
		res[e.Path] = append(res[e.Path], e)
	}
	for _, edits := range res {
		SortDescending(edits)
	}
	return res
}

// SortDescending orders edits so that applying them in sequence never moves
// an edit that has not been applied yet.
func SortDescending(edits []Edit) {
	slices.SortFunc(edits, func(a, b Edit) int {
		if a.Start != b.Start {
			return b.Start - a.Start
		}
		return b.End - a.End
	})
}

// Apply applies edits to text in the given order. Offsets of each edit are
// taken against the text produced by the edits before it.
func Apply(text string, edits []Edit) (string, error) {
	for _, e := range edits {
		if e.Start < 0 || e.End < e.Start || e.End > len(text) {
			return "", fmt.Errorf("edit %d-%d is outside of the text (%d bytes)", e.Start, e.End, len(text))
		}
		text = text[:e.Start] + e.NewText + text[e.End:]
	}
	return text, nil
}
