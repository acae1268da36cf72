package refactor_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/javahost"
	"github.com/tadfisher/idea-lsp/internal/refactor"
	"github.com/tadfisher/idea-lsp/internal/sitteradapter"
)

const pkgDir = "src/main/java/com/example"

func copyTree(t *testing.T, src, dst string) {
	t.Helper()
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, path)
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	require.NoError(t, err)
}

func openProject(t *testing.T, extra map[string]string) (host.Project, string) {
	t.Helper()
	root := t.TempDir()
	copyTree(t, "../../testdata/java-project", root)
	for rel, content := range extra {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	h := javahost.New(javahost.Options{Parsers: 2})
	t.Cleanup(func() { h.Close() })
	p, err := h.Import(context.Background(), root, host.ImportOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.WaitSmart(ctx))
	return p, root
}

func offsetIn(t *testing.T, text string, line, char int) int {
	t.Helper()
	off, err := sitteradapter.Offset(text, line, char)
	require.NoError(t, err)
	return off
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRenameField(t *testing.T) {
	p, root := openProject(t, nil)
	path := filepath.Join(root, pkgDir, "Definition.java")
	text := readFile(t, path)

	r := refactor.New(refactor.Options{}, nil)
	res, err := r.Rename(context.Background(), p, path, offsetIn(t, text, 6, 19), "LIMIT")
	require.NoError(t, err)
	require.Equal(t, []string{path}, res.Paths())

	edits := res[path]
	require.Len(t, edits, 2)
	assert.Equal(t, offsetIn(t, text, 6, 19), edits[0].Start)
	assert.Equal(t, offsetIn(t, text, 3, 32), edits[1].Start)

	renamed, err := refactor.Apply(text, edits)
	require.NoError(t, err)
	assert.Contains(t, renamed, `private static final String LIMIT = "constant";`)
	assert.Contains(t, renamed, `String s = LIMIT;`)
	assert.NotContains(t, renamed, "CONST")

	// Computing a rename leaves the sources alone.
	assert.Equal(t, text, readFile(t, path))
}

func TestApplyOrder(t *testing.T) {
	p, root := openProject(t, nil)
	path := filepath.Join(root, pkgDir, "Definition.java")
	text := readFile(t, path)

	r := refactor.New(refactor.Options{}, nil)
	res, err := r.Rename(context.Background(), p, path, offsetIn(t, text, 3, 32), "MAXIMUM_LENGTH")
	require.NoError(t, err)
	edits := res[path]
	require.Len(t, edits, 2)

	descending, err := refactor.Apply(text, edits)
	require.NoError(t, err)
	assert.Contains(t, descending, "String s = MAXIMUM_LENGTH;")

	ascending := slices.Clone(edits)
	slices.Reverse(ascending)
	corrupted, err := refactor.Apply(text, ascending)
	require.NoError(t, err)
	assert.NotEqual(t, descending, corrupted)
	assert.NotContains(t, corrupted, "String s = MAXIMUM_LENGTH;")
}

func TestRenameClassWithConstructorsAndVariables(t *testing.T) {
	src := `package com.example;

class Widget {
    Widget() {}
    Widget(int size) {}

    static Widget make() {
        Widget widget = new Widget();
        return widget;
    }
}
`
	p, root := openProject(t, map[string]string{pkgDir + "/Widget.java": src})
	path := filepath.Join(root, pkgDir, "Widget.java")

	r := refactor.New(refactor.Options{RenameVariables: true}, nil)
	res, err := r.Rename(context.Background(), p, path, offsetIn(t, src, 2, 6), "Gadget")
	require.NoError(t, err)
	require.Len(t, res[path], 8)

	renamed, err := refactor.Apply(src, res[path])
	require.NoError(t, err)
	assert.Equal(t, `package com.example;

class Gadget {
    Gadget() {}
    Gadget(int size) {}

    static Gadget make() {
        Gadget gadget = new Gadget();
        return gadget;
    }
}
`, renamed)

	r = refactor.New(refactor.Options{}, nil)
	res, err = r.Rename(context.Background(), p, path, offsetIn(t, src, 2, 6), "Gadget")
	require.NoError(t, err)
	renamed, err = refactor.Apply(src, res[path])
	require.NoError(t, err)
	assert.Contains(t, renamed, "Gadget widget = new Gadget();")
}

func TestRenameConflictHasNoSideEffects(t *testing.T) {
	src := `package com.example;

class Conflicts {
    int count;

    void run(int first) {
        int second = count;
    }
}
`
	p, root := openProject(t, map[string]string{pkgDir + "/Conflicts.java": src})
	path := filepath.Join(root, pkgDir, "Conflicts.java")
	doc, err := p.Document(path)
	require.NoError(t, err)

	var events []string
	var reported []host.Conflict
	r := refactor.New(refactor.Options{SearchTextOccurrences: true}, refactor.ListenerFunc(
		func(id string, conflicts []host.Conflict) {
			events = append(events, id)
			reported = conflicts
		}))

	res, err := r.Rename(context.Background(), p, path, offsetIn(t, src, 3, 8), "first")
	assert.Nil(t, res)
	var conflictErr *refactor.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, refactor.RenameRefactoringID, conflictErr.RefactoringID)
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, "Field count will be hidden by variable first", conflictErr.Conflicts[0].Message)
	assert.Equal(t, []string{refactor.RenameRefactoringID}, events)
	assert.Equal(t, conflictErr.Conflicts, reported)

	assert.Equal(t, src, readFile(t, path))
	assert.Equal(t, src, doc.Text())
	assert.False(t, doc.Modified())
}

func TestRenameInvalidIdentifier(t *testing.T) {
	p, root := openProject(t, nil)
	path := filepath.Join(root, pkgDir, "Definition.java")
	text := readFile(t, path)

	_, err := refactor.New(refactor.Options{}, nil).Rename(context.Background(), p, path, offsetIn(t, text, 3, 32), "class")
	var conflictErr *refactor.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Contains(t, err.Error(), "not a valid identifier")
}

func TestRenameTextOccurrences(t *testing.T) {
	p, root := openProject(t, nil)
	path := filepath.Join(root, pkgDir, "Definition.java")
	text := readFile(t, path)
	method := offsetIn(t, text, 5, 18)

	res, err := refactor.New(refactor.Options{}, nil).Rename(context.Background(), p, path, method, "value")
	require.NoError(t, err)
	require.Len(t, res[path], 1)
	assert.False(t, res[path][0].NonCode)

	res, err = refactor.New(refactor.Options{SearchTextOccurrences: true}, nil).Rename(context.Background(), p, path, method, "value")
	require.NoError(t, err)
	require.Len(t, res[path], 2)
	assert.Equal(t, method, res[path][0].Start)
	assert.True(t, res[path][1].NonCode)
	assert.Equal(t, offsetIn(t, text, 3, 41), res[path][1].Start)
}

func TestRenameWithoutTarget(t *testing.T) {
	p, root := openProject(t, nil)
	path := filepath.Join(root, pkgDir, "Definition.java")
	text := readFile(t, path)

	res, err := refactor.New(refactor.Options{}, nil).Rename(context.Background(), p, path, offsetIn(t, text, 1, 0), "x")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestTarget(t *testing.T) {
	p, root := openProject(t, nil)
	path := filepath.Join(root, pkgDir, "Definition.java")
	text := readFile(t, path)

	// A reference resolves to its declaration.
	target, err := refactor.Target(p, path, offsetIn(t, text, 12, 12))
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "aMethod", target.Name())
	assert.Equal(t, filepath.Join(root, pkgDir, "PackagePrivate.java"), target.Path())

	// Right after the name still counts.
	target, err = refactor.Target(p, path, offsetIn(t, text, 3, 37))
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "CONST", target.Name())

	// Inside a body but not on a name.
	target, err = refactor.Target(p, path, offsetIn(t, text, 7, 8))
	require.NoError(t, err)
	assert.Nil(t, target)
}

func TestApplyOutOfRange(t *testing.T) {
	_, err := refactor.Apply("abc", []refactor.Edit{{Start: 2, End: 5, NewText: "x"}})
	assert.Error(t, err)

	out, err := refactor.Apply("abc", []refactor.Edit{{Start: 1, End: 2, NewText: "xyz"}, {Start: 0, End: 1, NewText: ""}})
	require.NoError(t, err)
	assert.Equal(t, "xyzc", out)
}
