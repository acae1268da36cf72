package scanner_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadfisher/idea-lsp/internal/scanner"
)

func touch(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "src/main/java/A.java")
	touch(t, root, "src/main/java/B.kt")
	touch(t, root, "src/test/java/ATest.java")
	touch(t, root, ".git/objects/X.java")
	touch(t, root, "build/generated/G.java")
	touch(t, root, "README.md")

	files, err := scanner.Files(root, scanner.Options{
		Extensions: []string{".java"},
		Exclude:    scanner.DefaultExclude,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "src/main/java/A.java"),
		filepath.Join(root, "src/test/java/ATest.java"),
	}, files)
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		rel      string
		patterns []string
		want     bool
	}{
		{"build", []string{"**/build/**"}, true},
		{"sub/build/x.java", []string{"**/build/**"}, true},
		{"builder/x.java", []string{"**/build/**"}, false},
		{"src/Gen.java", []string{"**/Gen.java"}, true},
		{"src/A.java", nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scanner.Excluded(tt.rel, tt.patterns), tt.rel)
	}
}
