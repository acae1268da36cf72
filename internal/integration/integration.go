// Package integration re-resolves a project's source roots from its build
// files.
package integration

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/tliron/commonlog"

	"github.com/tadfisher/idea-lsp/internal/host"
)

var log = commonlog.GetLogger("idea-lsp.integration")

var conventionalRoots = []string{"src/main/java", "src/test/java"}

// Default returns the integrations registered with every host context.
func Default() []host.Integration {
	return []host.Integration{Gradle{}, Maven{}}
}

// existingDirs joins rels onto base and keeps the directories that exist.
func existingDirs(base string, rels []string) []string {
	var out []string
	for _, rel := range rels {
		dir := rel
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, filepath.FromSlash(rel))
		}
		dir = filepath.Clean(dir)
		if info, err := os.Stat(dir); err == nil && info.IsDir() && !slices.Contains(out, dir) {
			out = append(out, dir)
		}
	}
	return out
}

func firstExisting(dir string, names ...string) (string, bool) {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}
