// scanner is used to scan a directory tree for source files.
package scanner

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("idea-lsp.scanner")

// DefaultExclude is skipped by every scan in addition to dot-directories.
var DefaultExclude = []string{
	"**/build/**",
	"**/target/**",
	"**/out/**",
	"**/node_modules/**",
}

type Options struct {
	// Extensions selects files by suffix, e.g. ".java". Empty selects all.
	Extensions []string
	// Exclude holds doublestar patterns relative to the scanned root.
	Exclude []string
}

// Excluded reports whether rel, a slash-separated path relative to the scan
// root, matches one of patterns. A directory matches when a pattern matches
// anything beneath it.
func Excluded(rel string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel+"/x"); ok && strings.HasSuffix(p, "/**") {
			return true
		}
	}
	return false
}

// Files walks the subtree under root and returns every selected file. Any
// file or directory whose name begins with "." is skipped entirely.
func Files(root string, opts Options) ([]string, error) {
	var files []string
	log.Debugf("starting WalkDir at %q", root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warningf("walk error: %s", err)
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || Excluded(rel, opts.Exclude) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if len(opts.Extensions) > 0 && !slices.Contains(opts.Extensions, filepath.Ext(path)) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}
