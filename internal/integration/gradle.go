package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tadfisher/idea-lsp/internal/host"
)

var (
	// include ':app', ':lib:core' or include("app")
	gradleInclude = regexp.MustCompile(`(?m)^\s*include\s*\(?\s*((?:["'][^"']+["']\s*,?\s*)+)\)?`)
	gradleQuoted  = regexp.MustCompile(`["']([^"']+)["']`)
	// srcDir 'gen' or srcDirs = ['a', 'b'] or srcDirs("a", "b")
	gradleSrcDirs = regexp.MustCompile(`srcDirs?\s*(?:\+?=)?\s*[\(\[]?\s*((?:["'][^"']+["']\s*,?\s*)+)`)
)

// Gradle reads settings.gradle and build.gradle files, Groovy or Kotlin.
type Gradle struct{}

func (Gradle) ID() string { return "gradle" }

func (g Gradle) Refresh(ctx context.Context, project host.Project) error {
	root := project.Root()
	if _, ok := firstExisting(root, "build.gradle", "build.gradle.kts", "settings.gradle", "settings.gradle.kts"); !ok {
		project.SetSourceRoots(g.ID(), nil)
		return nil
	}

	modules := []string{root}
	if settings, ok := firstExisting(root, "settings.gradle", "settings.gradle.kts"); ok {
		data, err := os.ReadFile(settings)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", settings, err)
		}
		for _, m := range gradleInclude.FindAllStringSubmatch(string(data), -1) {
			for _, q := range gradleQuoted.FindAllStringSubmatch(m[1], -1) {
				path := strings.ReplaceAll(strings.TrimPrefix(q[1], ":"), ":", "/")
				modules = append(modules, filepath.Join(root, filepath.FromSlash(path)))
			}
		}
	}

	var roots []string
	for _, module := range modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		rels := append([]string(nil), conventionalRoots...)
		if build, ok := firstExisting(module, "build.gradle", "build.gradle.kts"); ok {
			data, err := os.ReadFile(build)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", build, err)
			}
			for _, m := range gradleSrcDirs.FindAllStringSubmatch(string(data), -1) {
				for _, q := range gradleQuoted.FindAllStringSubmatch(m[1], -1) {
					rels = append(rels, q[1])
				}
			}
		}
		roots = append(roots, existingDirs(module, rels)...)
	}
	log.Debugf("gradle: %d modules, roots %v", len(modules), roots)
	project.SetSourceRoots(g.ID(), roots)
	return nil
}
