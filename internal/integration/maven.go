package integration

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tadfisher/idea-lsp/internal/host"
)

type pom struct {
	Modules []string `xml:"modules>module"`
	Build   struct {
		SourceDirectory     string `xml:"sourceDirectory"`
		TestSourceDirectory string `xml:"testSourceDirectory"`
	} `xml:"build"`
}

// Maven reads pom.xml files, following <modules>.
type Maven struct{}

func (Maven) ID() string { return "maven" }

func (m Maven) Refresh(ctx context.Context, project host.Project) error {
	root := project.Root()
	if _, ok := firstExisting(root, "pom.xml"); !ok {
		project.SetSourceRoots(m.ID(), nil)
		return nil
	}
	roots, err := m.module(ctx, root, map[string]bool{})
	if err != nil {
		return err
	}
	log.Debugf("maven: roots %v", roots)
	project.SetSourceRoots(m.ID(), roots)
	return nil
}

func (m Maven) module(ctx context.Context, dir string, seen map[string]bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if seen[dir] {
		return nil, nil
	}
	seen[dir] = true

	path := filepath.Join(dir, "pom.xml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var p pom
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	main, test := conventionalRoots[0], conventionalRoots[1]
	if p.Build.SourceDirectory != "" {
		main = p.Build.SourceDirectory
	}
	if p.Build.TestSourceDirectory != "" {
		test = p.Build.TestSourceDirectory
	}
	roots := existingDirs(dir, []string{main, test})
	for _, module := range p.Modules {
		sub, err := m.module(ctx, filepath.Join(dir, filepath.FromSlash(module)), seen)
		if err != nil {
			return nil, err
		}
		roots = append(roots, sub...)
	}
	return roots, nil
}
