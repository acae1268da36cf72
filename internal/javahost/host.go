// Package javahost is a project host for Java sources. It keeps tree-sitter
// syntax trees for every document, indexes declarations and identifier
// occurrences in SQLite, and resolves names the way javac scopes them.
package javahost

import (
	"context"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/index"
	"github.com/tadfisher/idea-lsp/internal/parser"
)

var log = commonlog.GetLogger("idea-lsp.javahost")

type Options struct {
	// Parsers is the size of the shared parser pool.
	Parsers int
	// Workers bounds parallel parsing while indexing.
	Workers int
	// Extensions selects source files. Defaults to ".java".
	Extensions []string
}

// Host loads Java projects. Parsers are shared between projects.
type Host struct {
	opts    Options
	parsers *parser.Pool
}

var _ host.Host = (*Host)(nil)

func New(opts Options) *Host {
	if opts.Parsers < 1 {
		opts.Parsers = 4
	}
	if opts.Workers < 1 {
		opts.Workers = opts.Parsers
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".java"}
	}
	return &Host{opts: opts, parsers: parser.NewPool(opts.Parsers)}
}

// Import opens the project rooted at dir and starts indexing it.
func (h *Host) Import(ctx context.Context, dir string, opts host.ImportOptions) (host.Project, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open project: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to open project: %s is not a directory", dir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix, err := index.Open("")
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	p := newProject(dir, h, opts, ix)
	log.Infof("imported project %s", dir)
	p.requestReindex()
	return p, nil
}

func (h *Host) Close() error {
	return h.parsers.Close()
}
