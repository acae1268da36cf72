package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/javahost"
	"github.com/tadfisher/idea-lsp/internal/refactor"
	"github.com/tadfisher/idea-lsp/internal/resolver"
	"github.com/tadfisher/idea-lsp/internal/scanner"
	"github.com/tadfisher/idea-lsp/internal/session"
	"github.com/tadfisher/idea-lsp/internal/workspace"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols <dir>",
	Short: "Print the document symbols of every source file under dir as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSymbols,
}

func runSymbols(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	hctx := host.NewContext(javahost.New(javahost.Options{
		Parsers:    cfg.Parsers,
		Workers:    cfg.Workers,
		Extensions: cfg.FileExtensions,
	}))
	defer hctx.Close()

	w, err := workspace.Open(ctx, hctx, resolver.URIFromPath(dir), workspace.Options{
		SandboxDir: cfg.SandboxDir,
		Exclude:    cfg.Exclude,
	})
	if err != nil {
		return err
	}
	sess := session.New(w, refactor.Options{}, nil)
	defer sess.Close()
	if err := w.ImportProject(ctx); err != nil {
		return err
	}

	files, err := scanner.Files(dir, scanner.Options{Extensions: cfg.FileExtensions, Exclude: cfg.Exclude})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	// The sandboxes may live inside dir.
	sandboxes := filepath.Dir(w.SandboxRoot())
	dump := make(map[protocol.DocumentUri][]protocol.SymbolInformation, len(files))
	for _, file := range files {
		if rel, err := filepath.Rel(sandboxes, file); err == nil && !strings.HasPrefix(rel, "..") {
			continue
		}
		uri := resolver.URIFromPath(file)
		symbols, err := sess.ListSymbols(ctx, uri)
		if err != nil {
			return err
		}
		dump[uri] = symbols
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
