package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/resolver"
)

func TestServeFlagsValidate(t *testing.T) {
	tests := []struct {
		name  string
		flags serveFlags
		err   bool
	}{
		{"stdio", serveFlags{}, false},
		{"port", serveFlags{port: 5007}, false},
		{"pipe pair", serveFlags{pipeRead: "in", pipeWrite: "out"}, false},
		{"half a pipe pair", serveFlags{pipeRead: "in"}, true},
		{"two transports", serveFlags{port: 5007, socket: "/tmp/lsp.sock"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flags.validate()
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSymbolsCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src/main/java/com/example")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "Hello.java"), []byte(`package com.example;

class Hello {
    void greet() {}
}
`), 0o644))

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("sandbox_dir: "+t.TempDir()+"\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"symbols", dir, "--config", cfgFile})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	require.NoError(t, rootCmd.Execute())

	var dump map[string][]protocol.SymbolInformation
	require.NoError(t, json.Unmarshal(out.Bytes(), &dump))
	symbols := dump[resolver.URIFromPath(filepath.Join(src, "Hello.java"))]
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = s.Name
	}
	assert.Contains(t, names, "com.example.Hello")
	assert.Contains(t, names, "greet")
}
