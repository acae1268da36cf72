package server_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tadfisher/idea-lsp/internal/config"
	"github.com/tadfisher/idea-lsp/internal/host"
	"github.com/tadfisher/idea-lsp/internal/integration"
	"github.com/tadfisher/idea-lsp/internal/javahost"
	"github.com/tadfisher/idea-lsp/internal/resolver"
	"github.com/tadfisher/idea-lsp/internal/server"
)

const pkgDir = "src/main/java/com/example"

type client struct {
	t      *testing.T
	conn   *jsonrpc2.Conn
	root   string
	notes  chan *jsonrpc2.Request
	exits  chan int
	served chan error
}

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

func newHosts(t *testing.T) *host.Lazy {
	hosts := host.NewLazy(func() (*host.Context, error) {
		return host.NewContext(javahost.New(javahost.Options{Parsers: 2}), integration.Default()...), nil
	})
	t.Cleanup(func() { hosts.Close() })
	return hosts
}

func connect(t *testing.T, hosts *host.Lazy) *client {
	t.Helper()
	root := t.TempDir()
	copyTree(t, "../../testdata/java-project", root)

	c := &client{
		t:      t,
		root:   root,
		notes:  make(chan *jsonrpc2.Request, 32),
		exits:  make(chan int, 1),
		served: make(chan error, 1),
	}
	serverSide, clientSide := net.Pipe()
	srv := server.New(hosts, config.Default(), server.WithExitFunc(func(code int) { c.exits <- code }))
	go func() {
		c.served <- srv.Serve(context.Background(), jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}))
	}()

	c.conn = jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
			select {
			case c.notes <- req:
			default:
			}
			return nil, nil
		}))
	t.Cleanup(func() {
		c.conn.Close()
		select {
		case <-c.served:
		case <-time.After(20 * time.Second):
			t.Error("server did not stop")
		}
	})
	return c
}

func (c *client) uri(name string) string {
	return resolver.URIFromPath(filepath.Join(c.root, pkgDir, name))
}

func (c *client) call(method string, params, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.conn.Call(ctx, method, params, result)
}

func (c *client) notify(method string, params any) {
	require.NoError(c.t, c.conn.Notify(context.Background(), method, params))
}

func (c *client) initialize() {
	c.t.Helper()
	var result map[string]any
	require.NoError(c.t, c.call("initialize", map[string]any{
		"rootUri":               resolver.URIFromPath(c.root),
		"capabilities":          map[string]any{},
		"initializationOptions": map[string]any{"sandbox_dir": c.t.TempDir()},
	}, &result))
	c.notify("initialized", map[string]any{})
}

func (c *client) waitNotification(method string) *jsonrpc2.Request {
	c.t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.notes:
			if req.Method == method {
				return req
			}
		case <-timeout:
			c.t.Fatalf("no %s notification", method)
			return nil
		}
	}
}

func rpcCode(t *testing.T, err error) int64 {
	t.Helper()
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr), "expected a JSON-RPC error, got %v", err)
	return rpcErr.Code
}

func position(uri string, line, char uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
		Position:     protocol.Position{Line: line, Character: char},
	}
}

func TestRequestBeforeInitialize(t *testing.T) {
	c := connect(t, newHosts(t))
	uri := c.uri("Definition.java")

	var locations []protocol.Location
	err := c.call("textDocument/definition", protocol.DefinitionParams{TextDocumentPositionParams: position(uri, 6, 19)}, &locations)
	assert.EqualValues(t, -32002, rpcCode(t, err))
}

func TestInitializeRequiresRootURI(t *testing.T) {
	c := connect(t, newHosts(t))
	var result map[string]any
	err := c.call("initialize", map[string]any{"capabilities": map[string]any{}}, &result)
	assert.EqualValues(t, jsonrpc2.CodeInvalidParams, rpcCode(t, err))
}

func TestInitializeAdvertisesCapabilities(t *testing.T) {
	c := connect(t, newHosts(t))
	var result struct {
		Capabilities struct {
			TextDocumentSync struct {
				OpenClose bool `json:"openClose"`
				Change    int  `json:"change"`
			} `json:"textDocumentSync"`
			CompletionProvider struct {
				TriggerCharacters []string `json:"triggerCharacters"`
			} `json:"completionProvider"`
			HoverProvider                   bool `json:"hoverProvider"`
			DefinitionProvider              bool `json:"definitionProvider"`
			ReferencesProvider              bool `json:"referencesProvider"`
			DocumentHighlightProvider       bool `json:"documentHighlightProvider"`
			DocumentSymbolProvider          bool `json:"documentSymbolProvider"`
			WorkspaceSymbolProvider         bool `json:"workspaceSymbolProvider"`
			DocumentFormattingProvider      bool `json:"documentFormattingProvider"`
			DocumentRangeFormattingProvider bool `json:"documentRangeFormattingProvider"`
			CodeActionProvider              bool `json:"codeActionProvider"`
			CodeLensProvider                any  `json:"codeLensProvider"`
			RenameProvider                  bool `json:"renameProvider"`
		} `json:"capabilities"`
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	require.NoError(t, c.call("initialize", map[string]any{
		"rootUri":               resolver.URIFromPath(c.root),
		"capabilities":          map[string]any{},
		"initializationOptions": map[string]any{"sandbox_dir": t.TempDir()},
	}, &result))

	caps := result.Capabilities
	assert.True(t, caps.TextDocumentSync.OpenClose)
	assert.Equal(t, int(protocol.TextDocumentSyncKindIncremental), caps.TextDocumentSync.Change)
	assert.Equal(t, []string{".", "@", "#"}, caps.CompletionProvider.TriggerCharacters)
	assert.True(t, caps.HoverProvider)
	assert.True(t, caps.DefinitionProvider)
	assert.True(t, caps.ReferencesProvider)
	assert.True(t, caps.DocumentHighlightProvider)
	assert.True(t, caps.DocumentSymbolProvider)
	assert.True(t, caps.WorkspaceSymbolProvider)
	assert.True(t, caps.DocumentFormattingProvider)
	assert.True(t, caps.DocumentRangeFormattingProvider)
	assert.True(t, caps.CodeActionProvider)
	assert.NotNil(t, caps.CodeLensProvider)
	assert.True(t, caps.RenameProvider)
	assert.Equal(t, server.Name, result.ServerInfo.Name)

	// A second initialize is rejected.
	err := c.call("initialize", map[string]any{"rootUri": resolver.URIFromPath(c.root), "capabilities": map[string]any{}}, &result)
	assert.EqualValues(t, jsonrpc2.CodeInvalidRequest, rpcCode(t, err))
}

func TestDefinition(t *testing.T) {
	c := connect(t, newHosts(t))
	c.initialize()
	uri := c.uri("Definition.java")

	var locations []protocol.Location
	require.NoError(t, c.call("textDocument/definition", protocol.DefinitionParams{TextDocumentPositionParams: position(uri, 6, 19)}, &locations))
	assert.Equal(t, []protocol.Location{{
		URI: uri,
		Range: protocol.Range{
			Start: protocol.Position{Line: 3, Character: 32},
			End:   protocol.Position{Line: 3, Character: 37},
		},
	}}, locations)

	// Unknown documents navigate nowhere.
	require.NoError(t, c.call("textDocument/definition", protocol.DefinitionParams{
		TextDocumentPositionParams: position(resolver.URIFromPath(filepath.Join(c.root, "Missing.java")), 0, 0),
	}, &locations))
	assert.Empty(t, locations)
}

func TestChangeIsAppliedBeforeLaterRequests(t *testing.T) {
	c := connect(t, newHosts(t))
	c.initialize()
	uri := c.uri("Definition.java")

	c.notify("textDocument/didChange", protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			Version:                2,
		},
		ContentChanges: []any{
			protocol.TextDocumentContentChangeEvent{
				Range: &protocol.Range{
					Start: protocol.Position{Line: 0, Character: 0},
					End:   protocol.Position{Line: 0, Character: 0},
				},
				Text: "// header\n",
			},
		},
	})

	var locations []protocol.Location
	require.NoError(t, c.call("textDocument/definition", protocol.DefinitionParams{TextDocumentPositionParams: position(uri, 7, 19)}, &locations))
	require.Len(t, locations, 1)
	assert.Equal(t, protocol.Position{Line: 4, Character: 32}, locations[0].Range.Start)
}

func TestReferencesAndSymbols(t *testing.T) {
	c := connect(t, newHosts(t))
	c.initialize()
	uri := c.uri("Definition.java")

	var refs []protocol.Location
	require.NoError(t, c.call("textDocument/references", protocol.ReferenceParams{
		TextDocumentPositionParams: position(uri, 3, 34),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: true},
	}, &refs))
	require.Len(t, refs, 2)
	assert.Equal(t, protocol.Position{Line: 6, Character: 19}, refs[0].Range.Start)
	assert.Equal(t, protocol.Position{Line: 3, Character: 32}, refs[1].Range.Start)

	var symbols []protocol.SymbolInformation
	require.NoError(t, c.call("textDocument/documentSymbol", protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}, &symbols))
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = s.Name
	}
	assert.Contains(t, names, "CONST")
	assert.Contains(t, names, "constant")
	assert.Contains(t, names, "call")

	var found []protocol.SymbolInformation
	require.NoError(t, c.call("workspace/symbol", protocol.WorkspaceSymbolParams{Query: "PackagPrivate"}, &found))
	names = names[:0]
	for _, s := range found {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "PackagePrivate")
	assert.NotContains(t, names, "CONST")
}

func TestRename(t *testing.T) {
	c := connect(t, newHosts(t))
	c.initialize()
	uri := c.uri("Definition.java")

	var edit protocol.WorkspaceEdit
	require.NoError(t, c.call("textDocument/rename", protocol.RenameParams{
		TextDocumentPositionParams: position(uri, 6, 19),
		NewName:                    "LIMIT",
	}, &edit))
	require.Len(t, edit.Changes[uri], 2)
	assert.Equal(t, protocol.Position{Line: 6, Character: 19}, edit.Changes[uri][0].Range.Start)
	assert.Equal(t, protocol.Position{Line: 3, Character: 32}, edit.Changes[uri][1].Range.Start)
}

func TestRenameConflictIsReported(t *testing.T) {
	c := connect(t, newHosts(t))
	c.initialize()
	uri := c.uri("Definition.java")
	before, err := os.ReadFile(filepath.Join(c.root, pkgDir, "Definition.java"))
	require.NoError(t, err)

	var edit protocol.WorkspaceEdit
	err = c.call("textDocument/rename", protocol.RenameParams{
		TextDocumentPositionParams: position(uri, 5, 18),
		NewName:                    "call",
	}, &edit)
	assert.EqualValues(t, -32803, rpcCode(t, err))

	note := c.waitNotification(server.MethodConflictsDetected)
	require.NotNil(t, note.Params)
	assert.Contains(t, string(*note.Params), "refactoring.rename")
	c.waitNotification("window/showMessage")

	after, err := os.ReadFile(filepath.Join(c.root, pkgDir, "Definition.java"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUnimplementedMethods(t *testing.T) {
	c := connect(t, newHosts(t))
	c.initialize()
	uri := c.uri("Definition.java")

	var hover any
	err := c.call("textDocument/hover", protocol.HoverParams{TextDocumentPositionParams: position(uri, 6, 19)}, &hover)
	require.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcCode(t, err))
	assert.Contains(t, err.Error(), "not implemented: textDocument/hover")
}

func TestShutdownAndExit(t *testing.T) {
	c := connect(t, newHosts(t))
	c.initialize()

	require.NoError(t, c.call("shutdown", nil, nil))

	err := c.call("shutdown", nil, nil)
	assert.EqualValues(t, jsonrpc2.CodeInvalidRequest, rpcCode(t, err))

	var locations []protocol.Location
	err = c.call("textDocument/definition", protocol.DefinitionParams{TextDocumentPositionParams: position(c.uri("Definition.java"), 6, 19)}, &locations)
	assert.EqualValues(t, jsonrpc2.CodeInvalidRequest, rpcCode(t, err))

	c.notify("exit", nil)
	select {
	case code := <-c.exits:
		assert.Equal(t, 0, code)
	case <-time.After(10 * time.Second):
		t.Fatal("exit was not handled")
	}
}

func TestExitWithoutShutdown(t *testing.T) {
	c := connect(t, newHosts(t))
	c.initialize()

	c.notify("exit", nil)
	select {
	case code := <-c.exits:
		assert.Equal(t, 1, code)
	case <-time.After(10 * time.Second):
		t.Fatal("exit was not handled")
	}
}

func TestConnectionsHaveSeparateWorkspaces(t *testing.T) {
	hosts := newHosts(t)
	a := connect(t, hosts)
	b := connect(t, hosts)
	a.initialize()
	b.initialize()

	var locations []protocol.Location
	require.NoError(t, a.call("textDocument/definition", protocol.DefinitionParams{TextDocumentPositionParams: position(a.uri("Definition.java"), 6, 19)}, &locations))
	require.Len(t, locations, 1)
	assert.Equal(t, a.uri("Definition.java"), locations[0].URI)

	require.NoError(t, a.call("shutdown", nil, nil))

	require.NoError(t, b.call("textDocument/definition", protocol.DefinitionParams{TextDocumentPositionParams: position(b.uri("Definition.java"), 6, 19)}, &locations))
	require.Len(t, locations, 1)
	assert.Equal(t, b.uri("Definition.java"), locations[0].URI)
}
